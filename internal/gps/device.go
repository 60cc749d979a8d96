package gps

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"go.bug.st/serial"
	"tailscale.com/tsweb"

	"github.com/banshee-data/trackheat/internal/timeutil"
	"github.com/banshee-data/trackheat/internal/tracking"
)

// Opener opens the receiver's port.
type Opener func(path string, opts PortOptions) (SerialPorter, error)

// OpenSerial opens a real serial port and maps failures onto the tracking
// error taxonomy: a missing device is unsupported, an unreadable one is a
// permission problem.
func OpenSerial(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, classifyOpenError(path, err)
	}
	return port, nil
}

func classifyOpenError(path string, err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound, serial.InvalidSerialPort:
			return fmt.Errorf("%w: %s: %v", tracking.ErrServiceUnsupported, path, err)
		case serial.PermissionDenied:
			return fmt.Errorf("%w: %s: %v", tracking.ErrPermissionDenied, path, err)
		}
	}
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %s: %v", tracking.ErrServiceUnsupported, path, err)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %s: %v", tracking.ErrPermissionDenied, path, err)
	}
	return fmt.Errorf("failed to open %s: %w", path, err)
}

// Device is a tracking.PositionSource backed by a receiver on a port. The
// port is opened on the first request and again after the receiver goes
// away, so unplugging it ends the current session but not the next one.
type Device struct {
	path         string
	opts         PortOptions
	open         Opener
	initCommands []string
	clock        timeutil.Clock

	mu     sync.Mutex
	mux    *Mux[SerialPorter]
	rx     *Receiver
	cancel context.CancelFunc
}

// DeviceOption configures a Device.
type DeviceOption func(*Device)

// WithOpener replaces the port opener, e.g. with a replay port.
func WithOpener(open Opener) DeviceOption {
	return func(d *Device) { d.open = open }
}

// WithInitCommands sends each command to the receiver after opening it.
func WithInitCommands(cmds ...string) DeviceOption {
	return func(d *Device) { d.initCommands = cmds }
}

// WithDeviceClock sets the clock used to stamp fixes lacking a date.
func WithDeviceClock(c timeutil.Clock) DeviceOption {
	return func(d *Device) { d.clock = c }
}

// NewDevice returns an unopened device at path.
func NewDevice(path string, opts PortOptions, options ...DeviceOption) *Device {
	d := &Device{path: path, opts: opts, open: OpenSerial, clock: timeutil.RealClock{}}
	for _, o := range options {
		o(d)
	}
	return d
}

// GetPosition implements tracking.PositionSource.
func (d *Device) GetPosition(ctx context.Context, req tracking.Request) (*tracking.Position, error) {
	rx, err := d.connect()
	if err != nil {
		return nil, err
	}
	pos, err := rx.GetPosition(ctx, req)
	if errors.Is(err, tracking.ErrServiceDisabled) {
		d.disconnect(rx)
	}
	return pos, err
}

func (d *Device) connect() (*Receiver, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.rx != nil {
		return d.rx, nil
	}

	port, err := d.open(d.path, d.opts)
	if err != nil {
		return nil, err
	}
	mux := NewMux[SerialPorter](port)
	for _, cmd := range d.initCommands {
		if err := mux.SendCommand(cmd); err != nil {
			mux.Close()
			return nil, fmt.Errorf("failed to send init command %q: %w", cmd, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	rx := NewReceiver(mux, d.clock)
	go func() {
		if err := mux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logf("monitor on %s ended: %v", d.path, err)
		}
	}()

	d.mux, d.rx, d.cancel = mux, rx, cancel
	logf("opened receiver on %s", d.path)
	return rx, nil
}

func (d *Device) disconnect(rx *Receiver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rx != rx {
		return
	}
	d.closeLocked()
	logf("receiver on %s went away", d.path)
}

func (d *Device) closeLocked() error {
	if d.mux == nil {
		return nil
	}
	d.cancel()
	err := d.mux.Close()
	d.mux, d.rx, d.cancel = nil, nil, nil
	return err
}

// Connected reports whether the port is currently open.
func (d *Device) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rx != nil
}

// Close releases the port if it is open.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeLocked()
}

// AttachAdminRoutes mounts a raw NMEA tail (server-sent events) under
// /debug/gps-tail on mux.
func (d *Device) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleSilentFunc("gps-tail", d.serveTail)
}

func (d *Device) serveTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	d.mu.Lock()
	lines := d.mux
	d.mu.Unlock()
	if lines == nil {
		http.Error(w, "receiver not connected", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id, ch := lines.Subscribe()
	defer lines.Unsubscribe(id)

	flusher, _ := w.(http.Flusher)
	fmt.Fprint(w, ": ping\n\n")
	if flusher != nil {
		flusher.Flush()
	}

	for {
		select {
		case line, ok := <-ch:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

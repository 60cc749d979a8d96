// Package gps reads NMEA 0183 sentences from a serial GPS receiver and turns
// them into position fixes for the tracking loop.
package gps

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/banshee-data/trackheat/internal/monitoring"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

var logf = monitoring.Prefixed("gps")

// subscriberBuffer absorbs short stalls in a subscriber; lines beyond it are
// dropped for that subscriber only.
const subscriberBuffer = 16

// Mux fans the lines read from one port out to any number of subscribers.
type Mux[T SerialPorter] struct {
	port         T
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closed       bool
}

// NewMux wraps port. Nothing is read until Monitor runs.
func NewMux[T SerialPorter](port T) *Mux[T] {
	return &Mux[T]{
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a new line channel. The channel is closed when the
// subscriber leaves, the mux is closed or the port stops producing lines.
func (m *Mux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, subscriberBuffer)

	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if m.closed {
		close(ch)
		return id, ch
	}
	m.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (m *Mux[T]) Unsubscribe(id string) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

// SendCommand writes one configuration sentence (for example a $PMTK rate
// command) to the receiver, terminated with CRLF.
func (m *Mux[T]) SendCommand(command string) error {
	m.commandMu.Lock()
	defer m.commandMu.Unlock()

	command = strings.TrimRight(command, "\r\n") + "\r\n"
	n, err := m.port.Write([]byte(command))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads lines until ctx ends or the port stops producing data. When
// the port ends, every subscriber channel is closed so readers can tell the
// device has gone away.
func (m *Mux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(m.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// Scan blocks, so it runs on its own goroutine and the loop below stays
	// responsive to ctx.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErrChan <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case line, ok := <-lineChan:
			if !ok {
				m.closeSubscribers()
				select {
				case err := <-scanErrChan:
					return fmt.Errorf("serial read failed: %w", err)
				default:
					return nil
				}
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			m.broadcast(line)
		}
	}
}

func (m *Mux[T]) broadcast(line string) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
}

func (m *Mux[T]) closeSubscribers() {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	m.closed = true
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
}

// Close closes every subscriber and the underlying port.
func (m *Mux[T]) Close() error {
	m.closeSubscribers()
	return m.port.Close()
}

package gps

import (
	"bufio"
	"bytes"
	"embed"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/trackheat/internal/timeutil"
)

//go:embed replay/*.nmea
var replayFS embed.FS

// DefaultReplay is the embedded walk used when no fixture file is given.
const DefaultReplay = "replay/walk.nmea"

// ReplayPort plays a fixed list of NMEA lines on a loop, one line per tick,
// for development without a receiver attached. Writes are logged and
// discarded.
type ReplayPort struct {
	r      *io.PipeReader
	w      *io.PipeWriter
	stop   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	writes bytes.Buffer
}

// NewReplayPort starts replaying lines every interval. If loop is false the
// port reaches EOF after the last line, which looks like the device going
// away.
func NewReplayPort(lines []string, interval time.Duration, clock timeutil.Clock, loop bool) *ReplayPort {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	r, w := io.Pipe()
	p := &ReplayPort{r: r, w: w, stop: make(chan struct{})}
	go p.play(lines, clock.NewTicker(interval), loop)
	return p
}

func (p *ReplayPort) play(lines []string, ticker timeutil.Ticker, loop bool) {
	defer p.w.Close()
	defer ticker.Stop()
	if len(lines) == 0 {
		return
	}

	for i := 0; ; i++ {
		if i == len(lines) {
			if !loop {
				return
			}
			i = 0
		}
		select {
		case <-p.stop:
			return
		case <-ticker.C():
		}
		if _, err := io.WriteString(p.w, lines[i]+"\r\n"); err != nil {
			return
		}
	}
}

func (p *ReplayPort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *ReplayPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	logf("replay port ignoring command %q", strings.TrimSpace(string(b)))
	return p.writes.Write(b)
}

// Written returns everything written to the port so far.
func (p *ReplayPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes.String()
}

func (p *ReplayPort) Close() error {
	p.once.Do(func() { close(p.stop) })
	return p.r.Close()
}

// LoadReplay reads NMEA lines from path, or from the embedded default walk
// when path is empty. Blank lines and lines starting with '#' are skipped.
func LoadReplay(path string) ([]string, error) {
	var (
		data []byte
		err  error
	)
	if path == "" {
		data, err = replayFS.ReadFile(DefaultReplay)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read replay fixture: %w", err)
	}

	var lines []string
	scan := bufio.NewScanner(bytes.NewReader(data))
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("replay fixture %q has no sentences", path)
	}
	return lines, nil
}

package gps

import (
	"bytes"
	"io"
	"sync"
)

// Sentences shared by the tests. Checksums are valid.
const (
	ggaWestminster  = "$GPGGA,090000.00,5130.0420,N,00007.4760,W,1,08,0.9,21.4,M,47.0,M,,*41"
	ggaNoFix        = "$GPGGA,090000.00,5130.0420,N,00007.4760,W,0,00,99.99,0.0,M,0.0,M,,*45"
	rmcWestminster  = "$GPRMC,090000.00,A,5130.0420,N,00007.4760,W,2.7,74.2,140326,,,A*70"
	rmcVoid         = "$GPRMC,090010.00,V,5130.0420,N,00007.4760,W,0.0,0.0,140326,,,N*5D"
	rmcNoDate       = "$GPRMC,090000.00,A,5130.0420,N,00007.4760,W,2.7,74.2,,,,A*72"
	rmcMunichGNSS   = "$GNRMC,123519.50,A,4807.0380,N,01131.0000,E,022.4,084.4,230326,003.1,W*56"
	badChecksumLine = "$GPRMC,090000.00,A,5130.0420,N,00007.4760,W,2.7,74.2,140326,,,A*00"
)

// pipePort is an in-memory serial port: tests write device output into
// feed and read what the code under test sent from written.
type pipePort struct {
	r    *io.PipeReader
	feed *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
	closed  bool
}

func newPipePort() *pipePort {
	r, w := io.Pipe()
	return &pipePort{r: r, feed: w}
}

func (p *pipePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *pipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *pipePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.feed.Close()
	return p.r.Close()
}

func (p *pipePort) send(lines ...string) {
	for _, l := range lines {
		io.WriteString(p.feed, l+"\r\n")
	}
}

func (p *pipePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func (p *pipePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// chanLines is a LineSource over a single channel the test controls.
type chanLines struct {
	ch           chan string
	unsubscribed chan string
}

func newChanLines() *chanLines {
	return &chanLines{ch: make(chan string, 16), unsubscribed: make(chan string, 1)}
}

func (c *chanLines) Subscribe() (string, chan string) { return "test", c.ch }
func (c *chanLines) Unsubscribe(id string)            { c.unsubscribed <- id }

package gps

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/trackheat/internal/testutil"
	"github.com/banshee-data/trackheat/internal/timeutil"
)

func TestLoadReplay_DefaultWalkParses(t *testing.T) {
	lines, err := LoadReplay("")
	require.NoError(t, err)
	require.NotEmpty(t, lines)

	rmc := 0
	for _, line := range lines {
		s, err := nmea.Parse(line)
		require.NoError(t, err, line)
		if _, ok := s.(nmea.RMC); ok {
			rmc++
		}
	}
	assert.Equal(t, len(lines)/2, rmc)
}

func TestLoadReplay_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fix.nmea")
	require.NoError(t, os.WriteFile(path, []byte("# comment\n\n"+rmcWestminster+"\n"), 0o644))

	lines, err := LoadReplay(path)
	require.NoError(t, err)
	assert.Equal(t, []string{rmcWestminster}, lines)

	empty := filepath.Join(t.TempDir(), "empty.nmea")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing\n"), 0o644))
	_, err = LoadReplay(empty)
	assert.Error(t, err)

	_, err = LoadReplay(filepath.Join(t.TempDir(), "missing.nmea"))
	assert.Error(t, err)
}

func TestReplayPort_EmitsOneLinePerTick(t *testing.T) {
	clock := timeutil.NewMockClock(testutil.BaseTime)
	port := NewReplayPort([]string{ggaWestminster, rmcWestminster}, time.Second, clock, true)
	defer port.Close()

	lines := make(chan string)
	go func() {
		scan := bufio.NewScanner(port)
		for scan.Scan() {
			lines <- scan.Text()
		}
		close(lines)
	}()

	next := func() string {
		clock.Advance(time.Second)
		select {
		case l := <-lines:
			return strings.TrimSpace(l)
		case <-time.After(2 * time.Second):
			t.Fatal("no line replayed")
			return ""
		}
	}
	assert.Equal(t, ggaWestminster, next())
	assert.Equal(t, rmcWestminster, next())
	assert.Equal(t, ggaWestminster, next(), "replay loops")
}

func TestReplayPort_EndsWithoutLoop(t *testing.T) {
	testutil.MuteLogs(t)
	port := NewReplayPort([]string{rmcWestminster}, time.Millisecond, nil, false)
	defer port.Close()

	m := NewMux[SerialPorter](port)
	rx := NewReceiver(m, nil)
	go m.Monitor(t.Context())

	select {
	case <-rx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not see the end of the replay")
	}

	_, err := port.Write([]byte("$PMTK220,1000*1F\r\n"))
	require.NoError(t, err)
	assert.Contains(t, port.Written(), "PMTK220")
}

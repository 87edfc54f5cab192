package ebb

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Simulator is an in-memory EBB stand-in implementing
// io.ReadWriteCloser, used to exercise Driver's protocol framing
// without real hardware. It mirrors the request/response shape of
// driver/mjolnir/sim.go's channel-driven Simulator, but since the
// EBB's ASCII protocol is fully synchronous per command (one line in,
// one reply out before the next write), the mjolnir sim's background
// goroutine and in/out channels collapse here to a single mutex
// guarding a pending-reply buffer: Write parses and answers a command
// immediately, and Read only ever drains what the preceding Write
// produced.
type Simulator struct {
	mu              sync.Mutex
	version         string
	in              []byte
	out             bytes.Buffer
	closed          bool
	Commands        []string
	idleAfterQueries int
}

// NewSimulator returns a Simulator reporting the given firmware
// version string (e.g. "2.7.0") to V queries.
func NewSimulator(version string) *Simulator {
	return &Simulator{version: version}
}

// SetBusyFor makes the next n QM queries report outstanding motion
// before going idle, for exercising Driver.WaitIdle.
func (s *Simulator) SetBusyFor(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idleAfterQueries = n
}

func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errors.New("ebbsim: write on closed simulator")
	}
	s.in = append(s.in, p...)
	for {
		idx := bytes.IndexByte(s.in, '\r')
		if idx < 0 {
			break
		}
		line := string(s.in[:idx])
		s.in = s.in[idx+1:]
		s.Commands = append(s.Commands, line)
		s.handleLine(line)
	}
	return len(p), nil
}

func (s *Simulator) handleLine(line string) {
	fields := strings.Split(line, ",")
	switch fields[0] {
	case "V":
		s.out.WriteString("EBBv13_and_above EB Firmware Version " + s.version + "\r\n")
	case "EM", "SR", "S2", "LM", "XM", "HM":
		s.out.WriteString("OK\r\n")
	case "QM":
		if s.idleAfterQueries > 0 {
			s.idleAfterQueries--
			s.out.WriteString("0,1,0,0,1\r\n")
		} else {
			s.out.WriteString("0,0,0,0,0\r\n")
		}
	default:
		s.out.WriteString(fmt.Sprintf("!0 Unknown command %q\r\n", fields[0]))
	}
}

func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out.Len() == 0 {
		if s.closed {
			return 0, errors.New("ebbsim: read on closed simulator")
		}
		return 0, errors.New("ebbsim: read with no pending response (driver must write before reading)")
	}
	return s.out.Read(p)
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

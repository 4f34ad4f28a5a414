package runner

import (
	"bufio"
	"os"
	"strings"

	"golang.org/x/term"
)

// SkipSource is a non-blocking side channel for interactive cancellation.
type SkipSource interface {
	// Poll returns the next pending token, if any, without blocking.
	Poll() (string, bool)
}

// ChanSkip is a SkipSource fed by sending tokens on the channel.
type ChanSkip chan string

// Poll implements SkipSource.
func (c ChanSkip) Poll() (string, bool) {
	select {
	case tok := <-c:
		return tok, true
	default:
		return "", false
	}
}

// terminalSkip queues whole lines typed on an interactive terminal.
type terminalSkip struct {
	lines chan string
}

// NewTerminalSkip returns a SkipSource reading lines from f, or nil when f
// is not an interactive terminal. The reader goroutine lives until f
// reaches EOF; lines typed while the queue is full are dropped.
func NewTerminalSkip(f *os.File) SkipSource {
	if f == nil || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	s := &terminalSkip{lines: make(chan string, 16)}
	go func() {
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			select {
			case s.lines <- strings.TrimSpace(sc.Text()):
			default:
			}
		}
	}()
	return s
}

func (s *terminalSkip) Poll() (string, bool) {
	select {
	case line := <-s.lines:
		return line, true
	default:
		return "", false
	}
}

package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// LineSpinner animates a single status line until stopped. It is used
// before the room view takes over the terminal.
type LineSpinner struct {
	spinner  spinner.Spinner
	interval time.Duration

	message string

	mu      sync.Mutex
	done    chan struct{}
	stopped bool
}

// NewConnectionSpinner is used while dialing and joining (Globe style).
func NewConnectionSpinner(message string) *LineSpinner {
	return &LineSpinner{
		spinner:  spinner.Globe,
		interval: 180 * time.Millisecond,
		message:  message,
		done:     make(chan struct{}),
	}
}

// NewWaitingSpinner is used for short blocking calls (Points style).
func NewWaitingSpinner(message string) *LineSpinner {
	return &LineSpinner{
		spinner:  spinner.Points,
		interval: 100 * time.Millisecond,
		message:  message,
		done:     make(chan struct{}),
	}
}

func (s *LineSpinner) Start() {
	go func() {
		frames := s.spinner.Frames
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for i := 0; ; i++ {
			fmt.Printf("\r%s %s", SpinnerStyle.Render(frames[i%len(frames)]), s.message)

			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

func (s *LineSpinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.done)
	fmt.Print("\r\033[K")
}

func (s *LineSpinner) Success(message string) {
	s.Stop()
	printLine(SuccessStyle.Render(IconSuccess), message)
}

func (s *LineSpinner) Error(message string) {
	s.Stop()
	printLine(ErrorStyle.Render(IconError), message)
}

// RunWaitingSpinner starts a waiting spinner and returns a stop function.
func RunWaitingSpinner(message string) func() {
	sp := NewWaitingSpinner(message)
	sp.Start()
	return sp.Stop
}

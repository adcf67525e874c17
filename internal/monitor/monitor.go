package monitor

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"
)

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Logger *slog.Logger
	// StatusFile is rewritten on every tick when set.
	StatusFile string
	Interval   time.Duration
	// Sessions reports the number of connected pages.
	Sessions func() int
}

// Service periodically reports bridge status
type Service struct {
	deps      Dependencies
	started   time.Time
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = 30 * time.Second
	}
	return &Service{deps: deps, started: time.Now()}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetProgramStatus returns the current status as display lines.
func (s *Service) GetProgramStatus() []string {
	sessions := 0
	if s.deps.Sessions != nil {
		sessions = s.deps.Sessions()
	}
	return []string{
		fmt.Sprintf("uptime: %s", time.Since(s.started).Round(time.Second)),
		fmt.Sprintf("sessions: %d", sessions),
		fmt.Sprintf("goroutines: %d", runtime.NumGoroutine()),
	}
}

// Start starts the status monitor goroutine
func (s *Service) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor", "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				lines := s.GetProgramStatus()
				logger.Debug("Status", "lines", lines)
				if s.deps.StatusFile == "" {
					continue
				}
				if err := s.writeStatus(lines); err != nil {
					logger.Error("Error writing status file", "path", s.deps.StatusFile, "error", err)
				}
			}
		}
	}()
}

func (s *Service) writeStatus(lines []string) error {
	f, err := os.Create(s.deps.StatusFile)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := f.WriteString(line + "\n"); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

// Stop stops the status monitor and waits for it to exit
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}

package daemon

import (
	"fmt"
	"sync"

	"github.com/geph-official/geph5/pkg/config"
	"github.com/geph-official/geph5/pkg/core"
	"github.com/geph-official/geph5/pkg/logging"
)

// The process-wide daemon handle. All access goes through this single
// access point; internal components receive the handle explicitly and
// never reach for it themselves.
var (
	mu      sync.Mutex
	current *Daemon
)

// Start parses configText, validates it, and launches the process-wide
// daemon. It fails with ErrAlreadyRunning while a daemon is starting or
// running, and with ErrInvalidConfig before any resource is allocated if
// the blob is rejected. After a Failed or Stopped daemon, Start fully
// rebuilds a new one.
func Start(configText []byte) error {
	mu.Lock()
	defer mu.Unlock()

	if current != nil {
		switch current.State() {
		case Starting, Running:
			return ErrAlreadyRunning
		}
	}

	cfg, err := config.Parse(configText)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	logging.SetLevel(logging.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.File != "" {
		if err := logging.EnableFileLogging(cfg.Logging.File, cfg.Logging.MaxSize, cfg.Logging.MaxBackups, cfg.Logging.MaxAge); err != nil {
			return fmt.Errorf("%w: log file: %v", ErrInvalidConfig, err)
		}
	}
	core.SetDebugMode(cfg.Debug)

	d, err := newDaemon(cfg)
	if err != nil {
		return err
	}
	current = d
	logging.Infof("daemon started (transport=%s)", cfg.Transport.Kind)
	return nil
}

// Current returns the live daemon handle, or nil if none was started.
func Current() *Daemon {
	mu.Lock()
	defer mu.Unlock()
	return current
}

// Stop gracefully stops the process-wide daemon.
func Stop() error {
	mu.Lock()
	d := current
	mu.Unlock()
	if d == nil {
		return ErrNotRunning
	}
	return d.Stop()
}

// running returns the daemon if it is accepting work.
func running() (*Daemon, error) {
	mu.Lock()
	d := current
	mu.Unlock()
	if d == nil || d.State() != Running {
		return nil, ErrNotRunning
	}
	return d, nil
}

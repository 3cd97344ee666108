package main

import (
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// CleanupManager tracks resources and runs their cleanup in LIFO order.
type CleanupManager struct {
	mu     sync.Mutex
	logger log.Logger
	funcs  []cleanupFunc
}

type cleanupFunc struct {
	name string
	fn   func() error
}

// NewCleanupManager creates a new cleanup manager.
func NewCleanupManager(logger log.Logger) *CleanupManager {
	return &CleanupManager{logger: logger}
}

// Add registers a cleanup function. Functions are executed in LIFO order
// (last added, first executed) to ensure proper cleanup sequencing.
func (m *CleanupManager) Add(name string, fn func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs = append([]cleanupFunc{{name, fn}}, m.funcs...)
}

// Execute runs every registered cleanup, logging failures without
// stopping. Cleanup failures never mask the error that triggered them.
func (m *CleanupManager) Execute() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cleanup := range m.funcs {
		if err := cleanup.fn(); err != nil {
			level.Warn(m.logger).Log("msg", "cleanup failed", "resource", cleanup.name, "error", err)
		}
	}
}

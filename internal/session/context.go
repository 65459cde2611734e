// Package session tracks the run that is currently being recorded.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
)

var (
	ErrRunActive = errors.New("a run is already active")
	ErrNoRun     = errors.New("no run active")
)

// Context holds the current run.
type Context struct {
	mu     sync.RWMutex
	run    *core.Run
	active bool
	ended  time.Time
}

// NewContext creates a new Context with a placeholder run.
func NewContext() *Context {
	return &Context{
		run: &core.Run{Name: "No run loaded"},
	}
}

// Run returns the current run, or the placeholder when none was started.
func (c *Context) Run() *core.Run {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.run
}

// Active reports whether a run is being recorded.
func (c *Context) Active() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// RunID returns the UUID of the active run, or "" between runs.
func (c *Context) RunID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.active {
		return ""
	}
	return c.run.UUID
}

// Start makes run the active run and assigns it a fresh UUID if it has none.
func (c *Context) Start(run *core.Run) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return ErrRunActive
	}
	if run.UUID == "" {
		run.UUID = uuid.NewString()
	}
	if run.StartTime.IsZero() {
		run.StartTime = time.Now()
	}
	c.run = run
	c.active = true
	return nil
}

// End marks the active run finished and returns it.
func (c *Context) End() (*core.Run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return nil, ErrNoRun
	}
	c.active = false
	c.ended = time.Now()
	return c.run, nil
}

// Elapsed returns how long the current or last run has been going.
func (c *Context) Elapsed() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.run.StartTime.IsZero() {
		return 0
	}
	if c.active {
		return time.Since(c.run.StartTime)
	}
	return c.ended.Sub(c.run.StartTime)
}

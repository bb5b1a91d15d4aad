package ioapp

import (
	"fmt"
	"sync/atomic"
)

// State is the lifecycle state of an App. States only move forwards.
type State int32

const (
	// StateCreated is the initial state.
	StateCreated State = iota
	// StatePrepared is entered once Prepare has run, before any run loop starts.
	StatePrepared
	// StateRunning is entered when the first run loop starts.
	StateRunning
	// StateExitRequested is entered on the first call to RequestExit. Loops that are already
	// running continue until the reactor has drained.
	StateExitRequested
	// StateStopped is entered once every run loop has returned.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StatePrepared:
		return "prepared"
	case StateRunning:
		return "running"
	case StateExitRequested:
		return "exit-requested"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type stateCell struct {
	v atomic.Int32
}

func (c *stateCell) load() State {
	return State(c.v.Load())
}

// advance moves the state forward to s, returning false if it was already at or past s.
func (c *stateCell) advance(s State) bool {
	for {
		cur := c.v.Load()
		if State(cur) >= s {
			return false
		}
		if c.v.CompareAndSwap(cur, int32(s)) {
			return true
		}
	}
}

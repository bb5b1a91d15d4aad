// Package ccy defines the concurrency policies shared by the lifecycle, datagram and timer
// packages.
//
// A policy is selected at compile time, as the type argument of a generic type (e.g.
// ioapp.App[ccy.Safe]). Policies carry no state: each is a zero-size type whose methods return
// constants, describing three independent facets:
//
//   - OwnsThreads: the library creates and manages the goroutines running the reactor, versus
//     the caller lending the goroutine that calls Run.
//   - InternalCallSafe: lifecycle hooks (and other internal callbacks) are serialized against each
//     other when more than one goroutine runs the reactor.
//   - ExternalCallSafe: calls into the application from one of the reactor's goroutines are safe.
//
// The four canonical policies are [None], [Single], [Safe] and [Unsafe].
package ccy

import (
	"fmt"
	"sync"
)

// Policy is implemented by the policy tags in this package. Other implementations are possible,
// but all methods must be constant for a given type.
type Policy interface {
	OwnsThreads() bool
	InternalCallSafe() bool
	ExternalCallSafe() bool
	// MaxThreads returns the upper bound on the number of goroutines running the reactor, or zero
	// if there is no bound.
	MaxThreads() int

	fmt.Stringer
}

// None is the policy where the caller owns the (single) goroutine running the reactor, and no
// synchronization is performed.
type None struct{}

// Single is the policy where the library owns a single goroutine running the reactor. Because
// there's only one, no synchronization is needed.
type Single struct{}

// Safe is the policy where the library owns any number of goroutines running the reactor, and
// fully synchronizes internal calls.
type Safe struct{}

// Unsafe is the policy where the library owns any number of goroutines running the reactor,
// without any synchronization. Serializing access is the caller's responsibility.
type Unsafe struct{}

var (
	_ Policy = None{}
	_ Policy = Single{}
	_ Policy = Safe{}
	_ Policy = Unsafe{}
)

func (None) OwnsThreads() bool      { return false }
func (None) InternalCallSafe() bool { return false }
func (None) ExternalCallSafe() bool { return true }
func (None) MaxThreads() int        { return 1 }
func (None) String() string         { return "none" }

func (Single) OwnsThreads() bool      { return true }
func (Single) InternalCallSafe() bool { return false }
func (Single) ExternalCallSafe() bool { return true }
func (Single) MaxThreads() int        { return 1 }
func (Single) String() string         { return "single" }

func (Safe) OwnsThreads() bool      { return true }
func (Safe) InternalCallSafe() bool { return true }
func (Safe) ExternalCallSafe() bool { return true }
func (Safe) MaxThreads() int        { return 0 }
func (Safe) String() string         { return "safe" }

func (Unsafe) OwnsThreads() bool      { return true }
func (Unsafe) InternalCallSafe() bool { return false }
func (Unsafe) ExternalCallSafe() bool { return false }
func (Unsafe) MaxThreads() int        { return 0 }
func (Unsafe) String() string         { return "unsafe" }

// TraitSet is a snapshot of the facets of a Policy, returned by [Traits].
type TraitSet struct {
	Name             string `json:"name"`
	OwnsThreads      bool   `json:"ownsThreads"`
	InternalCallSafe bool   `json:"internalCallSafe"`
	ExternalCallSafe bool   `json:"externalCallSafe"`
	MaxThreads       int    `json:"maxThreads"`
}

// Traits returns the facets of the policy P
func Traits[P Policy]() TraitSet {
	var p P
	return TraitSet{
		Name:             p.String(),
		OwnsThreads:      p.OwnsThreads(),
		InternalCallSafe: p.InternalCallSafe(),
		ExternalCallSafe: p.ExternalCallSafe(),
		MaxThreads:       p.MaxThreads(),
	}
}

// ClampThreads returns the number of goroutines that should actually be started for a request of
// n under the policy P. Values below one are treated as one.
func ClampThreads[P Policy](n int) int {
	var p P
	if n < 1 {
		n = 1
	}
	if limit := p.MaxThreads(); limit != 0 && n > limit {
		n = limit
	}
	return n
}

// Mutex is a sync.Mutex that only locks if the policy P requires internal synchronization.
//
// The zero value is ready to use. Like sync.Mutex, a Mutex must not be copied after first use.
type Mutex[P Policy] struct {
	mu sync.Mutex
}

// Lock locks m, if P.InternalCallSafe(). Otherwise it does nothing.
func (m *Mutex[P]) Lock() {
	var p P
	if p.InternalCallSafe() {
		m.mu.Lock()
	}
}

// Unlock unlocks m, if P.InternalCallSafe(). Otherwise it does nothing.
func (m *Mutex[P]) Unlock() {
	var p P
	if p.InternalCallSafe() {
		m.mu.Unlock()
	}
}

// Do calls f with m locked.
func (m *Mutex[P]) Do(f func()) {
	m.Lock()
	defer m.Unlock()
	f()
}

package ioapp

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"
)

// TaskGroup provides [sync.WaitGroup]-like functionality for named tasks, with the following
// changes:
//
//  1. Tasks are named, added one at a time with [TaskGroup.Add]
//  2. [TaskGroup.Wait] returns a channel, so it can be selected over
//  3. The set of running tasks can be fetched with [TaskGroup.Tasks]
//  4. More tasks may be added after all have been completed
//
// An App uses one to track the goroutines started by Launch.
type TaskGroup struct {
	mu      sync.Mutex
	name    string
	count   uint
	allDone chan struct{}
	tasks   map[string]uint
}

// TaskInfo is information about a set of tasks with a particular name, as returned by
// [TaskGroup.Tasks].
type TaskInfo struct {
	Name string `json:"name"`
	// Count provides the number of running tasks named Name. It is never zero.
	Count uint `json:"count"`
}

// NewTaskGroup creates a new TaskGroup with the given name
func NewTaskGroup(name string) *TaskGroup {
	return &TaskGroup{name: name, tasks: make(map[string]uint)}
}

// Name returns the name of the TaskGroup.
func (g *TaskGroup) Name() string {
	return g.name
}

// Add adds a task with the name to the TaskGroup. Add may be called multiple times with the same
// name, in which case multiple instances of that task will be counted.
//
// Waiting on the TaskGroup will not complete until there is exactly one call to [TaskGroup.Done]
// with a matching name for each call to Add.
func (g *TaskGroup) Add(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.count += 1
	g.tasks[name] += 1
}

// Done marks a task with the name as completed.
//
// Done will panic if there aren't any remaining tasks with the name.
func (g *TaskGroup) Done(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c := g.tasks[name]
	if c == 0 {
		panic(fmt.Sprintf("zero remaining tasks with name %q", name))
	}

	if c -= 1; c == 0 {
		delete(g.tasks, name)
	} else {
		g.tasks[name] = c
	}

	g.count -= 1
	if g.count == 0 && g.allDone != nil {
		close(g.allDone)
		g.allDone = nil
	}
}

// Count returns the number of unfinished tasks.
func (g *TaskGroup) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int(g.count)
}

// Wait returns a channel that is closed once all tasks have been completed with [TaskGroup.Done].
func (g *TaskGroup) Wait() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.count == 0 {
		return alwaysClosed
	}

	if g.allDone == nil {
		g.allDone = make(chan struct{})
	}
	return g.allDone
}

// TryWait Waits on the TaskGroup, returning early with ctx.Err() if the context is canceled.
//
// If the context is already canceled when TryWait is called, this method will always return the
// context's error.
func (g *TaskGroup) TryWait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-g.Wait():
		return nil
	}
}

// Finished returns whether all tasks are finished, i.e. if waiting will immediately complete.
func (g *TaskGroup) Finished() bool {
	return isClosed(g.Wait())
}

// Tasks returns information about the set of running tasks, sorted by name.
//
// Each returned TaskInfo is guaranteed to have a Count greater than zero, representing the number
// of tasks with that name. If all task names are unique, all task counts will be 1.
func (g *TaskGroup) Tasks() []TaskInfo {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ts []TaskInfo
	for name, count := range g.tasks {
		ts = append(ts, TaskInfo{Name: name, Count: count})
	}
	slices.SortFunc(ts, func(a, b TaskInfo) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		default:
			return 0
		}
	})
	return ts
}

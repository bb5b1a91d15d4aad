package ioapp_test

import (
	"context"
	"testing"
	"time"

	"golang.org/x/exp/slices"

	"github.com/sharnoff/ioapp"
)

func check(cond bool) {
	if !cond {
		panic("assertion failed")
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestTaskGroupBasic(t *testing.T) {
	t.Parallel()

	g := ioapp.NewTaskGroup(t.Name())
	check(g.Name() == t.Name())
	closed := g.Wait()
	check(isClosed(closed))
	check(g.Finished())
	g.Add("task-1")
	check(isClosed(closed))
	waitCh := g.Wait()
	check(!isClosed(waitCh))
	check(!g.Finished())
	g.Add("task-2")
	g.Add("task-2") // intentionally add a duplicate
	check(g.Count() == 3)
	check(slices.Equal(g.Tasks(), []ioapp.TaskInfo{{Name: "task-1", Count: 1}, {Name: "task-2", Count: 2}}))
	check(!isClosed(g.Wait()))
	g.Done("task-1")
	g.Done("task-2")
	check(!isClosed(waitCh))
	check(!g.Finished())
	g.Done("task-2")
	check(isClosed(waitCh))
	check(isClosed(g.Wait()))
	check(g.Finished())
	check(g.Tasks() == nil)

	// reusable once finished
	g.Add("task-3")
	check(!g.Finished())
	g.Done("task-3")
	check(g.Finished())
}

func TestTaskGroupDonePanicsWithoutTask(t *testing.T) {
	t.Parallel()

	g := ioapp.NewTaskGroup(t.Name())
	defer func() {
		check(recover() != nil)
	}()
	g.Done("missing")
}

func TestTaskWaitContext(t *testing.T) {
	g := ioapp.NewTaskGroup(t.Name())

	tryWait := func(ctx context.Context, done chan struct{}, err *error) {
		*err = g.TryWait(ctx)
		close(done)
	}

	jiffy := 10 * time.Millisecond

	// TryWait returns nil if all tasks are done and the context hasn't been canceled
	{
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		done := make(chan struct{})
		var err error
		go tryWait(ctx, done, &err)

		time.Sleep(jiffy)
		check(isClosed(done))
		check(err == nil)
	}

	g.Add("task-1")

	// TryWait returns when the context is canceled
	{
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		done := make(chan struct{})
		var err error
		go tryWait(ctx, done, &err)

		time.Sleep(jiffy)
		check(!isClosed(done))

		cancel()
		time.Sleep(jiffy)
		check(isClosed(done))
		check(err != nil)
	}

	// TryWait returns when all tasks finish
	{
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		done := make(chan struct{})
		var err error
		go tryWait(ctx, done, &err)

		time.Sleep(jiffy)
		check(!isClosed(done))

		g.Done("task-1")

		time.Sleep(jiffy)
		check(isClosed(done))
		check(err == nil)
	}

	// calling TryWait with a canceled context always returns err, even if all tasks are done
	{
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		check(g.TryWait(ctx) != nil)
	}
}

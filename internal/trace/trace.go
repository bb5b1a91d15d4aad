// Package trace captures goroutine stack traces and identities.
//
// Traces are captured when a panic is recovered from a hook or a reactor handler, so that the
// report can point at the code that panicked rather than at the recovery site. A trace may have a
// parent, which links the place a handler was scheduled from with the place it ran.
package trace

import (
	"runtime"
	"strconv"
	"sync"
)

// Stack is a captured stack trace, optionally linked to the trace of the goroutine (or handler)
// that caused it.
type Stack struct {
	Frames []Frame
	Parent *Stack
}

// Frame is a single function call in a Stack.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Capture returns the stack of the calling goroutine, skipping the innermost skip frames (not
// counting Capture itself).
func Capture(parent *Stack, skip uint) Stack {
	return Stack{Frames: frames(skip + 1), Parent: parent}
}

// String formats the trace in roughly the same layout as a runtime panic, with each parent's
// frames following its child's.
func (st Stack) String() string {
	var buf []byte

	for {
		if len(st.Frames) == 0 {
			buf = append(buf, "<empty stack>\n"...)
		}
		for _, f := range st.Frames {
			buf = f.append(buf)
		}

		if st.Parent == nil {
			return string(buf)
		}
		st = *st.Parent
	}
}

func (f Frame) append(buf []byte) []byte {
	if f.Function == "" {
		buf = append(buf, "<unknown function>"...)
	} else {
		buf = append(buf, f.Function...)
		buf = append(buf, "(...)"...)
	}
	buf = append(buf, "\n\t"...)

	if f.File == "" {
		buf = append(buf, "<unknown file>"...)
	} else {
		buf = append(buf, f.File...)
		if f.Line != 0 {
			buf = append(buf, ':')
			buf = strconv.AppendInt(buf, int64(f.Line), 10)
		}
	}
	return append(buf, '\n')
}

var pcPool = sync.Pool{
	New: func() any {
		buf := make([]uintptr, 128)
		return &buf
	},
}

func frames(skip uint) []Frame {
	skip += 2 // this function and runtime.Callers

	pcBuf := pcPool.Get().(*[]uintptr)
	defer func() {
		if len(*pcBuf) <= 1024 {
			pcPool.Put(pcBuf)
		}
	}()

	// grow the buffer until everything fits
	var pc []uintptr
	for {
		n := runtime.Callers(0, *pcBuf)
		if n < len(*pcBuf) {
			pc = (*pcBuf)[:n]
			break
		}
		*pcBuf = make([]uintptr, 2*len(*pcBuf))
	}

	iter := runtime.CallersFrames(pc)
	var out []Frame
	for more := true; more; {
		var frame runtime.Frame
		frame, more = iter.Next()

		if skip > 0 {
			skip -= 1
			continue
		}

		out = append(out, Frame{Function: frame.Function, File: frame.File, Line: frame.Line})
	}
	return out
}

// Goroutine returns the id of the calling goroutine, parsed from the header of runtime.Stack.
//
// There's no supported API for this; the id is only used to answer "is this goroutine one of the
// ones currently running X", never for anything that affects scheduling.
func Goroutine() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i += 1 {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}

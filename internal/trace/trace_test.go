package trace_test

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharnoff/ioapp/internal/trace"
)

func TestStackFormatVarieties(t *testing.T) {
	t.Parallel()

	expected := strings.Join([]string{
		"packagename.foo(...)",
		"\t/path/to/package/foo.go:37",
		"packagename.bar(...)",
		"\t/path/to/package/bar.go",
		"packagename.baz(...)",
		"\t<unknown file>",
		"packagename.qux(...)",
		"\t<unknown file>",
		"<unknown function>",
		"\t/unknown/function/path.go:45",
		"<unknown function>",
		"\t<unknown file>",
		"",
	}, "\n")

	st := trace.Stack{
		Frames: []trace.Frame{
			{Function: "packagename.foo", File: "/path/to/package/foo.go", Line: 37},
			{Function: "packagename.bar", File: "/path/to/package/bar.go"},
			{Function: "packagename.baz"},
			{Function: "packagename.qux", Line: 29}, // no file, so no line either
			{File: "/unknown/function/path.go", Line: 45},
			{},
		},
	}

	assert.Equal(t, expected, st.String())
}

func TestStackParentFormat(t *testing.T) {
	t.Parallel()

	st := trace.Stack{
		Frames: []trace.Frame{{Function: "a.Handler", File: "/a/handler.go", Line: 3}},
		Parent: &trace.Stack{
			Parent: &trace.Stack{
				Frames: []trace.Frame{{Function: "b.Post", File: "/b/post.go", Line: 9}},
			},
		},
	}

	expected := "a.Handler(...)\n\t/a/handler.go:3\n<empty stack>\nb.Post(...)\n\t/b/post.go:9\n"
	assert.Equal(t, expected, st.String())
}

func captureHere() trace.Stack {
	return trace.Capture(nil, 0)
}

func TestCaptureSkipsItself(t *testing.T) {
	t.Parallel()

	st := captureHere()
	require.NotEmpty(t, st.Frames)
	assert.True(t, strings.HasSuffix(st.Frames[0].Function, ".captureHere"), st.Frames[0].Function)
	assert.True(t, strings.HasSuffix(st.Frames[0].File, "trace_test.go"))
	assert.NotZero(t, st.Frames[0].Line)
	assert.True(t, strings.HasSuffix(st.Frames[1].Function, ".TestCaptureSkipsItself"), st.Frames[1].Function)
}

func TestGoroutineDistinct(t *testing.T) {
	t.Parallel()

	self := trace.Goroutine()
	require.NotZero(t, self)
	assert.Equal(t, self, trace.Goroutine())

	var other uint64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		other = trace.Goroutine()
	}()
	wg.Wait()

	assert.NotZero(t, other)
	assert.NotEqual(t, self, other)
}

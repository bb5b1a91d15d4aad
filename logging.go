package ioapp

import (
	"io"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// NewLogger returns a logger writing JSON lines to w, discarding events less severe than level.
//
// Every component in this module accepts a *logiface.Logger[logiface.Event], so any logiface
// implementation may be used instead. A nil logger disables logging.
func NewLogger(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}

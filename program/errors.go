package program

import (
	"fmt"

	"github.com/pithecene-io/kiln/types"
)

// CompileError is a program that does not compile or lacks a usable
// entry point.
type CompileError struct {
	Err error
}

func (e *CompileError) Error() string { return "compile program: " + e.Err.Error() }

func (e *CompileError) Unwrap() error { return e.Err }

// ErrorType implements the typed-error convention.
func (e *CompileError) ErrorType() string { return types.ErrorTypeParse }

// RuntimeError is an error returned by the program's entry point.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string { return "program raised: " + e.Err.Error() }

func (e *RuntimeError) Unwrap() error { return e.Err }

// PanicError is a panic recovered from the program.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("program panicked: %v", e.Value) }

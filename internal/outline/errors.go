package outline

import (
	"errors"
	"fmt"
)

var (
	ErrInputMismatch      = errors.New("lines and probabilities differ in length")
	ErrInvalidThreshold   = errors.New("heading threshold outside [0,1]")
	ErrInvalidProbability = errors.New("probability outside [0,1]")
	ErrInvalidConfig      = errors.New("invalid engine config")
)

// InputMismatchError reports the two lengths of a misaligned call.
type InputMismatchError struct {
	Lines int
	Probs int
}

func (e *InputMismatchError) Error() string {
	return fmt.Sprintf("input mismatch: %d lines, %d probabilities", e.Lines, e.Probs)
}

func (e *InputMismatchError) Unwrap() error { return ErrInputMismatch }

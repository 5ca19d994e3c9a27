package eos

import (
	"errors"
	"fmt"
)

// ErrUnknownModel is returned when a tag or file code does not name a model.
var ErrUnknownModel = errors.New("eos: unknown model")

// InputError reports a dataset or parameter record that cannot be used.
type InputError struct {
	Model  Tag
	Reason string
}

func (e *InputError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("%s: invalid input: %s", e.Model, e.Reason)
}

// ConvergenceError reports a fit that ran out of its evaluation budget.
type ConvergenceError struct {
	Model       Tag
	Evaluations int
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("%s: failed to converge after %d evaluations", e.Model, e.Evaluations)
}

// DomainError reports a model evaluation that left the real domain
// (non-positive V/V0, overflow) and could not be stepped around.
type DomainError struct {
	Model  Tag
	Reason string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: invalid power: %s", e.Model, e.Reason)
}

// RootFindError reports a target pressure with no volume solution.
type RootFindError struct {
	Model    Tag
	Pressure float64 // GPa
	Err      error
}

func (e *RootFindError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: no volume found for P=%g GPa: %v", e.Model, e.Pressure, e.Err)
	}
	return fmt.Sprintf("%s: no volume found for P=%g GPa", e.Model, e.Pressure)
}

func (e *RootFindError) Unwrap() error { return e.Err }

// Recoverable reports whether err is a per-model fitting failure that
// should be replaced by a zero-filled result rather than abort a batch.
func Recoverable(err error) bool {
	var ie *InputError
	var ce *ConvergenceError
	var de *DomainError
	return errors.As(err, &ie) || errors.As(err, &ce) || errors.As(err, &de)
}

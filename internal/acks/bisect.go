package acks

import (
	"context"
	"errors"

	"taxwire/internal/filing"
)

// LookupFunc fetches acknowledgements for a set of submission ids.
// Submissions the filing system has not yet acknowledged are simply
// absent from the result.
type LookupFunc func(ctx context.Context, submissionIDs []string) ([]filing.Acknowledgement, error)

// Result is the outcome of resolving a set of pending submissions.
type Result struct {
	// Acknowledged holds acknowledgements returned by the filing system.
	Acknowledged []filing.Acknowledgement
	// Poisoned holds submission ids whose presence alone makes the
	// lookup fail with a toolkit error.
	Poisoned []string
}

// Resolve looks up acknowledgements for the given submission ids,
// isolating poisoned submissions by bisection.
//
// A toolkit error from the filing system means some submission in the
// set cannot be processed, but not which one. Resolve splits the set in
// half and recurses until the failure is pinned to a single id, which
// is reported as poisoned. All other ids still get a normal lookup, so
// one poisoned submission never blocks the rest of the set. Any other
// lookup error aborts resolution and is returned as is.
func Resolve(ctx context.Context, submissionIDs []string, lookup LookupFunc) (Result, error) {
	var result Result
	if len(submissionIDs) == 0 {
		return result, nil
	}

	acked, err := lookup(ctx, submissionIDs)
	if err == nil {
		result.Acknowledged = acked
		return result, nil
	}
	if !errors.Is(err, filing.ErrToolkit) {
		return Result{}, err
	}
	if len(submissionIDs) == 1 {
		result.Poisoned = []string{submissionIDs[0]}
		return result, nil
	}

	mid := len(submissionIDs) / 2
	left, err := Resolve(ctx, submissionIDs[:mid], lookup)
	if err != nil {
		return Result{}, err
	}
	right, err := Resolve(ctx, submissionIDs[mid:], lookup)
	if err != nil {
		return Result{}, err
	}

	result.Acknowledged = append(left.Acknowledged, right.Acknowledged...)
	result.Poisoned = append(left.Poisoned, right.Poisoned...)
	return result, nil
}

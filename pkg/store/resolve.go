package store

import "errors"

// resolveOrCreate is the single race-handling primitive behind every
// GetOrCreate* operation. find reports whether the record already
// exists; create inserts it and returns ErrDuplicate when a concurrent
// caller won the race on the uniqueness constraint.
//
//  1. read by key; if found, return it with created=false
//  2. insert; on success return it with created=true
//  3. on ErrDuplicate, re-read and return the winner's row with
//     created=false
//  4. a re-read that still finds nothing is ErrResolveInconsistent
//
// Any other error from find or create propagates unchanged.
func resolveOrCreate[T any](find func() (T, bool, error), create func() (T, error)) (T, bool, error) {
	var zero T
	existing, found, err := find()
	if err != nil {
		return zero, false, err
	}
	if found {
		return existing, false, nil
	}
	created, err := create()
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, ErrDuplicate) {
		return zero, false, err
	}
	existing, found, err = find()
	if err != nil {
		return zero, false, err
	}
	if !found {
		return zero, false, ErrResolveInconsistent
	}
	return existing, false, nil
}

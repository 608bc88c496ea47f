package query

import (
	"errors"
	"fmt"
)

var (
	// ErrArgument classifies malformed, incomplete or contradictory query clauses.
	ErrArgument = errors.New("invalid argument")
	// ErrWrongType classifies a source collection or referenced set whose stored shape
	// is not a collection.
	ErrWrongType = errors.New("wrong type")
)

// GetUsage is the syntax reminder attached to GET argument errors.
const GetUsage = "syntax is TABULAR.GET key start length " +
	"[SORT n (field ALPHA|NUM|REVALPHA|REVNUM)...] " +
	"[FILTER n (field MATCH|EQUAL|IN operand)...] [STORE key]"

// CountUsage is the syntax reminder attached to COUNT argument errors.
const CountUsage = "syntax is TABULAR.COUNT key FILTER n (field MATCH|EQUAL|IN operand)... [STORE key]"

// ArgumentError builds an ErrArgument-classified error.
func ArgumentError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrArgument, fmt.Sprintf(format, args...))
}

// WrongTypeError builds an ErrWrongType-classified error for key.
func WrongTypeError(key string) error {
	return fmt.Errorf("%w: key %q does not hold a collection", ErrWrongType, key)
}

// IsArgument reports whether err is a query argument error.
func IsArgument(err error) bool {
	return errors.Is(err, ErrArgument)
}

// IsWrongType reports whether err is a wrong-type error.
func IsWrongType(err error) bool {
	return errors.Is(err, ErrWrongType)
}

package store

import (
	"errors"
	"fmt"
)

// Errors returned by store operations. Check them with errors.Is.
var (
	ErrDuplicateKey        = errors.New("duplicate key")
	ErrTypeMismatch        = errors.New("type mismatch")
	ErrMalformedPath       = errors.New("malformed path")
	ErrImmutableID         = errors.New("_id cannot be modified")
	ErrSerialization       = errors.New("value cannot be serialized")
	ErrBadFilter           = errors.New("invalid filter")
	ErrUnsupportedOperator = errors.New("unsupported operator")
	ErrBadCollection       = errors.New("invalid collection name")
	ErrClosed              = errors.New("store is closed")
)

// PathError records a failure to apply an operator at a dotted path.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// errorCodes maps sentinel errors to the codes used on the wire.
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrDuplicateKey, "duplicate_key"},
	{ErrTypeMismatch, "type_mismatch"},
	{ErrMalformedPath, "malformed_path"},
	{ErrImmutableID, "immutable_id"},
	{ErrSerialization, "serialization"},
	{ErrBadFilter, "bad_filter"},
	{ErrUnsupportedOperator, "unsupported_operator"},
	{ErrBadCollection, "bad_collection"},
	{ErrClosed, "closed"},
}

// ErrorCode returns the wire code for err, or "" if err is not one of the
// package's sentinel errors.
func ErrorCode(err error) string {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return ""
}

// IsClientError reports whether err was caused by the caller's input rather
// than by the persistence layer.
func IsClientError(err error) bool {
	switch ErrorCode(err) {
	case "", "closed", "duplicate_key":
		return false
	}
	return true
}

// RemoteError is an error reported by a remote store. It unwraps to the
// matching sentinel so errors.Is works across the wire.
type RemoteError struct {
	Status  int
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote store: %s (status %d)", e.Message, e.Status)
}

func (e *RemoteError) Unwrap() error {
	for _, c := range errorCodes {
		if c.code == e.Code {
			return c.err
		}
	}
	return nil
}

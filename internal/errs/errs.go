// Package errs classifies failures coming back from the Redis driver into a
// small set of stable kinds, so callers can match on a kind instead of
// inspecting driver error strings.
package errs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/redis/go-redis/v9"
)

type Kind int8

const (
	KindUnknown Kind = iota
	KindAlreadyExists
	KindNotFound
	KindConnection
	KindTimeout
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindAlreadyExists:
		return "already exists"
	case KindNotFound:
		return "not found"
	case KindConnection:
		return "connection failure"
	case KindTimeout:
		return "timeout"
	case KindMalformed:
		return "malformed entity"
	default:
		return "unknown"
	}
}

// Error is a driver failure tagged with its Kind and the operation that
// produced it.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap tags err with the kind Classify assigns to it. A nil err stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: Classify(err), Err: err}
}

// Malformed tags err as a decode failure of a stored value.
func Malformed(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: KindMalformed, Err: err}
}

// KindOf returns the kind carried by the first *Error in err's chain, or
// classifies err directly when no *Error is present.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Classify(err)
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Classify maps a raw driver error onto a Kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, redis.Nil):
		return KindNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, redis.ErrClosed), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed):
		return KindConnection
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindConnection
	}

	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "BUSYGROUP"):
		return KindAlreadyExists
	case strings.HasPrefix(msg, "NOGROUP"):
		return KindNotFound
	}
	return KindUnknown
}

package bencode

import (
	"errors"
	"fmt"
)

// ErrSyntax is wrapped by every decoding and encoding error of this package.
var ErrSyntax = errors.New("bencode")

var (
	ErrMalformedLength  = fmt.Errorf("%w: malformed string length", ErrSyntax)
	ErrMalformedInteger = fmt.Errorf("%w: malformed integer", ErrSyntax)
	ErrUnknownTag       = fmt.Errorf("%w: unknown value tag", ErrSyntax)
	ErrNonStringKey     = fmt.Errorf("%w: dictionary key is not a string", ErrSyntax)
	ErrTruncatedInput   = fmt.Errorf("%w: truncated input", ErrSyntax)
	ErrTrailingData     = fmt.Errorf("%w: trailing data after value", ErrSyntax)
	ErrNilValue         = fmt.Errorf("%w: nil value", ErrSyntax)
)

// SyntaxError records where in the input a decoding error occurred.
type SyntaxError struct {
	Offset int
	Err    error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%v at offset %d", e.Err, e.Offset)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

func syntaxError(offset int, err error) error {
	return &SyntaxError{Offset: offset, Err: err}
}

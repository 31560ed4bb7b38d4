package symbols

import "errors"

var (
	ErrAlreadyDefined  = errors.New("symbol already defined")
	ErrUnknown         = errors.New("unknown symbol")
	ErrUnstable        = errors.New("symbol unstable across passes")
	ErrExpectedInteger = errors.New("expected an integer value")
	ErrTypeMismatch    = errors.New("value type mismatch")
)

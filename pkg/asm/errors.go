package asm

import "errors"

var (
	ErrOutputExceedsLimit      = errors.New("output exceeds the configured limit")
	ErrWriteToProtectedRange   = errors.New("write into a protected range")
	ErrNoActiveTickerCounter   = errors.New("no stable ticker is open")
	ErrPassLimitExceeded       = errors.New("symbols still unstable after the last allowed pass")
	ErrRecursionLimitExceeded  = errors.New("macro or function recursion too deep")
	ErrBankWithoutTarget       = errors.New("bank switch without a snapshot or cartridge target")
	ErrAssertionFailed         = errors.New("assertion failed")
	ErrIterationLimitExceeded  = errors.New("loop iterated too many times")
	ErrDoubleWrite             = errors.New("address written twice in one pass")
	ErrCancelled               = errors.New("assembly cancelled")
	ErrFunctionSideEffect      = errors.New("user functions cannot mutate the environment")
)

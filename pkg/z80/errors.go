package z80

import "errors"

var (
	ErrRelativeJumpOutOfRange = errors.New("relative jump out of range")
	ErrInvalidOperand         = errors.New("invalid operand")
	ErrInvalidRstValue        = errors.New("invalid RST value")
	ErrInvalidImValue         = errors.New("IM accepts 0, 1 or 2")
	ErrBitIndexOutOfRange     = errors.New("bit index must be 0..7")
	ErrUnknownMnemonic        = errors.New("unknown mnemonic")
)

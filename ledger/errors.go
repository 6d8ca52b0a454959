package ledger

import "errors"

var (
	// ErrNoBlock is returned when submitting before BeginBlock.
	ErrNoBlock = errors.New("ledger: no block in progress")

	// ErrValueTooLow is returned for a nonzero value below the existential deposit.
	ErrValueTooLow = errors.New("ledger: value below existential deposit")

	// ErrGasLimitTooHigh is returned for a gas limit above the block gas limit.
	ErrGasLimitTooHigh = errors.New("ledger: gas limit exceeds block gas limit")

	// ErrInsufficientBalance is returned when the sender cannot cover gas and value.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance for gas and value")

	// ErrProgramAlreadyExists is returned when submitting a program twice.
	ErrProgramAlreadyExists = errors.New("ledger: program already exists")

	// ErrNotReplyable is returned when replying to a message not from a program.
	ErrNotReplyable = errors.New("ledger: message source is not a program")
)

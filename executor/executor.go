// Package executor defines the boundary to the execution backend and
// ships Echo, a deterministic demo backend.
package executor

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/najoast/gearledger/core"
	"github.com/najoast/gearledger/journal"
)

// Input is everything a backend needs to run one dispatch.
type Input struct {
	Dispatch     core.StoredDispatch
	ProgramID    core.ProgramID
	Program      core.Program
	Code         []byte
	GasLimit     uint64
	GasAllowance uint64
	BlockNumber  uint32
	Balance      *uint256.Int
}

// Executor runs a dispatch against a program and returns its journal.
type Executor interface {
	Execute(ctx context.Context, in Input) ([]journal.Note, error)
}

// Func adapts a function to Executor.
type Func func(ctx context.Context, in Input) ([]journal.Note, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, in Input) ([]journal.Note, error) {
	return f(ctx, in)
}

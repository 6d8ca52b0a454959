package gas

import "github.com/najoast/gearledger/storage"

// Allowance is the gas left for execution in the current block.
type Allowance struct {
	v storage.Value[uint64]
}

// NewAllowance returns an allowance persisted at key.
func NewAllowance(store storage.Store, key string) *Allowance {
	return &Allowance{v: storage.NewValue[uint64](store, key)}
}

// Get returns the remaining allowance.
func (a *Allowance) Get() (uint64, error) {
	n, _, err := a.v.Get()
	return n, err
}

// Decrease subtracts amount, saturating at zero.
func (a *Allowance) Decrease(amount uint64) error {
	n, err := a.Get()
	if err != nil {
		return err
	}
	if amount > n {
		n = 0
	} else {
		n -= amount
	}
	return a.v.Put(n)
}

// Reset sets the allowance to limit at block start.
func (a *Allowance) Reset(limit uint64) error {
	return a.v.Put(limit)
}

package storage

import "github.com/pkg/errors"

// Atomic runs fn in a transaction of s. The writes of fn are committed
// when it returns nil and rolled back when it fails or panics.
func Atomic(s Store, fn func() error) (err error) {
	if err := s.Begin(); err != nil {
		return err
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		rbErr := s.Rollback()
		if rbErr != nil && !errors.Is(rbErr, ErrNoTxn) && err != nil {
			err = errors.Wrapf(err, "rollback failed: %v", rbErr)
		}
	}()

	if err = fn(); err != nil {
		return err
	}
	if err = s.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

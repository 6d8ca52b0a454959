package programs

import "github.com/najoast/gearledger/core"

// InsertWaiting parks dispatch on the waitlist of program at blockNumber.
func (s *Storage) InsertWaiting(program core.ProgramID, dispatch core.StoredDispatch, blockNumber uint32) error {
	return s.waitlist.Insert(program, dispatch.ID(), core.WaitlistEntry{
		Dispatch:    dispatch,
		BlockNumber: blockNumber,
	})
}

// RemoveWaiting takes a parked dispatch off the waitlist.
func (s *Storage) RemoveWaiting(program core.ProgramID, id core.MessageID) (core.WaitlistEntry, bool, error) {
	return s.waitlist.Take(program, id)
}

// DrainWaitlist removes and returns every entry parked by program in
// message id order.
func (s *Storage) DrainWaitlist(program core.ProgramID) ([]core.WaitlistEntry, error) {
	return s.waitlist.DrainPrefix(program)
}

// WaitlistLen returns the number of dispatches program has parked.
func (s *Storage) WaitlistLen(program core.ProgramID) (uint64, error) {
	return s.waitlist.CountPrefix(program)
}

// IterWaitlist calls fn for every waitlist entry of every program.
func (s *Storage) IterWaitlist(fn func(core.WaitlistEntry) error) error {
	return s.waitlist.Iter(fn)
}

// AppendWaitingInit records that id waits for program to initialize.
func (s *Storage) AppendWaitingInit(program core.ProgramID, id core.MessageID) error {
	ids, _, err := s.waitingInit.Get(program)
	if err != nil {
		return err
	}
	return s.waitingInit.Insert(program, append(ids, id))
}

// TakeWaitingInit removes and returns the ids waiting for program, in
// arrival order.
func (s *Storage) TakeWaitingInit(program core.ProgramID) ([]core.MessageID, error) {
	ids, _, err := s.waitingInit.Take(program)
	return ids, err
}

// Package programs stores program records, their memory pages and code,
// the waitlist and the lists of dispatches waiting for a program to
// finish initialization.
package programs

import (
	"errors"
	"fmt"

	"github.com/najoast/gearledger/core"
	"github.com/najoast/gearledger/storage"
)

var (
	// ErrProgramNotFound is returned for an unknown program id.
	ErrProgramNotFound = errors.New("programs: program not found")

	// ErrInvalidTransition is returned for a state change the program's
	// current state does not allow.
	ErrInvalidTransition = errors.New("programs: invalid state transition")

	// ErrCodeNotFound is returned for unknown code.
	ErrCodeNotFound = errors.New("programs: code not found")
)

// Storage is the program collaborator of the ledger.
type Storage struct {
	programs    storage.Map[core.ProgramID, core.Program]
	pages       storage.DoubleMap[core.ProgramID, core.PageNumber, []byte]
	codes       storage.Map[core.CodeID, []byte]
	waitlist    storage.DoubleMap[core.ProgramID, core.MessageID, core.WaitlistEntry]
	waitingInit storage.Map[core.ProgramID, []core.MessageID]
}

// New returns program storage persisted under prefix.
func New(store storage.Store, prefix string) *Storage {
	return &Storage{
		programs:    storage.NewMap[core.ProgramID, core.Program](store, prefix+"program/"),
		pages:       storage.NewDoubleMap[core.ProgramID, core.PageNumber, []byte](store, prefix+"page/"),
		codes:       storage.NewMap[core.CodeID, []byte](store, prefix+"code/"),
		waitlist:    storage.NewDoubleMap[core.ProgramID, core.MessageID, core.WaitlistEntry](store, prefix+"wait/"),
		waitingInit: storage.NewMap[core.ProgramID, []core.MessageID](store, prefix+"winit/"),
	}
}

// Exists reports whether a program record exists for id, in any state.
func (s *Storage) Exists(id core.ProgramID) (bool, error) {
	return s.programs.Contains(id)
}

// Get returns the program record.
func (s *Storage) Get(id core.ProgramID) (core.Program, bool, error) {
	return s.programs.Get(id)
}

// Set writes the program record.
func (s *Storage) Set(id core.ProgramID, p core.Program) error {
	p.Allocations = core.SortedAllocations(p.Allocations)
	return s.programs.Insert(id, p)
}

func (s *Storage) mustGet(id core.ProgramID) (core.Program, error) {
	p, ok, err := s.programs.Get(id)
	if err != nil {
		return p, err
	}
	if !ok {
		return p, fmt.Errorf("%w: %s", ErrProgramNotFound, id)
	}
	return p, nil
}

// SetInitialized moves an uninitialized program to initialized.
func (s *Storage) SetInitialized(id core.ProgramID) error {
	p, err := s.mustGet(id)
	if err != nil {
		return err
	}
	if p.State != core.ProgramUninitialized {
		return fmt.Errorf("%w: %s is %s, want uninitialized", ErrInvalidTransition, id, p.State)
	}
	p.State = core.ProgramInitialized
	return s.programs.Insert(id, p)
}

// SetTerminated moves an active program to terminated and drops its pages.
func (s *Storage) SetTerminated(id core.ProgramID) error {
	p, err := s.mustGet(id)
	if err != nil {
		return err
	}
	if !p.IsActive() {
		return fmt.Errorf("%w: %s already terminated", ErrInvalidTransition, id)
	}
	p.State = core.ProgramTerminated
	p.Allocations = nil
	p.PagesWithData = nil
	if err := s.pages.RemovePrefix(id); err != nil {
		return err
	}
	return s.programs.Insert(id, p)
}

// GetActive returns the program if it exists and is not terminated.
func (s *Storage) GetActive(id core.ProgramID) (core.Program, error) {
	p, err := s.mustGet(id)
	if err != nil {
		return p, err
	}
	if !p.IsActive() {
		return p, fmt.Errorf("%w: %s is terminated", ErrInvalidTransition, id)
	}
	return p, nil
}

// PageData returns the contents of a memory page.
func (s *Storage) PageData(id core.ProgramID, page core.PageNumber) ([]byte, bool, error) {
	return s.pages.Get(id, page)
}

// SetPageData stores a memory page of an active program.
func (s *Storage) SetPageData(id core.ProgramID, page core.PageNumber, data []byte) error {
	p, err := s.GetActive(id)
	if err != nil {
		return err
	}
	if err := s.pages.Insert(id, page, data); err != nil {
		return err
	}
	p.AddPageData(page)
	return s.programs.Insert(id, p)
}

// SetAllocations replaces the allocation set of an active program and
// drops the data of pages no longer allocated.
func (s *Storage) SetAllocations(id core.ProgramID, allocations []core.WasmPageNumber) error {
	p, err := s.GetActive(id)
	if err != nil {
		return err
	}
	allocations = core.SortedAllocations(allocations)
	keep := make(map[core.WasmPageNumber]struct{}, len(allocations))
	for _, a := range allocations {
		keep[a] = struct{}{}
	}
	for _, old := range p.Allocations {
		if _, ok := keep[old]; ok {
			continue
		}
		for _, page := range old.GearPages() {
			if !p.RemovePageData(page) {
				continue
			}
			if err := s.pages.Remove(id, page); err != nil {
				return err
			}
		}
	}
	p.Allocations = allocations
	return s.programs.Insert(id, p)
}

// AddCode stores code and returns its id. Storing the same code twice is a no-op.
func (s *Storage) AddCode(code []byte) (core.CodeID, error) {
	id := core.CodeIDFrom(code)
	exists, err := s.codes.Contains(id)
	if err != nil || exists {
		return id, err
	}
	return id, s.codes.Insert(id, code)
}

// Code returns stored code.
func (s *Storage) Code(id core.CodeID) ([]byte, error) {
	code, ok, err := s.codes.Get(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCodeNotFound, id)
	}
	return code, nil
}

// CodeExists reports whether code with id is stored.
func (s *Storage) CodeExists(id core.CodeID) (bool, error) {
	return s.codes.Contains(id)
}

package core

import (
	"encoding/binary"
	"sort"
)

// GearPagesPerWasmPage is the number of 4 KiB storage pages in one 64 KiB wasm page.
const GearPagesPerWasmPage = 16

// WasmPageNumber indexes a 64 KiB allocation unit.
type WasmPageNumber uint32

// PageNumber indexes a 4 KiB unit of persisted program memory.
type PageNumber uint32

// Bytes returns the big-endian key form of the page number.
func (p PageNumber) Bytes() []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(p))
	return b[:]
}

// GearPages returns the storage pages backing a wasm page.
func (p WasmPageNumber) GearPages() []PageNumber {
	pages := make([]PageNumber, GearPagesPerWasmPage)
	first := uint32(p) * GearPagesPerWasmPage
	for i := range pages {
		pages[i] = PageNumber(first + uint32(i))
	}
	return pages
}

// ProgramState is the lifecycle state of a program.
type ProgramState uint8

const (
	// ProgramUninitialized means the init message has not completed yet
	ProgramUninitialized ProgramState = iota

	// ProgramInitialized means the program accepts handle messages
	ProgramInitialized

	// ProgramTerminated means the program exited or failed to initialize
	ProgramTerminated
)

// String returns the string representation of ProgramState.
func (s ProgramState) String() string {
	switch s {
	case ProgramUninitialized:
		return "uninitialized"
	case ProgramInitialized:
		return "initialized"
	case ProgramTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Program is the durable record of a program.
type Program struct {
	// State is the lifecycle tag
	State ProgramState

	// InitMessage is the constructor message; meaningful while uninitialized
	InitMessage MessageID

	// CodeID references the program code
	CodeID CodeID

	// Allocations is the sorted set of allocated wasm pages
	Allocations []WasmPageNumber

	// PagesWithData is the sorted set of storage pages that hold data
	PagesWithData []PageNumber
}

// NewProgram returns an uninitialized program awaiting initMessage.
func NewProgram(code CodeID, initMessage MessageID) Program {
	return Program{
		State:       ProgramUninitialized,
		InitMessage: initMessage,
		CodeID:      code,
	}
}

// IsActive reports whether the program has not been terminated.
func (p *Program) IsActive() bool {
	return p.State != ProgramTerminated
}

// IsInitialized reports whether the program completed its init message.
func (p *Program) IsInitialized() bool {
	return p.State == ProgramInitialized
}

// HasPageData reports whether page holds data.
func (p *Program) HasPageData(page PageNumber) bool {
	i := sort.Search(len(p.PagesWithData), func(i int) bool { return p.PagesWithData[i] >= page })
	return i < len(p.PagesWithData) && p.PagesWithData[i] == page
}

// AddPageData marks page as holding data, keeping the set sorted.
func (p *Program) AddPageData(page PageNumber) {
	i := sort.Search(len(p.PagesWithData), func(i int) bool { return p.PagesWithData[i] >= page })
	if i < len(p.PagesWithData) && p.PagesWithData[i] == page {
		return
	}
	p.PagesWithData = append(p.PagesWithData, 0)
	copy(p.PagesWithData[i+1:], p.PagesWithData[i:])
	p.PagesWithData[i] = page
}

// RemovePageData unmarks page and reports whether it was marked.
func (p *Program) RemovePageData(page PageNumber) bool {
	i := sort.Search(len(p.PagesWithData), func(i int) bool { return p.PagesWithData[i] >= page })
	if i >= len(p.PagesWithData) || p.PagesWithData[i] != page {
		return false
	}
	p.PagesWithData = append(p.PagesWithData[:i], p.PagesWithData[i+1:]...)
	return true
}

// SortedAllocations returns a deduplicated, sorted copy of pages.
func SortedAllocations(pages []WasmPageNumber) []WasmPageNumber {
	out := make([]WasmPageNumber, 0, len(pages))
	seen := make(map[WasmPageNumber]struct{}, len(pages))
	for _, p := range pages {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Package dataset owns the reference dataset (the listed fund code table) and keeps it
// fresh: a Refresher acquires a new export with bounded retries, validates it, and only
// then swaps it into the shared State. A failed refresh never disturbs the dataset
// already being served.
package dataset

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrAcquisitionFailed is returned when every refresh attempt failed.
	ErrAcquisitionFailed = errors.New("dataset acquisition failed")
	// ErrInvalidDataset is returned when an artifact fails validation.
	ErrInvalidDataset = errors.New("invalid dataset")
)

// Dataset is one validated export.
type Dataset struct {
	Codes      []string  `json:"-"`
	Path       string    `json:"path"`
	Rows       int       `json:"rows"`
	Size       int64     `json:"size"`
	AcquiredAt time.Time `json:"acquired_at"`

	index map[string]struct{}
}

func newDataset(codes []string) *Dataset {
	sort.Strings(codes)
	d := &Dataset{Codes: codes, Rows: len(codes), index: make(map[string]struct{}, len(codes))}
	for _, c := range codes {
		d.index[c] = struct{}{}
	}
	return d
}

// Contains reports whether code (case-insensitive) is listed.
func (d *Dataset) Contains(code string) bool {
	if d == nil {
		return false
	}
	_, ok := d.index[strings.ToUpper(strings.TrimSpace(code))]
	return ok
}

// State is the single in-memory owner of the active dataset, shared by the
// refresher (writer) and the dispatcher and status server (readers).
type State struct {
	mu      sync.RWMutex
	current *Dataset
	version int
}

// NewState creates a State with no dataset loaded.
func NewState() *State {
	return &State{}
}

// Current returns the active dataset or nil.
func (s *State) Current() *Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Contains reports whether the active dataset lists code.
func (s *State) Contains(code string) bool {
	return s.Current().Contains(code)
}

// Version increments on every Replace.
func (s *State) Version() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Replace installs d as the active dataset.
func (s *State) Replace(d *Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = d
	s.version++
}

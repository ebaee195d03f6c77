package facet

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// -----------------------------------------------------------------------------
// Static backend
// -----------------------------------------------------------------------------

// StaticBackend serves a fixed, in-memory entry set through the Backend
// interface. Listing order is deterministic (paths ascending) and the
// native token is a plain offset, which makes it the reference backend for
// tests and examples.
type StaticBackend struct {
	id      string
	entries []StorageEntry

	// FailNext makes the next FetchPage calls report the backend as
	// unavailable. Intended for fault-injection in tests.
	FailNext int
}

// NewStaticBackend creates a static backend over the given entries. The
// entries are copied and sorted by path; the caller's slice is not
// retained.
func NewStaticBackend(id string, entries []StorageEntry) *StaticBackend {
	sorted := make([]StorageEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	for i := range sorted {
		sorted[i].BackendID = id
	}
	return &StaticBackend{id: id, entries: sorted}
}

// ID returns the backend identity.
func (b *StaticBackend) ID() string { return b.id }

// SupportsTagFiltering reports true: tag conditions are applied while
// listing, so no over-fetch is needed.
func (b *StaticBackend) SupportsTagFiltering() bool { return true }

// FetchPage returns the next page of entries matching the filter's
// prefix, tag, and date conditions.
func (b *StaticBackend) FetchPage(ctx context.Context, filter SearchFilter, cursor Cursor, maxEntries int) (PageResult, error) {
	if err := ctx.Err(); err != nil {
		return PageResult{}, err
	}
	if b.FailNext > 0 {
		b.FailNext--
		return PageResult{}, &BackendUnavailableError{BackendID: b.id, Err: fmt.Errorf("injected fault")}
	}
	if cursor.Exhausted {
		return PageResult{Next: Cursor{Exhausted: true}}, nil
	}
	if maxEntries < 1 {
		maxEntries = 1
	}

	offset := 0
	if cursor.NativeToken != "" {
		n, err := strconv.Atoi(cursor.NativeToken)
		if err != nil || n < 0 {
			return PageResult{}, &BackendUnavailableError{BackendID: b.id, Err: fmt.Errorf("bad native token %q", cursor.NativeToken)}
		}
		offset = n
	}

	var page []StorageEntry
	i := offset
	for ; i < len(b.entries) && len(page) < maxEntries; i++ {
		if b.matches(b.entries[i], filter) {
			page = append(page, b.entries[i])
		}
	}

	next := Cursor{NativeToken: strconv.Itoa(i)}
	if i >= len(b.entries) {
		next = Cursor{Exhausted: true}
	}
	return PageResult{Entries: page, Next: next}, nil
}

func (b *StaticBackend) matches(e StorageEntry, filter SearchFilter) bool {
	if filter.PathPrefix != "" && !strings.HasPrefix(e.Path, filter.PathPrefix) {
		return false
	}
	for k, v := range filter.Tags {
		if e.Tags[k] != v {
			return false
		}
	}
	if !filter.ModifiedAfter.IsZero() && e.LastModified.Before(filter.ModifiedAfter) {
		return false
	}
	if !filter.ModifiedBefore.IsZero() && e.LastModified.After(filter.ModifiedBefore) {
		return false
	}
	return true
}

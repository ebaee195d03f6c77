package facet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Page sizing defaults. The limit bounds per-call memory at roughly
// O(backends × page size) entries.
const (
	defaultPageSize  = 50
	defaultPageLimit = 500
)

// -----------------------------------------------------------------------------
// Searcher configuration
// -----------------------------------------------------------------------------

// searcherConfig holds the resolved configuration for a searcher.
type searcherConfig struct {
	logger        *slog.Logger
	weights       RankWeights
	pageSize      int
	pageSizeLimit int
}

// SearcherOption configures searcher construction.
type SearcherOption func(*searcherConfig)

// WithLogger sets the structured logger. The default discards everything;
// the library is silent unless asked otherwise.
func WithLogger(logger *slog.Logger) SearcherOption {
	return func(cfg *searcherConfig) {
		cfg.logger = logger
	}
}

// WithRankWeights overrides the ranking weight table.
// Default: DefaultRankWeights().
func WithRankWeights(weights RankWeights) SearcherOption {
	return func(cfg *searcherConfig) {
		cfg.weights = weights
	}
}

// WithDefaultPageSize sets the page size used when a request leaves
// PageSize zero. Default: 50.
func WithDefaultPageSize(n int) SearcherOption {
	return func(cfg *searcherConfig) {
		cfg.pageSize = n
	}
}

// WithPageSizeLimit sets the hard cap requested page sizes are clamped to.
// Default: 500.
func WithPageSizeLimit(n int) SearcherOption {
	return func(cfg *searcherConfig) {
		cfg.pageSizeLimit = n
	}
}

// -----------------------------------------------------------------------------
// Searcher
// -----------------------------------------------------------------------------

// Searcher runs federated, paginated artifact searches across a fixed set
// of backends.
//
// A Searcher is safe for concurrent use by multiple searches. Continuation
// tokens are stateless data, not held resources: the one thing callers
// must not do is issue overlapping calls with tokens derived from the same
// prior response — the two pages would re-fetch and re-emit the same
// backend ranges.
type Searcher struct {
	backends []Backend
	ranker   *Ranker
	logger   *slog.Logger

	pageSize      int
	pageSizeLimit int
}

// NewSearcher creates a searcher over the given backends.
//
// Backend order is fixed at construction and becomes part of the token
// layout; searches resumed with a token require the same backend set.
func NewSearcher(backends []Backend, opts ...SearcherOption) (*Searcher, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackends
	}

	cfg := &searcherConfig{
		logger:        slog.New(slog.DiscardHandler),
		weights:       DefaultRankWeights(),
		pageSize:      defaultPageSize,
		pageSizeLimit: defaultPageLimit,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.pageSize <= 0 || cfg.pageSizeLimit <= 0 || cfg.pageSize > cfg.pageSizeLimit {
		return nil, fmt.Errorf("facet: invalid page sizing (default %d, limit %d)", cfg.pageSize, cfg.pageSizeLimit)
	}

	seen := make(map[string]bool, len(backends))
	for _, b := range backends {
		id := b.ID()
		if id == "" {
			return nil, fmt.Errorf("facet: backend with empty id")
		}
		if seen[id] {
			return nil, fmt.Errorf("facet: duplicate backend id %q", id)
		}
		seen[id] = true
	}

	return &Searcher{
		backends:      backends,
		ranker:        NewRanker(cfg.weights),
		logger:        cfg.logger,
		pageSize:      cfg.pageSize,
		pageSizeLimit: cfg.pageSizeLimit,
	}, nil
}

// fetchOutcome is one backend worker's result-or-error value. Workers
// never fail the join; faults surface here and degrade to warnings.
type fetchOutcome struct {
	page    PageResult
	err     error
	skipped bool // carryover already covered this round; no fetch issued
}

// Search executes one page of a federated search.
//
// The call proceeds through fetch (concurrent, one worker per live
// backend), merge (classify, group per backend, filter, rank across
// backends), and emit (trim to page size, carry the surplus into the next
// token). Result order depends only on the ranker's total order, never on
// backend response arrival order.
//
// The union of artifacts over all pages of an unmodified filter equals
// what a single unpaginated pass would return, provided backend contents
// do not change mid-pagination.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchPage, error) {
	// INIT: validate before any backend call, then restore cursor state.
	if err := req.Filter.Validate(); err != nil {
		return nil, err
	}
	pageSize := s.clampPageSize(req.PageSize)

	filterDigest, err := fingerprintFilter(req.Filter)
	if err != nil {
		return nil, err
	}

	states, err := s.initialStates(req.Token, filterDigest)
	if err != nil {
		return nil, err
	}

	// FETCHING: one worker per non-exhausted backend whose carryover does
	// not already cover the round. Workers write into their own slot, so
	// the join is race-free and order-insensitive. Skipping full backends
	// keeps carryover bounded at O(backends × page size) entries instead
	// of growing with the slowest-draining backend's dataset.
	outcomes := make([]fetchOutcome, len(s.backends))
	var wg sync.WaitGroup
	for i, backend := range s.backends {
		if states[i].Cursor.Exhausted {
			continue
		}
		n := s.fetchSize(backend, req.Filter, pageSize, len(states[i].Carryover))
		if n == 0 {
			outcomes[i].skipped = true
			continue
		}
		wg.Add(1)
		go func(i int, backend Backend, n int) {
			defer wg.Done()
			page, err := backend.FetchPage(ctx, req.Filter, states[i].Cursor, n)
			outcomes[i] = fetchOutcome{page: page, err: err}
		}(i, backend, n)
	}
	wg.Wait()

	// A canceled page is not partially honored; the caller retries with
	// the same input token.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// MERGING: per backend, group the carryover plus the fresh page, then
	// pool across backends for ranking.
	var warnings []Warning
	var candidates []*Artifact
	live, failed := 0, 0

	for i, backend := range s.backends {
		entries := states[i].Carryover
		if !states[i].Cursor.Exhausted && !outcomes[i].skipped {
			live++
			if outcomes[i].err != nil {
				// This backend contributed nothing this round; its cursor
				// and carryover stand so the next page can retry it.
				failed++
				warnings = append(warnings, Warning{BackendID: backend.ID(), Message: outcomes[i].err.Error()})
				s.logger.Warn("backend fetch failed", "backend", backend.ID(), "error", outcomes[i].err)
			} else {
				fetched := outcomes[i].page.Entries
				entries = append(append([]ClassifiedEntry{}, entries...), classifyAll(fetched)...)
				states[i].Cursor = outcomes[i].page.Next
			}
		}

		for _, artifact := range Group(entries) {
			if req.Filter.matchesArtifact(artifact) {
				candidates = append(candidates, artifact)
			}
		}
		states[i].Carryover = nil
	}

	if live > 0 && failed == live && len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %d backend(s) failed", ErrAllBackendsUnavailable, failed)
	}

	ranked := s.ranker.Rank(candidates, req.Filter)

	// EMITTING: trim to the page size; the surplus rides in the token as
	// per-backend carryover entries so nothing fetched is lost.
	emitted := ranked
	var surplus []*Artifact
	if len(ranked) > pageSize {
		emitted = ranked[:pageSize]
		surplus = ranked[pageSize:]
	}

	carryover := make(map[string][]ClassifiedEntry)
	for _, artifact := range surplus {
		carryover[artifact.SourceBackend] = append(carryover[artifact.SourceBackend], artifact.Primary)
		carryover[artifact.SourceBackend] = append(carryover[artifact.SourceBackend], artifact.Companions...)
	}
	done := true
	for i, backend := range s.backends {
		states[i].Carryover = carryover[backend.ID()]
		if !states[i].Cursor.Exhausted || len(states[i].Carryover) > 0 {
			done = false
		}
	}
	// A failed backend's cursor is never exhausted, so done stays false
	// and pagination continues for it on the next call.

	page := &SearchPage{Artifacts: emitted, Warnings: warnings}
	if !done {
		token, err := encodeToken(tokenPayload{
			Version:      tokenFormatVersion,
			FilterDigest: filterDigest,
			Backends:     states,
		})
		if err != nil {
			return nil, err
		}
		page.NextToken = token
	}

	s.logger.Debug("search page emitted",
		"artifacts", len(page.Artifacts),
		"carried", len(surplus),
		"warnings", len(warnings),
		"done", done)

	return page, nil
}

// initialStates restores per-backend state from a token, or synthesizes
// start cursors for a fresh search. A token whose backend set differs from
// the searcher's configuration is invalid, never silently remapped.
func (s *Searcher) initialStates(token, filterDigest string) ([]backendState, error) {
	states := make([]backendState, len(s.backends))
	for i, backend := range s.backends {
		states[i] = backendState{BackendID: backend.ID()}
	}
	if token == "" {
		return states, nil
	}

	payload, err := decodeToken(token, filterDigest)
	if err != nil {
		return nil, err
	}
	if len(payload.Backends) != len(s.backends) {
		return nil, fmt.Errorf("%w: backend set changed", ErrInvalidToken)
	}
	byID := make(map[string]backendState, len(payload.Backends))
	for _, st := range payload.Backends {
		byID[st.BackendID] = st
	}
	for i := range states {
		st, ok := byID[states[i].BackendID]
		if !ok {
			return nil, fmt.Errorf("%w: missing state for backend %q", ErrInvalidToken, states[i].BackendID)
		}
		states[i] = st
	}
	return states, nil
}

// fetchSize decides how many entries to ask one backend for this round.
// Backends without server-side tag filtering over-fetch when tag filters
// are active, since some of what they return is discarded client-side.
// Entries already pending in the backend's carryover count against the
// round's target; zero means the round needs no fetch from this backend.
func (s *Searcher) fetchSize(backend Backend, filter SearchFilter, pageSize, pending int) int {
	n := pageSize
	if len(filter.Tags) > 0 && !backend.SupportsTagFiltering() {
		n *= 2
	}
	n -= pending
	if n < 0 {
		n = 0
	}
	return n
}

func (s *Searcher) clampPageSize(requested int) int {
	if requested <= 0 {
		return s.pageSize
	}
	if requested > s.pageSizeLimit {
		return s.pageSizeLimit
	}
	return requested
}

// classifyAll maps Classify over a raw page.
func classifyAll(entries []StorageEntry) []ClassifiedEntry {
	classified := make([]ClassifiedEntry, len(entries))
	for i, e := range entries {
		classified[i] = Classify(e)
	}
	return classified
}

package facet

import (
	"sort"
	"strings"
)

// -----------------------------------------------------------------------------
// Score
// -----------------------------------------------------------------------------

// Score is a structured relevance tuple compared lexicographically:
// exact basename match, then substring match, then tag-value match, then
// recency as a final tiebreak. It is deliberately never collapsed to a
// single float, so ordering cannot silently change on rounding.
type Score struct {
	// Exact is the weighted exact-match component: the query equals the
	// primary's basename or basename stem.
	Exact int `json:"exact"`

	// Substring is the weighted substring-match component against the
	// primary's basename.
	Substring int `json:"substring"`

	// TagMatch is the weighted tag-value match component across the
	// artifact's entries.
	TagMatch int `json:"tag_match"`

	// RecencyUnixNano orders equally-matched artifacts newest first.
	RecencyUnixNano int64 `json:"recency_unix_nano"`
}

// compare returns -1, 0, or 1 ordering s before, equal to, or after o,
// where "before" means more relevant.
func (s Score) compare(o Score) int {
	switch {
	case s.Exact != o.Exact:
		return descending(s.Exact > o.Exact)
	case s.Substring != o.Substring:
		return descending(s.Substring > o.Substring)
	case s.TagMatch != o.TagMatch:
		return descending(s.TagMatch > o.TagMatch)
	case s.RecencyUnixNano != o.RecencyUnixNano:
		return descending(s.RecencyUnixNano > o.RecencyUnixNano)
	}
	return 0
}

func descending(moreRelevant bool) int {
	if moreRelevant {
		return -1
	}
	return 1
}

// -----------------------------------------------------------------------------
// Ranker
// -----------------------------------------------------------------------------

// RankWeights configures the score assigned to each match tier. Weights
// are explicit constructor state, not package-level mutable state, so
// ranking behavior is reproducible and testable.
type RankWeights struct {
	// ExactBasename scores a query matching the primary basename exactly.
	ExactBasename int

	// BasenameSubstring scores a query contained in the primary basename.
	BasenameSubstring int

	// TagValue scores a query matching any tag value.
	TagValue int
}

// DefaultRankWeights returns the documented default weight table.
func DefaultRankWeights() RankWeights {
	return RankWeights{
		ExactBasename:     100,
		BasenameSubstring: 10,
		TagValue:          5,
	}
}

// Ranker scores and orders artifacts merged from all backends.
type Ranker struct {
	weights RankWeights
}

// NewRanker creates a ranker with the given weight table.
func NewRanker(weights RankWeights) *Ranker {
	return &Ranker{weights: weights}
}

// Rank assigns scores and sorts artifacts by descending relevance. The
// sort is stable and the comparison is a total order — ties after all
// score components break by (source backend, primary path) ascending — so
// the output never depends on the arrival order of backend responses.
func (r *Ranker) Rank(artifacts []*Artifact, filter SearchFilter) []*Artifact {
	for _, a := range artifacts {
		a.Score = r.score(a, filter)
	}

	sort.SliceStable(artifacts, func(i, j int) bool {
		return lessArtifact(artifacts[i], artifacts[j])
	})
	return artifacts
}

// lessArtifact orders a before b when a is more relevant, with the
// deterministic (backend, path) tiebreak.
func lessArtifact(a, b *Artifact) bool {
	if c := a.Score.compare(b.Score); c != 0 {
		return c < 0
	}
	if a.SourceBackend != b.SourceBackend {
		return a.SourceBackend < b.SourceBackend
	}
	return a.Primary.Path < b.Primary.Path
}

// score computes the relevance tuple for one artifact.
func (r *Ranker) score(a *Artifact, filter SearchFilter) Score {
	s := Score{RecencyUnixNano: a.Primary.LastModified.UnixNano()}

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	if query == "" {
		return s
	}

	base := strings.ToLower(baseName(a.Primary.Path))
	stem := strings.ToLower(baseName(a.Primary.AssociationKey))

	if base == query || stem == query {
		s.Exact = r.weights.ExactBasename
	}
	if strings.Contains(base, query) {
		s.Substring = r.weights.BasenameSubstring
	}
	if tagValueMatches(a, query) {
		s.TagMatch = r.weights.TagValue
	}

	return s
}

// tagValueMatches reports whether any tag value on the primary or a
// companion equals the query, case-insensitively.
func tagValueMatches(a *Artifact, query string) bool {
	if entryTagMatches(a.Primary, query) {
		return true
	}
	for _, c := range a.Companions {
		if entryTagMatches(c, query) {
			return true
		}
	}
	return false
}

func entryTagMatches(e ClassifiedEntry, query string) bool {
	for _, v := range e.Tags {
		if strings.ToLower(v) == query {
			return true
		}
	}
	return false
}

// Package facet provides federated search over genomics file storage.
//
// Facet queries multiple independent storage backends (object stores,
// managed genomics stores), classifies the listed objects into genomics
// file types, groups related files into artifacts (a BAM with its BAI
// index, FASTQ mate pairs, a reference with its companion files), ranks
// the merged results, and returns a single paginated stream behind one
// opaque continuation token.
//
// Facet never inspects file contents: classification and association are
// derived from paths, names, and tag metadata only.
package facet

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// Core types
// -----------------------------------------------------------------------------

// StorageClass describes where an object sits in its backend's storage tiers.
type StorageClass string

// Storage class values normalized across backends.
const (
	StorageClassStandard         StorageClass = "standard"
	StorageClassInfrequentAccess StorageClass = "infrequent-access"
	StorageClassArchive          StorageClass = "archive-tier"
	StorageClassDeepArchive      StorageClass = "deep-archive-tier"
)

// FileType identifies a genomics file format inferred from an entry's path.
type FileType string

// Recognized genomics file types. Data-bearing types carry sequence or
// variant data; the remainder are companion files (indexes, dictionaries).
const (
	FileTypeBAM          FileType = "bam"
	FileTypeBAI          FileType = "bai"
	FileTypeCRAM         FileType = "cram"
	FileTypeCRAI         FileType = "crai"
	FileTypeFASTQ        FileType = "fastq"
	FileTypeFASTA        FileType = "fasta"
	FileTypeFAI          FileType = "fai"
	FileTypeDict         FileType = "dict"
	FileTypeVCF          FileType = "vcf"
	FileTypeGVCF         FileType = "gvcf"
	FileTypeTBI          FileType = "tbi"
	FileTypeGFF          FileType = "gff"
	FileTypeBED          FileType = "bed"
	FileTypeBWTIndexPart FileType = "bwt_index_part"
	FileTypeUnknown      FileType = "unknown"
)

// MateRole marks one side of a paired-end sequencing read file pair.
type MateRole string

// Mate roles. Only FASTQ entries carry a role other than MateNone.
const (
	MateNone MateRole = ""
	MateR1   MateRole = "r1"
	MateR2   MateRole = "r2"
)

// StorageEntry is one raw listed object from a backend. Entries are
// immutable once produced by a Backend and live only for the duration of
// one search call.
type StorageEntry struct {
	// BackendID identifies the backend this entry was listed from.
	BackendID string `json:"backend_id"`

	// Path is the backend-native identifier (object key, read-set URI).
	Path string `json:"path"`

	// SizeBytes is the object size, or 0 when the backend does not report it.
	SizeBytes int64 `json:"size_bytes"`

	// LastModified records the backend's modification timestamp.
	LastModified time.Time `json:"last_modified"`

	// StorageClass is the normalized storage tier.
	StorageClass StorageClass `json:"storage_class,omitempty"`

	// Tags holds backend metadata key-value pairs.
	Tags map[string]string `json:"tags,omitempty"`
}

// ClassifiedEntry is a StorageEntry plus metadata inferred from its path.
// Derivation is deterministic; a ClassifiedEntry is never mutated after
// creation.
type ClassifiedEntry struct {
	StorageEntry

	// FileType is the inferred genomics file type.
	FileType FileType `json:"file_type"`

	// AssociationKey is the derived grouping key: the basename stem with
	// mate and index suffixes stripped. Unknown files use their full path
	// so they never merge with anything.
	AssociationKey string `json:"association_key"`

	// MateRole is set for paired FASTQ reads, MateNone otherwise.
	MateRole MateRole `json:"mate_role,omitempty"`
}

// Artifact is a cluster of one or more entries sharing an association key:
// a primary data file plus its companion files, treated as one search
// result.
type Artifact struct {
	// Primary is the entry judged the main data file. Data-bearing file
	// types outrank companion types for this role.
	Primary ClassifiedEntry `json:"primary"`

	// Companions lists associated entries in discovery order.
	Companions []ClassifiedEntry `json:"companions,omitempty"`

	// Score is the relevance score assigned by the ranker. It is a
	// structured tuple, never a collapsed float.
	Score Score `json:"score"`

	// SourceBackend is the backend the primary entry was listed from.
	SourceBackend string `json:"source_backend"`
}

// Size returns the total size of the primary and all companions in bytes.
func (a *Artifact) Size() int64 {
	total := a.Primary.SizeBytes
	for _, c := range a.Companions {
		total += c.SizeBytes
	}
	return total
}

// -----------------------------------------------------------------------------
// Backend interface
// -----------------------------------------------------------------------------

// Cursor is a backend's opaque pagination state. The backend that produced
// a cursor is the only component that interprets its NativeToken.
type Cursor struct {
	// NativeToken resumes the backend's native listing. Empty means
	// "start from the beginning" unless Exhausted is set.
	NativeToken string `json:"t,omitempty"`

	// Exhausted is set when the backend has no further data for the
	// filter. An exhausted cursor is terminal for that backend only.
	Exhausted bool `json:"x,omitempty"`
}

// PageResult is one backend round: a page of raw entries and the cursor to
// resume from.
type PageResult struct {
	Entries []StorageEntry
	Next    Cursor
}

// Backend is the uniform interface over one storage backend.
//
// Implementations translate backend-native listing calls and continuation
// tokens into the page protocol. They must be safe for concurrent use: the
// searcher fans out to all backends in parallel.
type Backend interface {
	// ID returns the backend's stable identity. It appears in entries,
	// tokens, and warnings, so it must not change across calls.
	ID() string

	// SupportsTagFiltering reports whether FetchPage applies tag filters
	// server-side. When false, the searcher filters client-side after
	// classification, at the cost of extra entries fetched per page.
	SupportsTagFiltering() bool

	// FetchPage returns the next page of raw entries for the filter.
	// maxEntries is a soft cap: implementations may return slightly more
	// to avoid splitting a natural backend page, and never fewer than 1
	// unless genuinely exhausted. A failure after the backend's own retry
	// policy must be reported as a BackendUnavailableError.
	FetchPage(ctx context.Context, filter SearchFilter, cursor Cursor, maxEntries int) (PageResult, error)
}

// -----------------------------------------------------------------------------
// Search request and response
// -----------------------------------------------------------------------------

// SearchRequest describes one page of a federated search.
type SearchRequest struct {
	// Filter selects and ranks entries. A zero filter matches everything.
	Filter SearchFilter

	// PageSize is the maximum number of artifacts to return. Zero uses
	// the searcher default; values above the searcher limit are clamped.
	PageSize int

	// Token resumes a previous search. Empty starts a new one. Tokens are
	// opaque: any caller-side mutation is rejected with ErrInvalidToken.
	Token string
}

// Warning reports a non-fatal degradation of one search round.
type Warning struct {
	// BackendID names the backend that could not contribute.
	BackendID string `json:"backend_id"`

	// Message describes the failure.
	Message string `json:"message"`
}

// SearchPage is one page of ranked artifacts.
//
// The three caller-visible outcomes are distinguished as:
//   - no more results: NextToken empty, Warnings empty
//   - results may be incomplete: non-empty Warnings
//   - hard failure: Search returned an error instead of a page
type SearchPage struct {
	// Artifacts are ordered by descending relevance.
	Artifacts []*Artifact `json:"artifacts"`

	// NextToken resumes the search, or is empty at end of results.
	NextToken string `json:"next_token,omitempty"`

	// Warnings lists backends that failed this round. Pagination of the
	// healthy backends continues through NextToken.
	Warnings []Warning `json:"warnings,omitempty"`
}

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// Error sentinel values for caller-fault conditions.
var (
	// ErrInvalidToken indicates a malformed, tampered, or expired
	// continuation token. The caller must restart the search without a
	// token; the search is never silently reset.
	ErrInvalidToken = errors.New("facet: invalid continuation token")

	// ErrInvalidFilter indicates a filter referencing an unknown
	// attribute or a malformed range. No backend is called.
	ErrInvalidFilter = errors.New("facet: invalid search filter")

	// ErrNoBackends indicates a searcher constructed without backends.
	ErrNoBackends = errors.New("facet: no backends configured")

	// ErrAllBackendsUnavailable indicates every backend failed in one
	// round, so the search cannot make progress at all.
	ErrAllBackendsUnavailable = errors.New("facet: all backends unavailable")
)

// BackendUnavailableError reports that one backend's fetch failed after
// its own retry policy was exhausted. The searcher degrades to partial
// results and surfaces the failure as a Warning rather than aborting.
type BackendUnavailableError struct {
	BackendID string
	Err       error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("facet: backend %s unavailable: %v", e.BackendID, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error {
	return e.Err
}

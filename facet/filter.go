package facet

import (
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// Search filter
// -----------------------------------------------------------------------------

// SearchFilter selects and ranks entries across all backends.
//
// The free-text Query drives relevance ranking. The structured conditions
// restrict which artifacts are returned: a zero-value filter matches
// everything. Backends apply whatever conditions they support server-side
// (prefixes, date ranges); the searcher applies the remainder client-side
// after classification.
type SearchFilter struct {
	// Query is the free-text search term used for ranking. Optional.
	Query string `json:"query,omitempty"`

	// PathPrefix restricts results to paths under a backend-native
	// prefix. Optional.
	PathPrefix string `json:"path_prefix,omitempty"`

	// FileTypes restricts results to artifacts whose primary has one of
	// these types. Companions of a matching primary are always included.
	FileTypes []FileType `json:"file_types,omitempty"`

	// Tags requires every listed key to be present with the given value
	// on the artifact's primary entry.
	Tags map[string]string `json:"tags,omitempty"`

	// ModifiedAfter and ModifiedBefore bound the primary's modification
	// time. Zero values leave the bound open.
	ModifiedAfter  time.Time `json:"modified_after,omitempty"`
	ModifiedBefore time.Time `json:"modified_before,omitempty"`
}

// knownFileTypes validates FileTypes values in filters.
var knownFileTypes = map[FileType]bool{
	FileTypeBAM:          true,
	FileTypeBAI:          true,
	FileTypeCRAM:         true,
	FileTypeCRAI:         true,
	FileTypeFASTQ:        true,
	FileTypeFASTA:        true,
	FileTypeFAI:          true,
	FileTypeDict:         true,
	FileTypeVCF:          true,
	FileTypeGVCF:         true,
	FileTypeTBI:          true,
	FileTypeGFF:          true,
	FileTypeBED:          true,
	FileTypeBWTIndexPart: true,
	FileTypeUnknown:      true,
}

// Validate rejects filters referencing unknown attributes or malformed
// ranges. Validation happens before any backend call is made.
func (f SearchFilter) Validate() error {
	for _, t := range f.FileTypes {
		if !knownFileTypes[t] {
			return fmt.Errorf("%w: unknown file type %q", ErrInvalidFilter, t)
		}
	}
	for k := range f.Tags {
		if k == "" {
			return fmt.Errorf("%w: empty tag key", ErrInvalidFilter)
		}
	}
	if !f.ModifiedAfter.IsZero() && !f.ModifiedBefore.IsZero() && f.ModifiedAfter.After(f.ModifiedBefore) {
		return fmt.Errorf("%w: modified_after is later than modified_before", ErrInvalidFilter)
	}
	return nil
}

// matchesArtifact applies the structured conditions to an artifact. The
// conditions are judged against the primary entry: companion files ride
// along with a matching primary.
func (f SearchFilter) matchesArtifact(a *Artifact) bool {
	if len(f.FileTypes) > 0 {
		found := false
		for _, t := range f.FileTypes {
			if a.Primary.FileType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for k, v := range f.Tags {
		if a.Primary.Tags[k] != v {
			return false
		}
	}

	if !f.ModifiedAfter.IsZero() && a.Primary.LastModified.Before(f.ModifiedAfter) {
		return false
	}
	if !f.ModifiedBefore.IsZero() && a.Primary.LastModified.After(f.ModifiedBefore) {
		return false
	}

	return true
}

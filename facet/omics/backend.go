// Package omics provides a managed-genomics-store search backend over AWS
// HealthOmics sequence stores.
//
// The backend lists read sets and translates them into facet storage
// entries under synthetic "omics://" paths. Read-set attributes that have
// no object-store analogue (sample, subject, status, reference) surface as
// tags, so tag filters and tag-based ranking work uniformly across
// backends. The native token is the HealthOmics ListReadSets NextToken.
package omics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/omics"
	"github.com/aws/aws-sdk-go-v2/service/omics/types"
	"github.com/aws/smithy-go"

	"github.com/justapithecus/facet/facet"
)

// maxListResults is the HealthOmics ListReadSets page-size ceiling.
const maxListResults = 100

// Tag keys synthesized from read-set attributes.
const (
	TagSample    = "omics:sample"
	TagSubject   = "omics:subject"
	TagStatus    = "omics:status"
	TagReference = "omics:reference"
)

// API defines the subset of the HealthOmics client interface used by the
// backend. This enables testing with mock implementations.
type API interface {
	ListReadSets(ctx context.Context, params *omics.ListReadSetsInput, optFns ...func(*omics.Options)) (*omics.ListReadSetsOutput, error)
}

// Config holds configuration for the HealthOmics backend.
type Config struct {
	// SequenceStoreID is the HealthOmics sequence store to search. Required.
	SequenceStoreID string

	// BackendID overrides the backend identity.
	// Default: "omics://<sequence store id>".
	BackendID string
}

// Backend implements facet.Backend over a HealthOmics sequence store.
type Backend struct {
	client  API
	storeID string
	id      string
}

// New creates a HealthOmics search backend with the given client and
// configuration.
//
// The client must be pre-configured with credentials and region. Use
// github.com/aws/aws-sdk-go-v2/config to load configuration.
func New(client API, cfg Config) (*Backend, error) {
	if client == nil {
		return nil, errors.New("omics: client is required")
	}
	if cfg.SequenceStoreID == "" {
		return nil, errors.New("omics: sequence store id is required")
	}
	id := cfg.BackendID
	if id == "" {
		id = "omics://" + cfg.SequenceStoreID
	}
	return &Backend{client: client, storeID: cfg.SequenceStoreID, id: id}, nil
}

// ID returns the backend identity.
func (b *Backend) ID() string { return b.id }

// SupportsTagFiltering reports false: read-set listing filters on dates
// and names, not arbitrary tags; synthesized tags are filtered client-side.
func (b *Backend) SupportsTagFiltering() bool { return false }

// FetchPage lists the next page of read sets. Date bounds from the filter
// are pushed down to the service; everything else is resolved client-side
// by the searcher.
//
// Unlike the s3 backend, no adapter-local retry loop wraps the list call:
// the HealthOmics client retries throttling and transient faults through
// the SDK's standard retryer, so a surfaced error means the client already
// gave up and the backend is reported unavailable for the round.
func (b *Backend) FetchPage(ctx context.Context, filter facet.SearchFilter, cursor facet.Cursor, maxEntries int) (facet.PageResult, error) {
	if cursor.Exhausted {
		return facet.PageResult{Next: facet.Cursor{Exhausted: true}}, nil
	}
	if maxEntries < 1 {
		maxEntries = 1
	}
	if maxEntries > maxListResults {
		maxEntries = maxListResults
	}

	input := &omics.ListReadSetsInput{
		SequenceStoreId: aws.String(b.storeID),
		MaxResults:      aws.Int32(int32(maxEntries)),
	}
	if cursor.NativeToken != "" {
		input.NextToken = aws.String(cursor.NativeToken)
	}
	if rsf := readSetFilter(filter); rsf != nil {
		input.Filter = rsf
	}

	out, err := b.client.ListReadSets(ctx, input)
	if err != nil {
		return facet.PageResult{}, &facet.BackendUnavailableError{BackendID: b.id, Err: fmt.Errorf("omics: list read sets: %w", classify(err))}
	}

	entries := make([]facet.StorageEntry, 0, len(out.ReadSets))
	for _, item := range out.ReadSets {
		entries = append(entries, b.entryOf(item))
	}

	next := facet.Cursor{Exhausted: true}
	if aws.ToString(out.NextToken) != "" {
		next = facet.Cursor{NativeToken: aws.ToString(out.NextToken)}
	}
	return facet.PageResult{Entries: entries, Next: next}, nil
}

// readSetFilter builds the server-side filter, or nil when nothing can be
// pushed down.
func readSetFilter(filter facet.SearchFilter) *types.ReadSetFilter {
	rsf := &types.ReadSetFilter{}
	pushed := false
	if !filter.ModifiedAfter.IsZero() {
		rsf.CreatedAfter = aws.Time(filter.ModifiedAfter)
		pushed = true
	}
	if !filter.ModifiedBefore.IsZero() {
		rsf.CreatedBefore = aws.Time(filter.ModifiedBefore)
		pushed = true
	}
	if !pushed {
		return nil
	}
	return rsf
}

// entryOf maps one read-set list item into a storage entry.
//
// The synthetic path keeps the read-set name as the final component so
// path-based classification (file type, mates, association keys) applies
// to managed read sets exactly as it does to object keys. When the name
// carries no recognizable extension, one is appended from the read set's
// declared file type. Read-set listings do not report byte sizes, so
// SizeBytes is zero.
func (b *Backend) entryOf(item types.ReadSetListItem) facet.StorageEntry {
	name := aws.ToString(item.Name)
	if name == "" {
		name = aws.ToString(item.Id)
	}
	if facet.Classify(facet.StorageEntry{Path: name}).FileType == facet.FileTypeUnknown {
		name += extensionOf(item.FileType)
	}

	tags := map[string]string{
		TagStatus: string(item.Status),
	}
	if v := aws.ToString(item.SampleId); v != "" {
		tags[TagSample] = v
	}
	if v := aws.ToString(item.SubjectId); v != "" {
		tags[TagSubject] = v
	}
	if v := aws.ToString(item.ReferenceArn); v != "" {
		tags[TagReference] = v
	}

	return facet.StorageEntry{
		BackendID:    b.id,
		Path:         fmt.Sprintf("omics://%s/readSet/%s/%s", b.storeID, aws.ToString(item.Id), name),
		SizeBytes:    0,
		LastModified: aws.ToTime(item.CreationTime),
		StorageClass: storageClassOf(item.Status),
		Tags:         tags,
	}
}

// extensionOf maps a declared read-set file type to a path extension.
func extensionOf(t types.FileType) string {
	switch t {
	case types.FileTypeBam, types.FileTypeUbam:
		return ".bam"
	case types.FileTypeCram:
		return ".cram"
	case types.FileTypeFastq:
		return ".fastq.gz"
	default:
		return ""
	}
}

// storageClassOf maps read-set status onto facet storage tiers: archived
// read sets need activation before their data is readable, like objects
// in an archive tier.
func storageClassOf(status types.ReadSetStatus) facet.StorageClass {
	switch status {
	case types.ReadSetStatusArchived:
		return facet.StorageClassArchive
	case types.ReadSetStatusActivating:
		return facet.StorageClassInfrequentAccess
	default:
		return facet.StorageClassStandard
	}
}

// classify annotates throttling so callers see why the backend was
// unavailable.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ThrottlingException" {
		return fmt.Errorf("throttled: %w", err)
	}
	return err
}

// -----------------------------------------------------------------------------
// Mock HealthOmics Client for Testing
// -----------------------------------------------------------------------------

// MockReadSet is one read set held by the mock client.
type MockReadSet struct {
	ID        string
	Name      string
	FileType  types.FileType
	Status    types.ReadSetStatus
	SampleID  string
	SubjectID string
	Created   time.Time
}

// MockOmicsClient is a test double for API with MaxResults/NextToken
// pagination over a fixed read-set list.
type MockOmicsClient struct {
	readSets []MockReadSet

	// ListCalls counts ListReadSets invocations.
	ListCalls int

	// FailListCalls makes the next N ListReadSets calls fail.
	FailListCalls int
}

// NewMockOmicsClient creates a mock client holding the given read sets.
func NewMockOmicsClient(readSets ...MockReadSet) *MockOmicsClient {
	return &MockOmicsClient{readSets: readSets}
}

// ListReadSets implements API.ListReadSets for testing.
func (m *MockOmicsClient) ListReadSets(_ context.Context, params *omics.ListReadSetsInput, _ ...func(*omics.Options)) (*omics.ListReadSetsOutput, error) {
	m.ListCalls++
	if m.FailListCalls > 0 {
		m.FailListCalls--
		return nil, &mockAPIError{code: "InternalServerException", message: "simulated failure"}
	}

	offset := 0
	if tok := aws.ToString(params.NextToken); tok != "" {
		if _, err := fmt.Sscanf(tok, "offset-%d", &offset); err != nil {
			return nil, &mockAPIError{code: "ValidationException", message: "bad token"}
		}
	}
	limit := int(aws.ToInt32(params.MaxResults))
	if limit <= 0 {
		limit = maxListResults
	}

	var items []types.ReadSetListItem
	i := offset
	for ; i < len(m.readSets) && len(items) < limit; i++ {
		rs := m.readSets[i]
		if f := params.Filter; f != nil {
			if f.CreatedAfter != nil && rs.Created.Before(*f.CreatedAfter) {
				continue
			}
			if f.CreatedBefore != nil && rs.Created.After(*f.CreatedBefore) {
				continue
			}
		}
		items = append(items, types.ReadSetListItem{
			Id:              aws.String(rs.ID),
			Name:            aws.String(rs.Name),
			SequenceStoreId: params.SequenceStoreId,
			FileType:        rs.FileType,
			Status:          rs.Status,
			SampleId:        aws.String(rs.SampleID),
			SubjectId:       aws.String(rs.SubjectID),
			CreationTime:    aws.Time(rs.Created),
		})
	}

	out := &omics.ListReadSetsOutput{ReadSets: items}
	if i < len(m.readSets) {
		out.NextToken = aws.String(fmt.Sprintf("offset-%d", i))
	}
	return out, nil
}

// mockAPIError implements smithy.APIError for testing.
type mockAPIError struct {
	code    string
	message string
}

func (e *mockAPIError) Error() string                 { return e.message }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.message }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

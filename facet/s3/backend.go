// Package s3 provides an object-store search backend over S3-compatible
// services (AWS S3, MinIO, LocalStack, Cloudflare R2).
//
// The backend translates ListObjectsV2 pages and continuation tokens into
// the facet page protocol. S3 has no server-side tag filtering, so the
// searcher filters tags client-side; object tags are only available when
// Config.FetchTags opts into one GetObjectTagging call per listed object.
//
// Transient listing failures are retried with jittered exponential backoff
// before the backend reports itself unavailable for the round.
package s3

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/justapithecus/facet/facet"
)

// Retry policy bounds for transient listing errors.
const (
	defaultMaxAttempts = 3
	defaultRetryBase   = 200 * time.Millisecond
	maxRetryWait       = 5 * time.Second
)

// API defines the subset of the S3 client interface used by the backend.
// This enables testing with mock implementations.
type API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObjectTagging(ctx context.Context, params *s3.GetObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error)
}

// Config holds configuration for the S3 backend.
type Config struct {
	// Bucket is the S3 bucket name. Required.
	Bucket string

	// Prefix is an optional key prefix scoping all searches.
	// If set, a trailing slash is added if missing.
	Prefix string

	// BackendID overrides the backend identity.
	// Default: "s3://<bucket>".
	BackendID string

	// FetchTags enables one GetObjectTagging call per listed object so
	// tag filters and tag-based ranking see S3 object tags. Costly on
	// large pages; off by default.
	FetchTags bool

	// MaxAttempts bounds retries of a failing list call. Default: 3.
	MaxAttempts int

	// RetryBase is the first backoff delay. Default: 200ms.
	RetryBase time.Duration
}

// Backend implements facet.Backend over an S3-compatible object store.
type Backend struct {
	client      API
	bucket      string
	prefix      string
	id          string
	fetchTags   bool
	maxAttempts int
	retryBase   time.Duration

	sleep func(ctx context.Context, d time.Duration) error // injectable for tests
}

// New creates an S3 search backend with the given client and configuration.
//
// The client must be pre-configured with credentials, region, and endpoint.
// Use github.com/aws/aws-sdk-go-v2/config to load configuration.
func New(client API, cfg Config) (*Backend, error) {
	if client == nil {
		return nil, errors.New("s3: client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	id := cfg.BackendID
	if id == "" {
		id = "s3://" + cfg.Bucket
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = defaultRetryBase
	}

	return &Backend{
		client:      client,
		bucket:      cfg.Bucket,
		prefix:      prefix,
		id:          id,
		fetchTags:   cfg.FetchTags,
		maxAttempts: maxAttempts,
		retryBase:   retryBase,
		sleep:       sleepContext,
	}, nil
}

// ID returns the backend identity.
func (b *Backend) ID() string { return b.id }

// SupportsTagFiltering reports false: S3 listing cannot filter by object
// tags server-side.
func (b *Backend) SupportsTagFiltering() bool { return false }

// FetchPage lists the next page of objects under the configured prefix
// (narrowed by the filter's path prefix). The native token is S3's
// ListObjectsV2 continuation token.
func (b *Backend) FetchPage(ctx context.Context, filter facet.SearchFilter, cursor facet.Cursor, maxEntries int) (facet.PageResult, error) {
	if cursor.Exhausted {
		return facet.PageResult{Next: facet.Cursor{Exhausted: true}}, nil
	}
	if maxEntries < 1 {
		maxEntries = 1
	}

	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(b.prefix + strings.TrimPrefix(filter.PathPrefix, "/")),
		MaxKeys: aws.Int32(int32(maxEntries)),
	}
	if cursor.NativeToken != "" {
		input.ContinuationToken = aws.String(cursor.NativeToken)
	}

	out, err := b.listWithRetry(ctx, input)
	if err != nil {
		return facet.PageResult{}, &facet.BackendUnavailableError{BackendID: b.id, Err: err}
	}

	entries := make([]facet.StorageEntry, 0, len(out.Contents))
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		entry := facet.StorageEntry{
			BackendID:    b.id,
			Path:         strings.TrimPrefix(key, b.prefix),
			SizeBytes:    aws.ToInt64(obj.Size),
			LastModified: aws.ToTime(obj.LastModified),
			StorageClass: storageClassOf(obj.StorageClass),
		}
		if b.fetchTags {
			tags, err := b.objectTags(ctx, key)
			if err != nil {
				return facet.PageResult{}, &facet.BackendUnavailableError{BackendID: b.id, Err: err}
			}
			entry.Tags = tags
		}
		entries = append(entries, entry)
	}

	next := facet.Cursor{Exhausted: true}
	if aws.ToBool(out.IsTruncated) {
		next = facet.Cursor{NativeToken: aws.ToString(out.NextContinuationToken)}
	}
	return facet.PageResult{Entries: entries, Next: next}, nil
}

// listWithRetry retries transient list failures with jittered exponential
// backoff; non-transient errors fail immediately.
func (b *Backend) listWithRetry(ctx context.Context, input *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error) {
	var lastErr error
	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		out, err := b.client.ListObjectsV2(ctx, input)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !isTransient(err) {
			return nil, fmt.Errorf("s3: list objects: %w", err)
		}

		wait := b.retryBase << (attempt - 1)
		if wait > maxRetryWait {
			wait = maxRetryWait
		}
		wait += time.Duration(rand.Int63n(int64(wait)/4 + 1))
		if err := b.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("s3: list objects after %d attempts: %w", b.maxAttempts, lastErr)
}

// objectTags fetches the tag set for one object.
func (b *Backend) objectTags(ctx context.Context, key string) (map[string]string, error) {
	out, err := b.client.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3: get object tagging: %w", err)
	}
	if len(out.TagSet) == 0 {
		return nil, nil
	}
	tags := make(map[string]string, len(out.TagSet))
	for _, t := range out.TagSet {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return tags, nil
}

// storageClassOf normalizes S3 storage classes into facet tiers.
func storageClassOf(class types.ObjectStorageClass) facet.StorageClass {
	switch class {
	case types.ObjectStorageClassStandardIa, types.ObjectStorageClassOnezoneIa:
		return facet.StorageClassInfrequentAccess
	case types.ObjectStorageClassGlacier, types.ObjectStorageClassGlacierIr:
		return facet.StorageClassArchive
	case types.ObjectStorageClassDeepArchive:
		return facet.StorageClassDeepArchive
	default:
		return facet.StorageClassStandard
	}
}

// isTransient classifies an error as retryable: throttling, internal
// service errors, and request timeouts.
func isTransient(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "Throttling", "ThrottlingException",
			"RequestTimeout", "InternalError", "ServiceUnavailable",
			"503", "500":
			return true
		}
		return false
	}
	// Non-API errors (connection resets, DNS) are treated as transient.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// sleepContext waits for d or until the context is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// -----------------------------------------------------------------------------
// Mock S3 Client for Testing
// -----------------------------------------------------------------------------

// MockObject is one object held by the mock client.
type MockObject struct {
	Key          string
	Size         int64
	LastModified time.Time
	StorageClass types.ObjectStorageClass
	Tags         map[string]string
}

// MockS3Client is a test double for API. Listing is lexicographic by key
// with real MaxKeys/continuation-token pagination.
type MockS3Client struct {
	mu      sync.RWMutex
	objects []MockObject // kept sorted by key

	// ListCalls counts ListObjectsV2 invocations.
	ListCalls int

	// FailListCalls makes the next N ListObjectsV2 calls fail with a
	// transient error. Used to exercise the retry and unavailability
	// paths.
	FailListCalls int

	// FailCode is the APIError code returned while FailListCalls > 0.
	// Default "InternalError" (transient).
	FailCode string
}

// NewMockS3Client creates a mock client holding the given objects.
func NewMockS3Client(objects ...MockObject) *MockS3Client {
	m := &MockS3Client{objects: make([]MockObject, len(objects))}
	copy(m.objects, objects)
	sort.Slice(m.objects, func(i, j int) bool { return m.objects[i].Key < m.objects[j].Key })
	return m
}

// ListObjectsV2 implements API.ListObjectsV2 for testing.
func (m *MockS3Client) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ListCalls++
	if m.FailListCalls > 0 {
		m.FailListCalls--
		code := m.FailCode
		if code == "" {
			code = "InternalError"
		}
		return nil, &smithyAPIError{code: code, message: "simulated list failure"}
	}

	prefix := aws.ToString(params.Prefix)
	after := aws.ToString(params.ContinuationToken)
	maxKeys := int(aws.ToInt32(params.MaxKeys))
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	var contents []types.Object
	truncated := false
	for _, obj := range m.objects {
		if !strings.HasPrefix(obj.Key, prefix) {
			continue
		}
		if after != "" && obj.Key <= after {
			continue
		}
		if len(contents) == maxKeys {
			truncated = true
			break
		}
		o := obj
		contents = append(contents, types.Object{
			Key:          aws.String(o.Key),
			Size:         aws.Int64(o.Size),
			LastModified: aws.Time(o.LastModified),
			StorageClass: o.StorageClass,
		})
	}

	out := &s3.ListObjectsV2Output{
		Contents:    contents,
		IsTruncated: aws.Bool(truncated),
	}
	if truncated {
		out.NextContinuationToken = contents[len(contents)-1].Key
	}
	return out, nil
}

// GetObjectTagging implements API.GetObjectTagging for testing.
func (m *MockS3Client) GetObjectTagging(_ context.Context, params *s3.GetObjectTaggingInput, _ ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := aws.ToString(params.Key)
	for _, obj := range m.objects {
		if obj.Key != key {
			continue
		}
		tagSet := make([]types.Tag, 0, len(obj.Tags))
		for _, k := range sortedKeys(obj.Tags) {
			tagSet = append(tagSet, types.Tag{Key: aws.String(k), Value: aws.String(obj.Tags[k])})
		}
		return &s3.GetObjectTaggingOutput{TagSet: tagSet}, nil
	}
	return nil, &types.NoSuchKey{}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// smithyAPIError implements smithy.APIError for testing.
type smithyAPIError struct {
	code    string
	message string
}

func (e *smithyAPIError) Error() string {
	return e.message
}

func (e *smithyAPIError) ErrorCode() string {
	return e.code
}

func (e *smithyAPIError) ErrorMessage() string {
	return e.message
}

func (e *smithyAPIError) ErrorFault() smithy.ErrorFault {
	return smithy.FaultUnknown
}

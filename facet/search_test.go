package facet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"
)

func entryAt(path string, modified time.Time, tags map[string]string) StorageEntry {
	return StorageEntry{
		Path:         path,
		SizeBytes:    1024,
		LastModified: modified,
		StorageClass: StorageClassStandard,
		Tags:         tags,
	}
}

// twoBackendSearcher builds a searcher over an object-store-like backend
// and a managed-store-like backend with overlapping sample names.
func twoBackendSearcher(t *testing.T, opts ...SearcherOption) (*Searcher, *StaticBackend, *StaticBackend) {
	t.Helper()
	when := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	object := NewStaticBackend("s3://cohort-data", []StorageEntry{
		entryAt("aligned/sample001.bam", when, map[string]string{"sample": "sample001"}),
		entryAt("aligned/sample001.bam.bai", when, nil),
		entryAt("aligned/sample002.bam", when.Add(time.Hour), map[string]string{"sample": "sample002"}),
		entryAt("aligned/sample002.bam.bai", when.Add(time.Hour), nil),
		entryAt("calls/sample001.vcf.gz", when, nil),
		entryAt("calls/sample001.vcf.gz.tbi", when, nil),
		entryAt("ref/GRCh38.fa", when.Add(-time.Hour), nil),
		entryAt("ref/GRCh38.fa.fai", when.Add(-time.Hour), nil),
	})
	managed := NewStaticBackend("omics://seq-1", []StorageEntry{
		entryAt("omics://seq-1/readSet/rs1/run7_R1.fastq.gz", when, map[string]string{"omics:sample": "sample001"}),
		entryAt("omics://seq-1/readSet/rs1/run7_R2.fastq.gz", when, map[string]string{"omics:sample": "sample001"}),
		entryAt("omics://seq-1/readSet/rs2/sample001.cram", when, nil),
		entryAt("omics://seq-1/readSet/rs2/sample001.cram.crai", when, nil),
	})

	searcher, err := NewSearcher([]Backend{object, managed}, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return searcher, object, managed
}

// collectAllPages follows continuation tokens to the end and returns every
// page in order.
func collectAllPages(t *testing.T, s *Searcher, req SearchRequest) []*SearchPage {
	t.Helper()
	var pages []*SearchPage
	for {
		page, err := s.Search(context.Background(), req)
		if err != nil {
			t.Fatalf("Search failed on page %d: %v", len(pages), err)
		}
		pages = append(pages, page)
		if page.NextToken == "" {
			return pages
		}
		if len(pages) > 100 {
			t.Fatal("pagination did not terminate")
		}
		req.Token = page.NextToken
	}
}

// entryPaths flattens pages into a sorted list of every primary and
// companion path they contain.
func entryPaths(pages []*SearchPage) []string {
	var paths []string
	for _, page := range pages {
		for _, a := range page.Artifacts {
			paths = append(paths, a.Primary.Path)
			for _, c := range a.Companions {
				paths = append(paths, c.Path)
			}
		}
	}
	sort.Strings(paths)
	return paths
}

func primaryPaths(pages []*SearchPage) []string {
	var paths []string
	for _, page := range pages {
		for _, a := range page.Artifacts {
			paths = append(paths, a.Primary.Path)
		}
	}
	return paths
}

func TestSearch_SinglePageGroupsAndRanks(t *testing.T) {
	searcher, _, _ := twoBackendSearcher(t)

	page, err := searcher.Search(context.Background(), SearchRequest{
		Filter:   SearchFilter{Query: "sample001"},
		PageSize: 50,
	})
	if err != nil {
		t.Fatal(err)
	}

	if page.NextToken != "" {
		t.Errorf("expected terminal page, got token %q", page.NextToken)
	}
	if len(page.Warnings) != 0 {
		t.Errorf("unexpected warnings: %+v", page.Warnings)
	}
	// 7 artifacts: sample001 bam+bai, sample002 bam+bai, vcf+tbi,
	// reference+fai, fastq pair, cram+crai ... minus merges = 6 clusters.
	if len(page.Artifacts) != 6 {
		t.Fatalf("got %d artifacts: %v", len(page.Artifacts), primaryPaths([]*SearchPage{page}))
	}

	top := page.Artifacts[0]
	if got := baseName(top.Primary.Path); got != "sample001.bam" && got != "sample001.vcf.gz" && got != "sample001.cram" {
		t.Errorf("top result = %q, want an exact sample001 stem match", top.Primary.Path)
	}
	if top.Score.Exact == 0 {
		t.Errorf("top result has no exact-match score: %+v", top.Score)
	}
}

func TestSearch_PaginationCompleteness(t *testing.T) {
	searcher, _, _ := twoBackendSearcher(t)
	filter := SearchFilter{Query: "sample001"}

	single, err := searcher.Search(context.Background(), SearchRequest{Filter: filter, PageSize: 500})
	if err != nil {
		t.Fatal(err)
	}
	paged := collectAllPages(t, searcher, SearchRequest{Filter: filter, PageSize: 2})

	want := entryPaths([]*SearchPage{single})
	got := entryPaths(paged)
	if len(got) != len(want) {
		t.Fatalf("paged run returned %d entries, single pass %d\npaged:  %v\nsingle: %v", len(got), len(want), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry sets differ:\npaged:  %v\nsingle: %v", got, want)
		}
	}
}

func TestSearch_PaginationDeterminism(t *testing.T) {
	run := func() ([]string, []string) {
		searcher, _, _ := twoBackendSearcher(t)
		var tokens []string
		req := SearchRequest{Filter: SearchFilter{Query: "sample"}, PageSize: 2}
		pages := collectAllPages(t, searcher, req)
		for _, p := range pages {
			tokens = append(tokens, p.NextToken)
		}
		return primaryPaths(pages), tokens
	}

	paths1, tokens1 := run()
	paths2, tokens2 := run()

	if len(paths1) != len(paths2) {
		t.Fatalf("runs returned different result counts: %d vs %d", len(paths1), len(paths2))
	}
	for i := range paths1 {
		if paths1[i] != paths2[i] {
			t.Fatalf("result order differs between identical runs:\n%v\n%v", paths1, paths2)
		}
	}
	for i := range tokens1 {
		if tokens1[i] != tokens2[i] {
			t.Fatalf("continuation tokens differ between identical runs")
		}
	}
}

func TestSearch_PartialBackendFailure(t *testing.T) {
	searcher, _, managed := twoBackendSearcher(t)
	managed.FailNext = 1

	page, err := searcher.Search(context.Background(), SearchRequest{
		Filter:   SearchFilter{Query: "sample001"},
		PageSize: 50,
	})
	if err != nil {
		t.Fatalf("partial failure must not abort the search: %v", err)
	}

	if len(page.Warnings) != 1 || page.Warnings[0].BackendID != "omics://seq-1" {
		t.Fatalf("warnings = %+v, want one naming omics://seq-1", page.Warnings)
	}
	if len(page.Artifacts) == 0 {
		t.Fatal("expected ranked results from the healthy backend")
	}
	for _, a := range page.Artifacts {
		if a.SourceBackend != "s3://cohort-data" {
			t.Errorf("artifact from failed backend leaked: %+v", a.Primary.Path)
		}
	}
	if page.NextToken == "" {
		t.Fatal("failed backend is not exhausted; pagination must continue")
	}

	// The next page retries the failed backend and recovers its results.
	page2, err := searcher.Search(context.Background(), SearchRequest{
		Filter:   SearchFilter{Query: "sample001"},
		PageSize: 50,
		Token:    page.NextToken,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(page2.Warnings) != 0 {
		t.Errorf("recovered round still warns: %+v", page2.Warnings)
	}
	found := false
	for _, a := range page2.Artifacts {
		if a.SourceBackend == "omics://seq-1" {
			found = true
		}
	}
	if !found {
		t.Error("recovered backend contributed no artifacts")
	}
}

func TestSearch_AllBackendsFailing(t *testing.T) {
	searcher, object, managed := twoBackendSearcher(t)
	object.FailNext = 1
	managed.FailNext = 1

	_, err := searcher.Search(context.Background(), SearchRequest{PageSize: 10})
	if !errors.Is(err, ErrAllBackendsUnavailable) {
		t.Errorf("got %v, want ErrAllBackendsUnavailable", err)
	}
}

func TestSearch_TamperedTokenRejected(t *testing.T) {
	searcher, _, _ := twoBackendSearcher(t)

	page, err := searcher.Search(context.Background(), SearchRequest{PageSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	if page.NextToken == "" {
		t.Fatal("need a continuation token for this test")
	}

	mid := len(page.NextToken) / 2
	tampered := []byte(page.NextToken)
	if tampered[mid] == 'A' {
		tampered[mid] = 'B'
	} else {
		tampered[mid] = 'A'
	}

	_, err = searcher.Search(context.Background(), SearchRequest{PageSize: 2, Token: string(tampered)})
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("tampered token: got %v, want ErrInvalidToken", err)
	}
}

func TestSearch_TokenBoundToFilter(t *testing.T) {
	searcher, _, _ := twoBackendSearcher(t)

	page, err := searcher.Search(context.Background(), SearchRequest{
		Filter:   SearchFilter{Query: "sample001"},
		PageSize: 2,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = searcher.Search(context.Background(), SearchRequest{
		Filter:   SearchFilter{Query: "sample002"},
		PageSize: 2,
		Token:    page.NextToken,
	})
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("token reused with a different filter: got %v, want ErrInvalidToken", err)
	}
}

func TestSearch_InvalidFilterRejectedBeforeFetch(t *testing.T) {
	searcher, object, _ := twoBackendSearcher(t)
	object.FailNext = 1 // would surface as a warning if a fetch happened

	_, err := searcher.Search(context.Background(), SearchRequest{
		Filter: SearchFilter{FileTypes: []FileType{"spreadsheet"}},
	})
	if !errors.Is(err, ErrInvalidFilter) {
		t.Errorf("got %v, want ErrInvalidFilter", err)
	}
	if object.FailNext != 1 {
		t.Error("backend was called despite an invalid filter")
	}
}

func TestSearch_FileTypeFilterKeepsCompanions(t *testing.T) {
	searcher, _, _ := twoBackendSearcher(t)

	pages := collectAllPages(t, searcher, SearchRequest{
		Filter:   SearchFilter{FileTypes: []FileType{FileTypeBAM}},
		PageSize: 50,
	})

	var sawIndex bool
	for _, page := range pages {
		for _, a := range page.Artifacts {
			if a.Primary.FileType != FileTypeBAM {
				t.Errorf("primary %q has type %q, want bam", a.Primary.Path, a.Primary.FileType)
			}
			for _, c := range a.Companions {
				if c.FileType == FileTypeBAI {
					sawIndex = true
				}
			}
		}
	}
	if !sawIndex {
		t.Error("bai companions were filtered away from matching bam primaries")
	}
}

func TestSearch_TagFilter(t *testing.T) {
	searcher, _, _ := twoBackendSearcher(t)

	pages := collectAllPages(t, searcher, SearchRequest{
		Filter:   SearchFilter{Tags: map[string]string{"sample": "sample002"}},
		PageSize: 50,
	})

	var paths []string
	for _, p := range pages {
		paths = append(paths, primaryPaths([]*SearchPage{p})...)
	}
	if len(paths) != 1 || paths[0] != "aligned/sample002.bam" {
		t.Errorf("tag filter returned %v, want only aligned/sample002.bam", paths)
	}
}

func TestSearch_CancellationDiscardsPage(t *testing.T) {
	searcher, _, _ := twoBackendSearcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := searcher.Search(ctx, SearchRequest{PageSize: 2})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestSearch_PageSizeClamping(t *testing.T) {
	searcher, _, _ := twoBackendSearcher(t, WithDefaultPageSize(3), WithPageSizeLimit(5))

	page, err := searcher.Search(context.Background(), SearchRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Artifacts) > 3 {
		t.Errorf("default page size not applied: got %d artifacts", len(page.Artifacts))
	}

	page, err = searcher.Search(context.Background(), SearchRequest{PageSize: 10000})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Artifacts) > 5 {
		t.Errorf("page size limit not applied: got %d artifacts", len(page.Artifacts))
	}
}

func TestNewSearcher_Validation(t *testing.T) {
	if _, err := NewSearcher(nil); !errors.Is(err, ErrNoBackends) {
		t.Errorf("empty backends: got %v, want ErrNoBackends", err)
	}

	a := NewStaticBackend("dup", nil)
	b := NewStaticBackend("dup", nil)
	if _, err := NewSearcher([]Backend{a, b}); err == nil {
		t.Error("duplicate backend ids accepted")
	}
}

func TestSearch_CarryoverSurvivesTokenRoundTrip(t *testing.T) {
	// Page size 1 against six clusters forces surplus artifacts through
	// the token's carryover on every page.
	searcher, _, _ := twoBackendSearcher(t)

	pages := collectAllPages(t, searcher, SearchRequest{PageSize: 1})

	for i, p := range pages {
		if len(p.Artifacts) > 1 {
			t.Errorf("page %d has %d artifacts, want at most 1", i, len(p.Artifacts))
		}
	}
	seen := make(map[string]bool)
	for _, p := range primaryPaths(pages) {
		if seen[p] {
			t.Errorf("artifact %q emitted twice", p)
		}
		seen[p] = true
	}

	// Entry-level completeness holds even when a one-entry fetch window
	// splits clusters across pages (the documented approximation).
	all := entryPaths(pages)
	if len(all) != 12 {
		t.Errorf("pages cover %d entries, want all 12: %v", len(all), all)
	}
}

func TestSearch_CarryoverStaysBounded(t *testing.T) {
	// Two backends of singleton BAMs, paginated with a small page size.
	// A backend whose carryover already covers a round is not fetched
	// again, so the token's buffered entries stay at O(backends × page
	// size) instead of growing with the dataset.
	const perBackend = 120
	const pageSize = 10
	when := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	var aEntries, bEntries []StorageEntry
	for i := 0; i < perBackend; i++ {
		aEntries = append(aEntries, entryAt(fmt.Sprintf("a/sample%03d.bam", i), when, nil))
		bEntries = append(bEntries, entryAt(fmt.Sprintf("b/sample%03d.bam", i), when, nil))
	}
	searcher, err := NewSearcher([]Backend{
		NewStaticBackend("s3://a", aEntries),
		NewStaticBackend("s3://b", bEntries),
	})
	if err != nil {
		t.Fatal(err)
	}

	filter := SearchFilter{}
	digest, err := fingerprintFilter(filter)
	if err != nil {
		t.Fatal(err)
	}

	req := SearchRequest{Filter: filter, PageSize: pageSize}
	seen := make(map[string]bool)
	for pageNum := 0; ; pageNum++ {
		if pageNum > 2*perBackend/pageSize+2 {
			t.Fatal("pagination did not terminate")
		}
		page, err := searcher.Search(context.Background(), req)
		if err != nil {
			t.Fatal(err)
		}
		for _, a := range page.Artifacts {
			if seen[a.Primary.Path] {
				t.Errorf("artifact %q emitted twice", a.Primary.Path)
			}
			seen[a.Primary.Path] = true
		}

		if page.NextToken == "" {
			break
		}
		payload, err := decodeToken(page.NextToken, digest)
		if err != nil {
			t.Fatal(err)
		}
		buffered := 0
		for _, st := range payload.Backends {
			buffered += len(st.Carryover)
		}
		if buffered > 2*pageSize {
			t.Fatalf("page %d token buffers %d entries, want at most %d", pageNum, buffered, 2*pageSize)
		}
		req.Token = page.NextToken
	}

	if len(seen) != 2*perBackend {
		t.Errorf("emitted %d artifacts, want %d", len(seen), 2*perBackend)
	}
}

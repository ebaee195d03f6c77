package facet

import (
	"testing"
	"time"
)

func artifactFor(backend, path string, modified time.Time, tags map[string]string) *Artifact {
	entry := Classify(StorageEntry{
		BackendID:    backend,
		Path:         path,
		LastModified: modified,
		Tags:         tags,
	})
	return &Artifact{Primary: entry, SourceBackend: backend}
}

func rankedPaths(artifacts []*Artifact) []string {
	paths := make([]string, len(artifacts))
	for i, a := range artifacts {
		paths[i] = a.Primary.Path
	}
	return paths
}

func TestRank_MatchTiers(t *testing.T) {
	// Exact basename match beats substring match beats tag-only match.
	when := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	artifacts := []*Artifact{
		artifactFor("b1", "tagged.bam", when, map[string]string{"sample": "sample001"}),
		artifactFor("b1", "sample001_old.bam", when, nil),
		artifactFor("b1", "sample001.bam", when, nil),
	}

	ranked := NewRanker(DefaultRankWeights()).Rank(artifacts, SearchFilter{Query: "sample001"})

	want := []string{"sample001.bam", "sample001_old.bam", "tagged.bam"}
	got := rankedPaths(ranked)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rank order = %v, want %v", got, want)
		}
	}
}

func TestRank_RecencyBreaksTies(t *testing.T) {
	older := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	artifacts := []*Artifact{
		artifactFor("b1", "runs/old/sample001.bam", older, nil),
		artifactFor("b1", "runs/new/sample001.bam", newer, nil),
	}

	ranked := NewRanker(DefaultRankWeights()).Rank(artifacts, SearchFilter{Query: "sample001"})

	if ranked[0].Primary.Path != "runs/new/sample001.bam" {
		t.Errorf("newer artifact should rank first, got %v", rankedPaths(ranked))
	}
}

func TestRank_FullTieBreakIsDeterministic(t *testing.T) {
	when := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	build := func(order []int) []*Artifact {
		all := []*Artifact{
			artifactFor("backend-b", "x.bam", when, nil),
			artifactFor("backend-a", "x.bam", when, nil),
			artifactFor("backend-a", "a.bam", when, nil),
		}
		shuffled := make([]*Artifact, len(all))
		for i, j := range order {
			shuffled[i] = all[j]
		}
		return shuffled
	}

	ranker := NewRanker(DefaultRankWeights())
	first := rankedPaths(ranker.Rank(build([]int{0, 1, 2}), SearchFilter{}))
	second := rankedPaths(ranker.Rank(build([]int{2, 0, 1}), SearchFilter{}))

	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("arrival order leaked into ranking: %v vs %v", first, second)
		}
	}
	// Ties break by (backend, path) ascending.
	if first[0] != "a.bam" || first[1] != "x.bam" {
		t.Errorf("tie-break order = %v, want backend-a paths ascending first", first)
	}
}

func TestRank_EmptyQueryOrdersByRecency(t *testing.T) {
	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	artifacts := []*Artifact{
		artifactFor("b1", "old.bam", older, nil),
		artifactFor("b1", "new.bam", newer, nil),
	}

	ranked := NewRanker(DefaultRankWeights()).Rank(artifacts, SearchFilter{})

	if ranked[0].Primary.Path != "new.bam" {
		t.Errorf("got %v, want newest first", rankedPaths(ranked))
	}
}

func TestRank_CompanionTagsCount(t *testing.T) {
	when := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	withCompanionTag := artifactFor("b1", "a.bam", when, nil)
	companion := Classify(StorageEntry{
		BackendID:    "b1",
		Path:         "a.bam.bai",
		LastModified: when,
		Tags:         map[string]string{"sample": "s42"},
	})
	withCompanionTag.Companions = append(withCompanionTag.Companions, companion)
	plain := artifactFor("b1", "b.bam", when, nil)

	ranked := NewRanker(DefaultRankWeights()).Rank([]*Artifact{plain, withCompanionTag}, SearchFilter{Query: "s42"})

	if ranked[0].Primary.Path != "a.bam" {
		t.Errorf("companion tag match should outrank no match, got %v", rankedPaths(ranked))
	}
	if ranked[0].Score.TagMatch == 0 {
		t.Errorf("expected tag match score, got %+v", ranked[0].Score)
	}
}

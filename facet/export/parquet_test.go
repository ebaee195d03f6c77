package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/justapithecus/facet/facet"
)

func testArtifacts() []*facet.Artifact {
	when := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	bam := facet.Classify(facet.StorageEntry{
		BackendID:    "s3://cohort-data",
		Path:         "cohort/sample001.bam",
		SizeBytes:    2 << 30,
		LastModified: when,
		StorageClass: facet.StorageClassStandard,
	})
	bai := facet.Classify(facet.StorageEntry{
		BackendID: "s3://cohort-data",
		Path:      "cohort/sample001.bam.bai",
	})
	cram := facet.Classify(facet.StorageEntry{
		BackendID:    "omics://seq-1",
		Path:         "omics://seq-1/readSet/rs-0002/sample001.cram",
		LastModified: when.Add(time.Hour),
		StorageClass: facet.StorageClassArchive,
	})
	return []*facet.Artifact{
		{
			Primary:       bam,
			Companions:    []facet.ClassifiedEntry{bai},
			SourceBackend: "s3://cohort-data",
			Score:         facet.Score{Exact: 100, TagMatch: 5},
		},
		{
			Primary:       cram,
			SourceBackend: "omics://seq-1",
			Score:         facet.Score{Substring: 10},
		},
	}
}

func TestWriteReadResults(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteResults(&buf, testArtifacts()); err != nil {
		t.Fatal(err)
	}

	got, err := ReadResults(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("read back %d artifacts, want 2", len(got))
	}

	first := got[0]
	if first.Primary.Path != "cohort/sample001.bam" {
		t.Errorf("Path = %q", first.Primary.Path)
	}
	if first.Primary.FileType != facet.FileTypeBAM {
		t.Errorf("FileType = %q", first.Primary.FileType)
	}
	if first.Primary.SizeBytes != 2<<30 {
		t.Errorf("SizeBytes = %d", first.Primary.SizeBytes)
	}
	if !first.Primary.LastModified.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("LastModified = %v", first.Primary.LastModified)
	}
	if first.SourceBackend != "s3://cohort-data" {
		t.Errorf("SourceBackend = %q", first.SourceBackend)
	}
	if len(first.Companions) != 1 || first.Companions[0].Path != "cohort/sample001.bam.bai" {
		t.Errorf("Companions = %+v", first.Companions)
	}
	if first.Score.Exact != 100 || first.Score.TagMatch != 5 {
		t.Errorf("Score = %+v", first.Score)
	}

	// Row order preserves rank order.
	if got[1].Primary.Path != "omics://seq-1/readSet/rs-0002/sample001.cram" {
		t.Errorf("second row = %q", got[1].Primary.Path)
	}
	if got[1].Primary.StorageClass != facet.StorageClassArchive {
		t.Errorf("StorageClass = %q", got[1].Primary.StorageClass)
	}
	if got[1].Score.Substring != 10 {
		t.Errorf("Score = %+v", got[1].Score)
	}
}

func TestWriteResultsEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteResults(&buf, nil); err != nil {
		t.Fatal(err)
	}

	got, err := ReadResults(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("read back %d artifacts from empty export, want 0", len(got))
	}
}

// Package export persists search results for downstream analysis.
//
// The Parquet writer flattens ranked artifacts into one row per artifact
// with the companion paths as a repeated column, so a results page can be
// joined against cohort metadata in analytical tooling without re-running
// the search.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/justapithecus/facet/facet"
)

// resultRow is the Parquet row shape for one artifact.
type resultRow struct {
	SourceBackend    string   `parquet:"source_backend"`
	Path             string   `parquet:"path"`
	FileType         string   `parquet:"file_type"`
	SizeBytes        int64    `parquet:"size_bytes"`
	LastModifiedUnix int64    `parquet:"last_modified_unix"`
	StorageClass     string   `parquet:"storage_class"`
	CompanionPaths   []string `parquet:"companion_paths,list"`
	ScoreExact       int32    `parquet:"score_exact"`
	ScoreSubstring   int32    `parquet:"score_substring"`
	ScoreTagMatch    int32    `parquet:"score_tag_match"`
}

// WriteResults writes one page of ranked artifacts as a Parquet file.
// Row order preserves the artifacts' rank order.
func WriteResults(w io.Writer, artifacts []*facet.Artifact) error {
	writer := parquet.NewGenericWriter[resultRow](w)

	rows := make([]resultRow, len(artifacts))
	for i, a := range artifacts {
		rows[i] = rowOf(a)
	}

	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			_ = writer.Close()
			return fmt.Errorf("export: write rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("export: close writer: %w", err)
	}
	return nil
}

// ReadResults reads back an exported results file. It exists mostly for
// verification and tooling; analytical consumers read the file directly.
func ReadResults(r io.ReaderAt, size int64) ([]*facet.Artifact, error) {
	file, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("export: open file: %w", err)
	}

	reader := parquet.NewGenericReader[resultRow](file)
	defer func() { _ = reader.Close() }()

	artifacts := make([]*facet.Artifact, 0, file.NumRows())
	rows := make([]resultRow, 64)
	for {
		n, err := reader.Read(rows)
		for i := 0; i < n; i++ {
			artifacts = append(artifacts, artifactOf(rows[i]))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("export: read rows: %w", err)
		}
	}
	return artifacts, nil
}

func rowOf(a *facet.Artifact) resultRow {
	companions := make([]string, len(a.Companions))
	for i, c := range a.Companions {
		companions[i] = c.Path
	}
	return resultRow{
		SourceBackend:    a.SourceBackend,
		Path:             a.Primary.Path,
		FileType:         string(a.Primary.FileType),
		SizeBytes:        a.Primary.SizeBytes,
		LastModifiedUnix: a.Primary.LastModified.Unix(),
		StorageClass:     string(a.Primary.StorageClass),
		CompanionPaths:   companions,
		ScoreExact:       int32(a.Score.Exact),
		ScoreSubstring:   int32(a.Score.Substring),
		ScoreTagMatch:    int32(a.Score.TagMatch),
	}
}

// artifactOf reconstructs a summary artifact from a row. Companion rows
// retain only their paths; full entry metadata is not round-tripped.
func artifactOf(row resultRow) *facet.Artifact {
	companions := make([]facet.ClassifiedEntry, len(row.CompanionPaths))
	for i, p := range row.CompanionPaths {
		companions[i] = facet.Classify(facet.StorageEntry{BackendID: row.SourceBackend, Path: p})
	}
	primary := facet.Classify(facet.StorageEntry{
		BackendID:    row.SourceBackend,
		Path:         row.Path,
		SizeBytes:    row.SizeBytes,
		LastModified: time.Unix(row.LastModifiedUnix, 0).UTC(),
		StorageClass: facet.StorageClass(row.StorageClass),
	})
	return &facet.Artifact{
		Primary:       primary,
		Companions:    companions,
		SourceBackend: row.SourceBackend,
		Score: facet.Score{
			Exact:     int(row.ScoreExact),
			Substring: int(row.ScoreSubstring),
			TagMatch:  int(row.ScoreTagMatch),
		},
	}
}

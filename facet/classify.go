package facet

import (
	"strings"
)

// -----------------------------------------------------------------------------
// Suffix tables
// -----------------------------------------------------------------------------

// suffixRule maps one path suffix to a file type. Rules are matched in
// order, so compound suffixes (".bam.bai", ".g.vcf.gz") must precede the
// shorter suffixes they contain.
type suffixRule struct {
	suffix   string
	fileType FileType
}

var suffixRules = []suffixRule{
	{".bam.bai", FileTypeBAI},
	{".bai", FileTypeBAI},
	{".bam", FileTypeBAM},
	{".cram.crai", FileTypeCRAI},
	{".crai", FileTypeCRAI},
	{".cram", FileTypeCRAM},
	{".fastq.gz", FileTypeFASTQ},
	{".fq.gz", FileTypeFASTQ},
	{".fastq", FileTypeFASTQ},
	{".fq", FileTypeFASTQ},
	{".fa.fai", FileTypeFAI},
	{".fasta.fai", FileTypeFAI},
	{".fai", FileTypeFAI},
	{".fasta", FileTypeFASTA},
	{".fa", FileTypeFASTA},
	{".dict", FileTypeDict},
	{".g.vcf.gz", FileTypeGVCF},
	{".g.vcf", FileTypeGVCF},
	{".vcf.gz", FileTypeVCF},
	{".vcf", FileTypeVCF},
	{".tbi", FileTypeTBI},
	{".gff3", FileTypeGFF},
	{".gff", FileTypeGFF},
	{".bed", FileTypeBED},
	{".amb", FileTypeBWTIndexPart},
	{".ann", FileTypeBWTIndexPart},
	{".bwt", FileTypeBWTIndexPart},
	{".pac", FileTypeBWTIndexPart},
	{".sa", FileTypeBWTIndexPart},
}

// companionSuffixes are the index-specific suffixes stripped to derive the
// path of the primary file a companion belongs to. Only the trailing
// component is stripped: "sample.bam.bai" keeps its ".bam" so the key
// equals the primary's full path.
var companionSuffixes = map[FileType]string{
	FileTypeBAI:  ".bai",
	FileTypeCRAI: ".crai",
	FileTypeFAI:  ".fai",
	FileTypeTBI:  ".tbi",
	FileTypeDict: ".dict",
}

// dataFileTypes are the data-bearing types that outrank companion types
// when choosing an artifact's primary entry.
var dataFileTypes = map[FileType]bool{
	FileTypeBAM:   true,
	FileTypeCRAM:  true,
	FileTypeFASTQ: true,
	FileTypeFASTA: true,
	FileTypeVCF:   true,
	FileTypeGVCF:  true,
	FileTypeGFF:   true,
	FileTypeBED:   true,
}

// IsDataType reports whether t carries sequence or variant data, as
// opposed to an index or companion file.
func IsDataType(t FileType) bool {
	return dataFileTypes[t]
}

// mateSuffixes are the pair tokens recognized immediately before a FASTQ
// extension. Longer tokens first so "_R1" is not shadowed by "_1".
var mateSuffixes = []struct {
	token string
	role  MateRole
}{
	{"_R1", MateR1},
	{"_R2", MateR2},
	{"_1", MateR1},
	{"_2", MateR2},
}

// -----------------------------------------------------------------------------
// Classifier
// -----------------------------------------------------------------------------

// Classify derives the genomics file type, association key, and mate role
// for one storage entry. It is pure and total: unrecognized extensions map
// to FileTypeUnknown with the full path as association key, so unknown
// files never merge with anything.
func Classify(entry StorageEntry) ClassifiedEntry {
	classified := ClassifiedEntry{
		StorageEntry:   entry,
		FileType:       FileTypeUnknown,
		AssociationKey: entry.Path,
		MateRole:       MateNone,
	}

	suffix, fileType, ok := matchSuffix(entry.Path)
	if !ok {
		return classified
	}
	classified.FileType = fileType

	stem := entry.Path[:len(entry.Path)-len(suffix)]

	switch fileType {
	case FileTypeFASTQ:
		classified.AssociationKey = stem
		for _, m := range mateSuffixes {
			if strings.HasSuffix(stem, m.token) {
				classified.AssociationKey = stem[:len(stem)-len(m.token)]
				classified.MateRole = m.role
				break
			}
		}
	case FileTypeBWTIndexPart:
		// BWT index parts (.amb/.ann/.bwt/.pac/.sa) sit directly on the
		// reference path: "ref.fa.bwt" indexes "ref.fa".
		classified.AssociationKey = stem
	default:
		if companion, ok := companionSuffixes[fileType]; ok {
			// Strip only the trailing index suffix so the key equals the
			// primary's full path ("sample.bam.bai" -> "sample.bam").
			// Stripped by length: the suffix match is case-insensitive,
			// so the original-case path may not end in the lowercase
			// suffix literal.
			classified.AssociationKey = entry.Path[:len(entry.Path)-len(companion)]
		} else {
			classified.AssociationKey = stem
		}
	}

	return classified
}

// matchSuffix finds the first (longest-compound) suffix rule matching the
// path, case-insensitively.
func matchSuffix(path string) (suffix string, fileType FileType, ok bool) {
	lower := strings.ToLower(path)
	for _, rule := range suffixRules {
		if strings.HasSuffix(lower, rule.suffix) {
			return path[len(path)-len(rule.suffix):], rule.fileType, true
		}
	}
	return "", FileTypeUnknown, false
}

// baseName returns the final path component of a backend-native path,
// treating both "/" separated keys and URI-style paths uniformly.
func baseName(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

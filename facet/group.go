package facet

// -----------------------------------------------------------------------------
// Association grouping
// -----------------------------------------------------------------------------

// Group clusters classified entries into artifacts in a single pass.
//
// An entry joins an existing artifact when its association key matches the
// artifact's primary path or the artifact's own association key, or when
// the entry's own path is what the artifact's members point at (an index
// listed before the file it indexes). Otherwise it starts a new artifact.
//
// When a data-bearing entry lands in an artifact whose current primary is
// a companion type, the data entry takes over as primary and the old
// primary joins the companions. Among data-bearing entries, first seen
// wins. Output order is the discovery order of each artifact's first
// entry.
//
// Grouping is scoped to one backend's current page plus its carryover
// entries; clusters split across pages or backends are not reassembled.
func Group(entries []ClassifiedEntry) []*Artifact {
	var artifacts []*Artifact

	// byKey indexes artifacts by their primary's association key, byPath
	// by the primary's full path (companions point at either).
	byKey := make(map[string]*Artifact)
	byPath := make(map[string]*Artifact)

	register := func(a *Artifact) {
		byKey[a.Primary.AssociationKey] = a
		byPath[a.Primary.Path] = a
	}

	for _, entry := range entries {
		artifact := byPath[entry.AssociationKey]
		if artifact == nil {
			artifact = byKey[entry.AssociationKey]
		}
		if artifact == nil {
			// Reverse direction: an index listed first leaves an artifact
			// keyed by the primary's path; the primary arriving later
			// matches it by its own path.
			artifact = byKey[entry.Path]
		}

		if artifact == nil {
			artifact = &Artifact{
				Primary:       entry,
				SourceBackend: entry.BackendID,
			}
			artifacts = append(artifacts, artifact)
			register(artifact)
			continue
		}

		if IsDataType(entry.FileType) && !IsDataType(artifact.Primary.FileType) {
			// Promote: the data file becomes primary, the companion that
			// opened the artifact keeps its discovery position.
			old := artifact.Primary
			artifact.Primary = entry
			artifact.SourceBackend = entry.BackendID
			artifact.Companions = append([]ClassifiedEntry{old}, artifact.Companions...)
			register(artifact)
			continue
		}

		artifact.Companions = append(artifact.Companions, entry)
	}

	return artifacts
}

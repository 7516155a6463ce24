package model

// Diff stores the complete unified diff content for one MR, 1:1.
type Diff struct {
	MRID      int64
	Content   string
	BaseSHA   string
	HeadSHA   string
	StartSHA  string
	FileCount int64
	Additions int64
	Deletions int64
	CachedAt  int64
}

// ChangeType classifies how a file changed between base and head.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
	ChangeRenamed  ChangeType = "renamed"
)

// ParseChangeType maps a raw string to a known ChangeType, defaulting to
// ChangeModified for anything unrecognized.
func ParseChangeType(s string) ChangeType {
	switch ChangeType(s) {
	case ChangeAdded:
		return ChangeAdded
	case ChangeDeleted:
		return ChangeDeleted
	case ChangeRenamed:
		return ChangeRenamed
	default:
		return ChangeModified
	}
}

// DiffFile is one file's slice of an MR's diff, 1:N with MergeRequest.
type DiffFile struct {
	ID           int64
	MRID         int64
	OldPath      *string // nil for added files
	NewPath      string
	ChangeType   ChangeType
	Additions    int64
	Deletions    int64
	FilePosition int64 // stable ordering index within the diff
	DiffContent  *string
}

// DisplayPath renders "old → new" for renames, else just NewPath.
func (f *DiffFile) DisplayPath() string {
	if f.ChangeType == ChangeRenamed && f.OldPath != nil {
		return *f.OldPath + " → " + f.NewPath
	}
	return f.NewPath
}

// Extension returns the file extension of NewPath, without the dot.
func (f *DiffFile) Extension() string {
	for i := len(f.NewPath) - 1; i >= 0; i-- {
		if f.NewPath[i] == '.' {
			return f.NewPath[i+1:]
		}
		if f.NewPath[i] == '/' {
			break
		}
	}
	return ""
}

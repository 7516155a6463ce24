package model

// LineType classifies which side of a diff hunk a comment is anchored to.
type LineType string

const (
	LineAdded   LineType = "added"
	LineRemoved LineType = "removed"
	LineContext LineType = "context"
)

// ParseLineType maps a raw string to a known LineType, defaulting to
// LineContext for anything unrecognized.
func ParseLineType(s string) LineType {
	switch LineType(s) {
	case LineAdded:
		return LineAdded
	case LineRemoved:
		return LineRemoved
	default:
		return LineContext
	}
}

// Comment is an inline or general comment/discussion note on an MR.
//
// ID is either a positive upstream id or a locally-generated negative id;
// IsLocal == true implies ID < 0.
type Comment struct {
	ID             int64
	MRID           int64
	DiscussionID   *string
	ParentID       *int64
	AuthorUsername string
	Body           string
	FilePath       *string
	OldLine        *int64
	NewLine        *int64
	LineType       *LineType
	Resolved       bool
	Resolvable     bool
	System         bool
	CreatedAt      int64
	UpdatedAt      int64
	CachedAt       int64
	IsLocal        bool
}

// IsInline reports whether this comment is anchored to a file position.
func (c *Comment) IsInline() bool { return c.FilePath != nil }

// IsReply reports whether this comment replies to another comment.
func (c *Comment) IsReply() bool { return c.ParentID != nil }

// IsGeneral reports whether this is a top-level, non-inline comment.
func (c *Comment) IsGeneral() bool { return c.FilePath == nil && c.ParentID == nil }

// DisplayLine returns the line number to show: prefers OldLine for removed
// lines, NewLine otherwise, falling back to whichever is set.
func (c *Comment) DisplayLine() *int64 {
	if c.LineType != nil && *c.LineType == LineRemoved {
		if c.OldLine != nil {
			return c.OldLine
		}
		return c.NewLine
	}
	if c.NewLine != nil {
		return c.NewLine
	}
	return c.OldLine
}

// NewComment carries the fields needed to create a local comment.
type NewComment struct {
	MRID     int64
	Body     string
	FilePath *string
	OldLine  *int64
	NewLine  *int64
	LineType *LineType
}

package cacheread

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/ultragitlab/ultragitlab/internal/apperror"
	"github.com/ultragitlab/ultragitlab/internal/model"
)

// largeFileLineThreshold is the point past which a diff file is classified
// "large" and the UI should request hunks progressively instead of
// rendering the whole file.
const largeFileLineThreshold = 10_000

// GetDiff returns the cached unified diff metadata for an MR.
func (r *Reader) GetDiff(ctx context.Context, mrID int64) (*model.Diff, error) {
	row := r.db.SQL().QueryRowContext(ctx, `
		SELECT mr_id, content, base_sha, head_sha, start_sha, file_count, additions, deletions, cached_at
		FROM diffs WHERE mr_id = ?`, mrID)

	var d model.Diff
	err := row.Scan(&d.MRID, &d.Content, &d.BaseSHA, &d.HeadSHA, &d.StartSHA, &d.FileCount, &d.Additions, &d.Deletions, &d.CachedAt)
	if err == sql.ErrNoRows {
		return nil, apperror.NewNotFoundWithID("Diff", strconv.FormatInt(mrID, 10))
	}
	if err != nil {
		return nil, apperror.NewDatabaseOp(err.Error(), "get diff")
	}
	return &d, nil
}

// ListDiffFiles returns every file touched by the MR's diff, ordered by the
// upstream-reported file position.
func (r *Reader) ListDiffFiles(ctx context.Context, mrID int64) ([]*model.DiffFile, error) {
	rows, err := r.db.SQL().QueryContext(ctx, `
		SELECT id, mr_id, old_path, new_path, change_type, additions, deletions, file_position, diff_content
		FROM diff_files WHERE mr_id = ? ORDER BY file_position ASC`, mrID)
	if err != nil {
		return nil, apperror.NewDatabaseOp(err.Error(), "list diff files")
	}
	defer rows.Close()

	var out []*model.DiffFile
	for rows.Next() {
		var f model.DiffFile
		var changeType string
		if err := rows.Scan(&f.ID, &f.MRID, &f.OldPath, &f.NewPath, &changeType, &f.Additions, &f.Deletions, &f.FilePosition, &f.DiffContent); err != nil {
			return nil, apperror.NewDatabaseOp(err.Error(), "scan diff file")
		}
		f.ChangeType = model.ParseChangeType(changeType)
		out = append(out, &f)
	}
	return out, rows.Err()
}

// GetDiffFile fetches a single diff file row by id.
func (r *Reader) GetDiffFile(ctx context.Context, fileID int64) (*model.DiffFile, error) {
	row := r.db.SQL().QueryRowContext(ctx, `
		SELECT id, mr_id, old_path, new_path, change_type, additions, deletions, file_position, diff_content
		FROM diff_files WHERE id = ?`, fileID)
	var f model.DiffFile
	var changeType string
	err := row.Scan(&f.ID, &f.MRID, &f.OldPath, &f.NewPath, &changeType, &f.Additions, &f.Deletions, &f.FilePosition, &f.DiffContent)
	if err == sql.ErrNoRows {
		return nil, apperror.NewNotFoundWithID("DiffFile", strconv.FormatInt(fileID, 10))
	}
	if err != nil {
		return nil, apperror.NewDatabaseOp(err.Error(), "get diff file")
	}
	f.ChangeType = model.ParseChangeType(changeType)
	return &f, nil
}

// IsLargeFile reports whether a file's total line count crosses the
// threshold past which the UI should page hunks rather than render
// everything at once.
func IsLargeFile(f *model.DiffFile) bool {
	return f.Additions+f.Deletions > largeFileLineThreshold
}

// HunkLine is one line of a parsed diff hunk, with both pre- and
// post-image line numbers resolved so inline comments can anchor to either
// side.
type HunkLine struct {
	OldLine *int64
	NewLine *int64
	Type    model.LineType
	Content string
}

// Hunk is one `@@ -a,b +c,d @@` section of a unified diff.
type Hunk struct {
	Header string
	Lines  []HunkLine
}

// ParseHunks splits a unified diff's content into hunks, tracking old/new
// line numbers per line: each hunk header resets the counters to its start
// numbers (its line counts are not read), '+' advances only the new counter, '-' advances only the old counter, a
// space-prefixed context line advances both, and any other line (e.g.
// "\ No newline at end of file") is carried without affecting either
// counter.
func ParseHunks(diff string) []Hunk {
	var hunks []Hunk
	var cur *Hunk
	var oldLine, newLine int64

	lines := splitLines(diff)
	for _, line := range lines {
		if len(line) >= 2 && line[0] == '@' && line[1] == '@' {
			if cur != nil {
				hunks = append(hunks, *cur)
			}
			o, n := parseHunkHeader(line)
			oldLine, newLine = o, n
			cur = &Hunk{Header: line}
			continue
		}
		if cur == nil {
			continue
		}
		if line == "" {
			cur.Lines = append(cur.Lines, HunkLine{Type: model.LineContext})
			continue
		}
		switch line[0] {
		case '+':
			n := newLine
			cur.Lines = append(cur.Lines, HunkLine{NewLine: &n, Type: model.LineAdded, Content: line[1:]})
			newLine++
		case '-':
			o := oldLine
			cur.Lines = append(cur.Lines, HunkLine{OldLine: &o, Type: model.LineRemoved, Content: line[1:]})
			oldLine++
		case ' ':
			o, n := oldLine, newLine
			cur.Lines = append(cur.Lines, HunkLine{OldLine: &o, NewLine: &n, Type: model.LineContext, Content: line[1:]})
			oldLine++
			newLine++
		default:
			cur.Lines = append(cur.Lines, HunkLine{Type: model.LineContext, Content: line})
		}
	}
	if cur != nil {
		hunks = append(hunks, *cur)
	}
	return hunks
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// parseHunkHeader extracts the starting old/new line numbers from a
// "@@ -a[,b] +c[,d] @@" header. The counts b and d are skipped, so a header
// without them parses the same way; a start that is absent stays 1.
func parseHunkHeader(header string) (oldStart, newStart int64) {
	oldStart, newStart = 1, 1
	// header looks like: @@ -12,7 +12,8 @@ optional trailing context
	parts := splitFields(header)
	for _, p := range parts {
		if len(p) > 1 && p[0] == '-' {
			oldStart = firstNumber(p[1:])
		} else if len(p) > 1 && p[0] == '+' {
			newStart = firstNumber(p[1:])
		}
	}
	return
}

func splitFields(s string) []string {
	var out []string
	start := -1
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
		} else if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}

func firstNumber(s string) int64 {
	var n int64
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			break
		}
		if s[i] < '0' || s[i] > '9' {
			return n
		}
		n = n*10 + int64(s[i]-'0')
	}
	return n
}

// HunkWindow is a paged slice of a file's parsed hunks, for progressive
// loading of large files.
type HunkWindow struct {
	Hunks      []Hunk
	HasMore    bool
	TotalHunks int
}

// WindowHunks returns hunks[start:start+count] (clamped) plus paging info.
func WindowHunks(hunks []Hunk, start, count int) HunkWindow {
	total := len(hunks)
	if start < 0 {
		start = 0
	}
	if start >= total {
		return HunkWindow{Hunks: nil, HasMore: false, TotalHunks: total}
	}
	end := start + count
	if count <= 0 || end > total {
		end = total
	}
	return HunkWindow{
		Hunks:      hunks[start:end],
		HasMore:    end < total,
		TotalHunks: total,
	}
}

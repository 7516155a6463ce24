package cacheread

import (
	"testing"

	"github.com/ultragitlab/ultragitlab/internal/model"
)

func TestParseHunksEmptyContent(t *testing.T) {
	if hunks := ParseHunks(""); len(hunks) != 0 {
		t.Fatalf("empty diff must parse to no hunks, got %d", len(hunks))
	}
}

func TestParseHunksLineCounters(t *testing.T) {
	diff := "@@ -10,3 +20,4 @@ func main() {\n" +
		" context one\n" +
		"-removed\n" +
		"+added one\n" +
		"+added two\n" +
		" context two\n"

	hunks := ParseHunks(diff)
	if len(hunks) != 1 {
		t.Fatalf("expected 1 hunk, got %d", len(hunks))
	}
	lines := hunks[0].Lines
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d", len(lines))
	}

	// " context one" advances both counters from the header's start values.
	if lines[0].Type != model.LineContext || *lines[0].OldLine != 10 || *lines[0].NewLine != 20 {
		t.Fatalf("context line 0 wrong: %+v", lines[0])
	}
	// "-removed" carries only an old line.
	if lines[1].Type != model.LineRemoved || *lines[1].OldLine != 11 || lines[1].NewLine != nil {
		t.Fatalf("removed line wrong: %+v", lines[1])
	}
	// The two added lines advance only the new counter.
	if lines[2].Type != model.LineAdded || *lines[2].NewLine != 21 || lines[2].OldLine != nil {
		t.Fatalf("added line 1 wrong: %+v", lines[2])
	}
	if lines[3].Type != model.LineAdded || *lines[3].NewLine != 22 {
		t.Fatalf("added line 2 wrong: %+v", lines[3])
	}
	// The final context line reflects both counters having advanced.
	if *lines[4].OldLine != 12 || *lines[4].NewLine != 23 {
		t.Fatalf("context line 4 wrong: %+v", lines[4])
	}
}

func TestParseHunksHeaderWithoutCount(t *testing.T) {
	diff := "@@ -5 +7 @@\n-old\n+new\n"

	hunks := ParseHunks(diff)
	if len(hunks) != 1 {
		t.Fatalf("expected 1 hunk, got %d", len(hunks))
	}
	if *hunks[0].Lines[0].OldLine != 5 {
		t.Fatalf("expected old line 5, got %d", *hunks[0].Lines[0].OldLine)
	}
	if *hunks[0].Lines[1].NewLine != 7 {
		t.Fatalf("expected new line 7, got %d", *hunks[0].Lines[1].NewLine)
	}
}

func TestParseHunksOnlyContextLines(t *testing.T) {
	diff := "@@ -1,3 +1,3 @@\n a\n b\n c\n"

	hunks := ParseHunks(diff)
	if len(hunks) != 1 || len(hunks[0].Lines) != 3 {
		t.Fatalf("expected 1 hunk with 3 lines, got %+v", hunks)
	}
	last := hunks[0].Lines[2]
	if *last.OldLine != 3 || *last.NewLine != 3 {
		t.Fatalf("context-only hunk counters must match header counts, got %+v", last)
	}
}

func TestParseHunksIgnoresNoNewlineMarker(t *testing.T) {
	diff := "@@ -1,1 +1,1 @@\n-old\n+new\n\\ No newline at end of file\n"

	hunks := ParseHunks(diff)
	if len(hunks) != 1 {
		t.Fatalf("expected 1 hunk, got %d", len(hunks))
	}
	lines := hunks[0].Lines
	// The marker line is carried but advances neither counter.
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[2].OldLine != nil || lines[2].NewLine != nil {
		t.Fatalf("marker line must not carry line numbers: %+v", lines[2])
	}
}

func TestParseHunksMultipleHunks(t *testing.T) {
	diff := "@@ -1,1 +1,1 @@\n-a\n+b\n@@ -100,1 +100,2 @@\n c\n+d\n"

	hunks := ParseHunks(diff)
	if len(hunks) != 2 {
		t.Fatalf("expected 2 hunks, got %d", len(hunks))
	}
	if *hunks[1].Lines[0].OldLine != 100 {
		t.Fatalf("second hunk must restart counters from its header, got %+v", hunks[1].Lines[0])
	}
}

func TestParseHunksContentBeforeFirstHeaderIsDropped(t *testing.T) {
	diff := "diff --git a/x b/x\nindex 123..456\n--- a/x\n+++ b/x\n@@ -1,1 +1,1 @@\n-a\n+b\n"

	hunks := ParseHunks(diff)
	if len(hunks) != 1 {
		t.Fatalf("expected 1 hunk, got %d", len(hunks))
	}
	if len(hunks[0].Lines) != 2 {
		t.Fatalf("file header lines must not leak into the hunk, got %d lines", len(hunks[0].Lines))
	}
}

func TestWindowHunks(t *testing.T) {
	hunks := make([]Hunk, 5)
	for i := range hunks {
		hunks[i].Header = "@@"
	}

	w := WindowHunks(hunks, 0, 2)
	if len(w.Hunks) != 2 || !w.HasMore || w.TotalHunks != 5 {
		t.Fatalf("window {0,2}: %+v", w)
	}

	w = WindowHunks(hunks, 3, 10)
	if len(w.Hunks) != 2 || w.HasMore {
		t.Fatalf("window {3,10} must clamp and report no more, got %+v", w)
	}

	w = WindowHunks(hunks, 10, 2)
	if len(w.Hunks) != 0 || w.HasMore || w.TotalHunks != 5 {
		t.Fatalf("out-of-range start must return empty window, got %+v", w)
	}

	// count <= 0 means "the rest".
	w = WindowHunks(hunks, 1, 0)
	if len(w.Hunks) != 4 || w.HasMore {
		t.Fatalf("window {1,0}: %+v", w)
	}
}

func TestIsLargeFile(t *testing.T) {
	small := &model.DiffFile{Additions: 100, Deletions: 100}
	if IsLargeFile(small) {
		t.Fatal("200-line file must not be large")
	}
	large := &model.DiffFile{Additions: 9_000, Deletions: 2_000}
	if !IsLargeFile(large) {
		t.Fatal("11k-line file must be large")
	}
}

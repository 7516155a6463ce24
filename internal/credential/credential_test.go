package credential

import (
	"path/filepath"
	"testing"

	"github.com/ultragitlab/ultragitlab/internal/apperror"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "credentials.json"))

	if _, err := store.Get(t.Context(), ServiceName, "gitlab.example.com"); !apperror.Is(err, apperror.NotFound) {
		t.Fatalf("expected NotFound before Set, got %v", err)
	}

	if err := store.Set(t.Context(), ServiceName, "gitlab.example.com", "tok-123"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := store.Get(t.Context(), ServiceName, "gitlab.example.com")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "tok-123" {
		t.Fatalf("got %q, want tok-123", got)
	}

	if err := store.Delete(t.Context(), ServiceName, "gitlab.example.com"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(t.Context(), ServiceName, "gitlab.example.com"); err != nil {
		t.Fatalf("Delete should be idempotent, got %v", err)
	}
	if _, err := store.Get(t.Context(), ServiceName, "gitlab.example.com"); !apperror.Is(err, apperror.NotFound) {
		t.Fatalf("expected NotFound after Delete, got %v", err)
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"https://GitLab.Example.com/":  "https://gitlab.example.com",
		"https://gitlab.example.com":   "https://gitlab.example.com",
		"HTTPS://GITLAB.EXAMPLE.COM//": "https://gitlab.example.com",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

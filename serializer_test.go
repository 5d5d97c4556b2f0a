package metadump

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/miku/metadump/items"
)

// recordingWriter keeps every write as a separate chunk.
type recordingWriter struct {
	chunks [][]byte
	failAt int // fail on the n-th write (1-based), 0 disables
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	if w.failAt > 0 && len(w.chunks)+1 == w.failAt {
		return 0, errors.New("sink failed")
	}
	b := make([]byte, len(p))
	copy(b, p)
	w.chunks = append(w.chunks, b)
	return len(p), nil
}

func (w *recordingWriter) Bytes() []byte {
	return bytes.Join(w.chunks, nil)
}

func newTestSequence(list []items.Item, gone ...string) *Sequence {
	api := &fakeAPI{list: list, metadata: make(map[string]*items.ItemMetadata)}
	goneSet := make(map[string]bool)
	for _, id := range gone {
		goneSet[id] = true
	}
	for _, item := range list {
		if !goneSet[item.ID] {
			api.metadata[item.ID] = meta(item.ID, item.Name)
		}
	}
	return FetchAllMetadata(api, "token", "pub-1")
}

func TestStreamMetadataEmpty(t *testing.T) {
	var (
		w        recordingWriter
		progress bytes.Buffer
	)
	seq := newTestSequence(nil)
	n, err := StreamMetadata(context.Background(), seq, &w, &progress)
	if err != nil {
		t.Fatalf("got %v, want nil", err)
	}
	if n != 0 {
		t.Fatalf("got %d, want 0", n)
	}
	want := [][]byte{[]byte("[\n"), []byte("\n]\n")}
	if diff := cmp.Diff(want, w.chunks); diff != "" {
		t.Errorf("writes mismatch (-want +got):\n%s", diff)
	}
	if progress.Len() != 0 {
		t.Errorf("unexpected progress output: %q", progress.String())
	}
	var parsed []items.ItemMetadata
	if err := json.Unmarshal(w.Bytes(), &parsed); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(parsed) != 0 {
		t.Fatalf("got %d elements, want 0", len(parsed))
	}
}

func TestStreamMetadataWrites(t *testing.T) {
	list := []items.Item{
		{ID: "item-1", Status: "active", Name: "One"},
		{ID: "item-2", Status: "active", Name: "Two"},
		{ID: "item-3", Status: "active", Name: "Three"},
	}
	var (
		w        recordingWriter
		progress bytes.Buffer
	)
	seq := newTestSequence(list)
	n, err := StreamMetadata(context.Background(), seq, &w, &progress)
	if err != nil {
		t.Fatalf("got %v, want nil", err)
	}
	if n != 3 {
		t.Fatalf("got %d, want 3", n)
	}
	// Opening token, one write per element, closing token.
	if len(w.chunks) != 5 {
		t.Fatalf("got %d writes, want 5", len(w.chunks))
	}
	if got := string(w.chunks[0]); got != "[\n" {
		t.Errorf("opening write: got %q, want %q", got, "[\n")
	}
	first := string(w.chunks[1])
	if !strings.HasPrefix(first, "  ") || strings.HasPrefix(first, ",") {
		t.Errorf("first element write must start with two spaces, no comma: %q", first[:4])
	}
	for i := 2; i < 4; i++ {
		if got := string(w.chunks[i]); !strings.HasPrefix(got, ",\n  ") {
			t.Errorf("element write %d must start with %q: %q", i, ",\n  ", got[:4])
		}
	}
	if got := string(w.chunks[4]); got != "\n]\n" {
		t.Errorf("closing write: got %q, want %q", got, "\n]\n")
	}
	// The concatenation parses back into the yielded records, in order.
	var parsed []items.ItemMetadata
	if err := json.Unmarshal(w.Bytes(), &parsed); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	want := []items.ItemMetadata{
		*meta("item-1", "One"),
		*meta("item-2", "Two"),
		*meta("item-3", "Three"),
	}
	if diff := cmp.Diff(want, parsed); diff != "" {
		t.Errorf("elements mismatch (-want +got):\n%s", diff)
	}
	// Progress lines are 1-based over the listing total.
	wantProgress := "[1/3] One\n[2/3] Two\n[3/3] Three\n"
	if progress.String() != wantProgress {
		t.Errorf("progress: got %q, want %q", progress.String(), wantProgress)
	}
}

func TestStreamMetadataSkip(t *testing.T) {
	capture := captureWarnings(t)
	list := []items.Item{
		{ID: "item-1", Status: "active", Name: "One"},
		{ID: "item-2", Status: "deleted", Name: "Two"},
	}
	var (
		w        recordingWriter
		progress bytes.Buffer
	)
	seq := newTestSequence(list, "item-2")
	n, err := StreamMetadata(context.Background(), seq, &w, &progress)
	if err != nil {
		t.Fatalf("got %v, want nil", err)
	}
	if n != 1 {
		t.Fatalf("got %d, want 1", n)
	}
	if len(capture.warnings) != 1 || !strings.Contains(capture.warnings[0], "item-2") {
		t.Fatalf("want one warning mentioning item-2, got %v", capture.warnings)
	}
	var parsed []items.ItemMetadata
	if err := json.Unmarshal(w.Bytes(), &parsed); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(parsed) != 1 || parsed[0].ID != "item-1" {
		t.Fatalf("got %v, want single item-1 element", parsed)
	}
	// Total stays at listing length even with skips.
	if got := progress.String(); got != "[1/2] One\n" {
		t.Errorf("progress: got %q, want %q", got, "[1/2] One\n")
	}
}

func TestStreamMetadataTitleFallback(t *testing.T) {
	list := []items.Item{{ID: "item-1", Status: "active", Name: ""}}
	var (
		w        recordingWriter
		progress bytes.Buffer
	)
	seq := newTestSequence(list)
	if _, err := StreamMetadata(context.Background(), seq, &w, &progress); err != nil {
		t.Fatalf("got %v, want nil", err)
	}
	if got := progress.String(); got != "[1/1] item-1\n" {
		t.Errorf("progress: got %q, want %q", got, "[1/1] item-1\n")
	}
}

func TestStreamMetadataFatalSequence(t *testing.T) {
	fatal := &items.RequestError{StatusCode: 500, Body: "boom"}
	api := &fakeAPI{
		list: []items.Item{
			{ID: "item-1", Status: "active"},
			{ID: "item-2", Status: "active"},
			{ID: "item-3", Status: "active"},
		},
		metadata: map[string]*items.ItemMetadata{},
		errs:     map[string]error{"item-1": fatal},
	}
	seq := FetchAllMetadata(api, "token", "pub-1")
	var w recordingWriter
	n, err := StreamMetadata(context.Background(), seq, &w, nil)
	var re *items.RequestError
	if !errors.As(err, &re) || re.StatusCode != 500 {
		t.Fatalf("got %v, want original *RequestError with status 500", err)
	}
	if n != 0 {
		t.Fatalf("got %d, want 0", n)
	}
	// Only the opening token made it out, never the closing one.
	want := [][]byte{[]byte("[\n")}
	if diff := cmp.Diff(want, w.chunks); diff != "" {
		t.Errorf("writes mismatch (-want +got):\n%s", diff)
	}
}

func TestStreamMetadataSinkError(t *testing.T) {
	list := []items.Item{
		{ID: "item-1", Status: "active", Name: "One"},
		{ID: "item-2", Status: "active", Name: "Two"},
	}
	seq := newTestSequence(list)
	w := recordingWriter{failAt: 3} // second element write fails
	n, err := StreamMetadata(context.Background(), seq, &w, nil)
	if err == nil {
		t.Fatal("expected sink error")
	}
	if n != 1 {
		t.Fatalf("got %d, want 1", n)
	}
}

func TestStreamMetadataToFile(t *testing.T) {
	list := []items.Item{
		{ID: "item-1", Status: "active", Name: "One"},
		{ID: "item-2", Status: "active", Name: "Two"},
	}
	path := filepath.Join(t.TempDir(), "items.json")
	seq := newTestSequence(list)
	n, err := StreamMetadataToFile(context.Background(), seq, path)
	if err != nil {
		t.Fatalf("got %v, want nil", err)
	}
	if n != 2 {
		t.Fatalf("got %d, want 2", n)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.HasPrefix(string(b), "[\n") || !strings.HasSuffix(string(b), "\n]\n") {
		t.Errorf("unexpected envelope: %q ... %q", b[:2], b[len(b)-3:])
	}
	var parsed []items.ItemMetadata
	if err := json.Unmarshal(b, &parsed); err != nil {
		t.Fatalf("file is not valid JSON: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("got %d elements, want 2", len(parsed))
	}
}

func TestStreamMetadataToFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.json")
	seq := newTestSequence(nil)
	n, err := StreamMetadataToFile(context.Background(), seq, path)
	if err != nil {
		t.Fatalf("got %v, want nil", err)
	}
	if n != 0 {
		t.Fatalf("got %d, want 0", n)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(b) != "[\n\n]\n" {
		t.Errorf("got %q, want %q", string(b), "[\n\n]\n")
	}
}

func TestStreamMetadataToFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "items.json")
	if err := os.WriteFile(path, []byte("previous"), 0644); err != nil {
		t.Fatal(err)
	}
	// A failing run leaves the previous file untouched.
	fatal := &items.RequestError{StatusCode: 500, Body: "boom"}
	api := &fakeAPI{
		list:     []items.Item{{ID: "item-1", Status: "active"}},
		metadata: map[string]*items.ItemMetadata{},
		errs:     map[string]error{"item-1": fatal},
	}
	seq := FetchAllMetadata(api, "token", "pub-1")
	if _, err := StreamMetadataToFileAtomic(context.Background(), seq, path); err == nil {
		t.Fatal("expected error")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "previous" {
		t.Errorf("destination clobbered on failed run: %q", string(b))
	}
	// A successful run replaces it.
	seq = newTestSequence([]items.Item{{ID: "item-1", Status: "active", Name: "One"}})
	n, err := StreamMetadataToFileAtomic(context.Background(), seq, path)
	if err != nil {
		t.Fatalf("got %v, want nil", err)
	}
	if n != 1 {
		t.Fatalf("got %d, want 1", n)
	}
	b, err = os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var parsed []items.ItemMetadata
	if err := json.Unmarshal(b, &parsed); err != nil {
		t.Fatalf("file is not valid JSON: %v", err)
	}
	if len(parsed) != 1 || parsed[0].ID != "item-1" {
		t.Fatalf("got %v, want single item-1 element", parsed)
	}
	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("leftover files in destination dir: %v", entries)
	}
}

package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testOptions(t *testing.T) Options {
	t.Helper()
	dir := t.TempDir()
	return Options{
		Enabled:     true,
		FilePath:    filepath.Join(dir, "responses.json"),
		MaxFileSize: 1024 * 1024,
		MaxFileAge:  24 * time.Hour,
		RolloverDir: filepath.Join(dir, "archive"),
	}
}

func TestOptionsValidate(t *testing.T) {
	if err := (Options{Enabled: false}).Validate(); err != nil {
		t.Errorf("disabled options must validate, got %v", err)
	}
	bad := []Options{
		{Enabled: true},
		{Enabled: true, FilePath: "x.json", MaxFileSize: 0, MaxFileAge: time.Hour, RolloverDir: "a"},
		{Enabled: true, FilePath: "x.json", MaxFileSize: 1, MaxFileAge: 0, RolloverDir: "a"},
		{Enabled: true, FilePath: "x.json", MaxFileSize: 1, MaxFileAge: time.Hour},
	}
	for i, o := range bad {
		if err := o.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestDisabledStoreIsNoop(t *testing.T) {
	s := NewStore(Options{Enabled: false})

	if err := s.EnsureFile(); err != nil {
		t.Fatalf("EnsureFile: %v", err)
	}
	doc, err := Load[Document](s)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc != nil {
		t.Errorf("expected nil document from disabled store, got %+v", doc)
	}
	if err := Write(s, &Document{}); err != nil {
		t.Errorf("Write on disabled store must silently drop, got %v", err)
	}
	if err := s.ForceRollover(); err != nil {
		t.Errorf("ForceRollover on disabled store must be a no-op, got %v", err)
	}
}

func TestLoadAbsentReturnsNil(t *testing.T) {
	s := NewStore(testOptions(t))
	doc, err := Load[Document](s)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc != nil {
		t.Errorf("expected nil for absent document, got %+v", doc)
	}
}

func TestEnsureFileCreatesEmptyDocument(t *testing.T) {
	s := NewStore(testOptions(t))
	if err := s.EnsureFile(); err != nil {
		t.Fatalf("EnsureFile: %v", err)
	}
	if _, err := os.Stat(s.Path()); err != nil {
		t.Fatalf("expected document file to exist: %v", err)
	}
	doc, err := Load[Document](s)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc != nil {
		t.Errorf("expected nil for empty document, got %+v", doc)
	}
}

func TestWriteThenLoadRoundTrip(t *testing.T) {
	s := NewStore(testOptions(t))

	in := &Document{}
	e := NewEntry()
	e.Prompt = "hi"
	e.Success = true
	e.Provider = "openai"
	e.Content = "hello"
	e.Cost = 0.0002
	in.Append(e)

	if err := Write(s, in); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out, err := Load[Document](s)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out == nil {
		t.Fatal("expected document")
	}
	if out.TotalRequests != 1 || len(out.Responses) != 1 {
		t.Errorf("expected one entry, got %+v", out)
	}
	if out.Responses[0].ID != e.ID {
		t.Errorf("entry ID mismatch: %s vs %s", out.Responses[0].ID, e.ID)
	}
	if out.Responses[0].Provider != "openai" || out.Responses[0].Content != "hello" {
		t.Errorf("entry fields mismatch: %+v", out.Responses[0])
	}
}

func TestDocumentAggregatesConsistent(t *testing.T) {
	var d Document
	for i := 0; i < 3; i++ {
		e := NewEntry()
		e.Cost = 0.5
		d.Append(e)
	}
	if d.TotalRequests != 3 {
		t.Errorf("expected totalRequests 3, got %d", d.TotalRequests)
	}
	if d.TotalCost != 1.5 {
		t.Errorf("expected totalCost 1.5, got %f", d.TotalCost)
	}
	if d.LastUpdated.IsZero() {
		t.Error("expected lastUpdated to be set")
	}
}

func TestUpdateCreatesDocumentWhenAbsent(t *testing.T) {
	s := NewStore(testOptions(t))

	err := Update(s, func(doc *Document) {
		e := NewEntry()
		e.Provider = "openai"
		doc.Append(e)
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	doc, err := Load[Document](s)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc == nil || doc.TotalRequests != 1 {
		t.Errorf("expected one entry after Update on absent document, got %+v", doc)
	}
}

func TestUpdateOnDisabledStoreIsNoop(t *testing.T) {
	s := NewStore(Options{Enabled: false})
	err := Update(s, func(doc *Document) {
		doc.Append(NewEntry())
	})
	if err != nil {
		t.Errorf("Update on disabled store must silently drop, got %v", err)
	}
}

func TestUpdateConcurrentAppendsLoseNothing(t *testing.T) {
	s := NewStore(testOptions(t))

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := Update(s, func(doc *Document) {
				e := NewEntry()
				e.Prompt = fmt.Sprintf("prompt-%d", i)
				doc.Append(e)
			})
			if err != nil {
				t.Errorf("Update %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	doc, err := Load[Document](s)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc == nil {
		t.Fatal("expected document")
	}
	if doc.TotalRequests != n || len(doc.Responses) != n {
		t.Errorf("expected %d entries after concurrent updates, got %d", n, doc.TotalRequests)
	}
}

func TestWriteTriggersSizeRollover(t *testing.T) {
	opts := testOptions(t)
	opts.MaxFileSize = 1 // any non-empty document exceeds this
	var archived []string
	s := NewStore(opts, WithOnRollover(func(p string) { archived = append(archived, p) }))

	first := &Document{}
	e := NewEntry()
	e.Content = "some response"
	first.Append(e)
	if err := Write(s, first); err != nil {
		t.Fatalf("first write: %v", err)
	}

	// Second write finds the file over the limit; the rollover must finish
	// before the write proceeds.
	second := &Document{}
	second.Append(NewEntry())
	if err := Write(s, second); err != nil {
		t.Fatalf("second write: %v", err)
	}

	if len(archived) != 1 {
		t.Fatalf("expected 1 archive, got %d", len(archived))
	}
	entries, err := os.ReadDir(opts.RolloverDir)
	if err != nil {
		t.Fatalf("read rollover dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 archived file, got %d", len(entries))
	}
	name := entries[0].Name()
	if len(name) < len("responses_20060102_150405.json") {
		t.Errorf("unexpected archive name %q", name)
	}

	doc, err := Load[Document](s)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc == nil || doc.TotalRequests != 1 {
		t.Errorf("expected fresh document with the second write only, got %+v", doc)
	}
}

func TestAgeRollover(t *testing.T) {
	opts := testOptions(t)
	opts.MaxFileAge = time.Nanosecond
	s := NewStore(opts)
	if err := s.EnsureFile(); err != nil {
		t.Fatalf("EnsureFile: %v", err)
	}
	time.Sleep(time.Millisecond)
	if err := s.RolloverIfNeeded(); err != nil {
		t.Fatalf("RolloverIfNeeded: %v", err)
	}
	entries, err := os.ReadDir(opts.RolloverDir)
	if err != nil {
		t.Fatalf("read rollover dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 archived file after age rollover, got %d", len(entries))
	}
}

func TestForceRolloverIdempotence(t *testing.T) {
	opts := testOptions(t)
	s := NewStore(opts)
	if err := s.EnsureFile(); err != nil {
		t.Fatalf("EnsureFile: %v", err)
	}

	if err := s.ForceRollover(); err != nil {
		t.Fatalf("first ForceRollover: %v", err)
	}
	if err := s.ForceRollover(); err != nil {
		t.Fatalf("second ForceRollover: %v", err)
	}

	entries, err := os.ReadDir(opts.RolloverDir)
	if err != nil {
		t.Fatalf("read rollover dir: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected exactly 2 archives, got %d", len(entries))
	}
	if _, err := os.Stat(s.Path()); err != nil {
		t.Errorf("expected fresh empty document after rollover: %v", err)
	}
}

func TestRolloverUnderSizeDoesNothing(t *testing.T) {
	s := NewStore(testOptions(t))
	doc := &Document{}
	doc.Append(NewEntry())
	if err := Write(s, doc); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.RolloverIfNeeded(); err != nil {
		t.Fatalf("RolloverIfNeeded: %v", err)
	}
	entries, _ := os.ReadDir(NewStore(testOptions(t)).opts.RolloverDir)
	if len(entries) != 0 {
		t.Errorf("expected no archives, got %d", len(entries))
	}
}

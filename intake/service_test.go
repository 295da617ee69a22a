package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/veridoc/briefd/docpipe"
)

type stubSummarizer struct {
	calls int
	fail  bool
}

func (s *stubSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	s.calls++
	if s.fail {
		return "", errors.New("model unavailable")
	}
	return fmt.Sprintf("Chunk %d: the parties shall perform.", s.calls), nil
}

func testService(t *testing.T, sum *stubSummarizer) *Service {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SpoolDir = t.TempDir()
	cfg.MaxFileMB = 1
	cfg.OCR.Enabled = false

	svc, err := NewServiceWithStore(testStore(t), cfg, WithSummarizer(sum))
	if err != nil {
		t.Fatal(err)
	}
	return svc
}

func TestNewService_BuildsModelClient(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpoolDir = t.TempDir()

	// No WithSummarizer: the client comes from the model config.
	svc, err := NewServiceWithStore(testStore(t), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if svc.summarizer == nil {
		t.Fatal("expected a model client")
	}

	cfg.Model.Endpoint = "ftp://models.example.com"
	if _, err := NewServiceWithStore(testStore(t), cfg); err == nil {
		t.Error("expected error for non-http endpoint")
	}
}

const testContract = `Service Agreement

Acme Corporation shall provide consulting services starting 01/15/2025.
The client must pay $5,000.00 within thirty days of each invoice.
Notwithstanding the foregoing, either party may terminate with notice.`

func TestProcess_TextDocument(t *testing.T) {
	sum := &stubSummarizer{}
	svc := testService(t, sum)

	res, err := svc.Process(context.Background(), strings.NewReader(testContract), "mat-1", "contract.txt", "text/plain")
	if err != nil {
		t.Fatal(err)
	}

	if res.State != StateSummarized {
		t.Errorf("state = %q, want %q", res.State, StateSummarized)
	}
	if res.Format != string(docpipe.FormatTXT) {
		t.Errorf("format = %q", res.Format)
	}
	if res.Summary == nil || res.Summary.Summary == "" {
		t.Fatal("expected a summary")
	}
	if sum.calls == 0 {
		t.Error("summarizer was never called")
	}

	// Stored state matches.
	doc, _ := svc.Store.GetDocument(res.SHA256, "mat-1")
	if doc == nil || doc.State != StateSummarized {
		t.Errorf("stored doc = %+v", doc)
	}
	rec, _ := svc.Store.GetSummary(res.SHA256, "mat-1")
	if rec == nil {
		t.Fatal("expected stored summary")
	}
	if rec.ChunkCount != res.ChunkCount {
		t.Errorf("chunk count = %d, want %d", rec.ChunkCount, res.ChunkCount)
	}
}

func TestProcess_DedupServesStoredSummary(t *testing.T) {
	sum := &stubSummarizer{}
	svc := testService(t, sum)
	ctx := context.Background()

	first, err := svc.Process(ctx, strings.NewReader(testContract), "mat-1", "contract.txt", "text/plain")
	if err != nil {
		t.Fatal(err)
	}
	callsAfterFirst := sum.calls

	second, err := svc.Process(ctx, strings.NewReader(testContract), "mat-1", "again.txt", "text/plain")
	if err != nil {
		t.Fatal(err)
	}
	if !second.Deduplicated {
		t.Error("second upload should be deduplicated")
	}
	if second.SHA256 != first.SHA256 {
		t.Errorf("hash mismatch: %s vs %s", second.SHA256, first.SHA256)
	}
	if second.Summary == nil || second.Summary.Summary != first.Summary.Summary {
		t.Error("dedup should serve the stored summary")
	}
	if sum.calls != callsAfterFirst {
		t.Errorf("dedup must not call the model (calls %d -> %d)", callsAfterFirst, sum.calls)
	}
}

func TestProcess_UnsupportedFormat(t *testing.T) {
	svc := testService(t, &stubSummarizer{})

	_, err := svc.Process(context.Background(), strings.NewReader("binary junk"), "mat-1", "archive.zip", "application/zip")
	if !errors.Is(err, docpipe.ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}

	// Document was received and then marked failed.
	docs, _ := svc.Store.ListDocumentsByState(StateFailed)
	if len(docs) != 1 {
		t.Fatalf("failed docs = %d, want 1", len(docs))
	}
	if docs[0].Error == "" {
		t.Error("failed document should record the error")
	}
}

func TestProcess_ModelFailure(t *testing.T) {
	svc := testService(t, &stubSummarizer{fail: true})

	_, err := svc.Process(context.Background(), strings.NewReader(testContract), "mat-1", "contract.txt", "text/plain")
	if !errors.Is(err, ErrModelUpstream) {
		t.Fatalf("err = %v, want ErrModelUpstream", err)
	}

	docs, _ := svc.Store.ListDocumentsByState(StateFailed)
	if len(docs) != 1 {
		t.Errorf("failed docs = %d, want 1", len(docs))
	}
}

func TestProcess_RetryAfterFailure(t *testing.T) {
	sum := &stubSummarizer{fail: true}
	svc := testService(t, sum)
	ctx := context.Background()

	if _, err := svc.Process(ctx, strings.NewReader(testContract), "mat-1", "contract.txt", "text/plain"); err == nil {
		t.Fatal("first run should fail")
	}

	// Same bytes again after the model recovers: the pipeline re-runs
	// instead of serving the failed state.
	sum.fail = false
	res, err := svc.Process(ctx, strings.NewReader(testContract), "mat-1", "contract.txt", "text/plain")
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateSummarized {
		t.Errorf("state = %q, want %q", res.State, StateSummarized)
	}
	if res.Deduplicated {
		t.Error("retry of a failed document should not report dedup")
	}
}

func TestProcess_EmptyDocument(t *testing.T) {
	svc := testService(t, &stubSummarizer{})

	_, err := svc.Process(context.Background(), strings.NewReader("   \n\t  "), "mat-1", "blank.txt", "text/plain")
	if !errors.Is(err, docpipe.ErrEmptyDocument) {
		t.Fatalf("err = %v, want ErrEmptyDocument", err)
	}
}

func TestRecoverStaleDocuments(t *testing.T) {
	svc := testService(t, &stubSummarizer{})
	now := nowRFC3339()

	svc.Store.EnsureMatter("mat-1")
	svc.Store.InsertDocument(&Document{SHA256: "h1", MatterID: "mat-1", State: StateExtracted, CreatedAt: now, UpdatedAt: now})
	svc.Store.InsertDocument(&Document{SHA256: "h2", MatterID: "mat-1", State: StateSummarized, CreatedAt: now, UpdatedAt: now})

	svc.RecoverStaleDocuments()

	d1, _ := svc.Store.GetDocument("h1", "mat-1")
	if d1.State != StateReceived {
		t.Errorf("stale doc state = %q, want %q", d1.State, StateReceived)
	}
	d2, _ := svc.Store.GetDocument("h2", "mat-1")
	if d2.State != StateSummarized {
		t.Errorf("terminal doc must not be touched, got %q", d2.State)
	}
}

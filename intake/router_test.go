package intake

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const testWebhookSecret = "0123456789abcdef0123456789abcdef"

func routerFixture(t *testing.T, targetURL string, events []string) (*Router, *Store, *Document) {
	t.Helper()
	store := testStore(t)
	cfg := DefaultConfig()
	cfg.SpoolDir = t.TempDir()
	cfg.Webhooks = []WebhookTarget{{
		Name:   "downstream",
		URL:    targetURL,
		Secret: testWebhookSecret,
		Events: events,
	}}

	now := time.Now().UTC().Format(time.RFC3339)
	store.EnsureMatter("mat-1")
	doc := &Document{
		SHA256:    "deadbeef",
		MatterID:  "mat-1",
		State:     StateSummarized,
		Format:    "pdf",
		Title:     "Service Agreement",
		SizeBytes: 2048,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.InsertDocument(doc); err != nil {
		t.Fatal(err)
	}

	return NewRouter(store, cfg, nil), store, doc
}

func TestDeliver_SignsAndClearsRoute(t *testing.T) {
	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Signature-256")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rt, store, doc := routerFixture(t, srv.URL, nil)
	store.InsertSummary(&SummaryRecord{
		DocumentSHA256: doc.SHA256,
		MatterID:       doc.MatterID,
		SummaryJSON:    `{"summary":"The provider shall deliver monthly reports."}`,
		ChunkCount:     1,
		CreatedAt:      nowRFC3339(),
	})
	if err := rt.EnqueueRoutes(doc, EventSummarized); err != nil {
		t.Fatal(err)
	}
	routes, _ := store.ListRoutes(doc.SHA256, doc.MatterID)
	if len(routes) != 1 {
		t.Fatalf("routes = %d, want 1", len(routes))
	}

	if !rt.Deliver(routes[0], doc) {
		t.Fatal("delivery should succeed")
	}

	// Payload carries the stored summary.
	var payload WebhookPayload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Event != EventSummarized || payload.SHA256 != doc.SHA256 {
		t.Errorf("payload = %+v", payload)
	}
	if !strings.Contains(string(payload.Summary), "monthly reports") {
		t.Errorf("summary missing from payload: %s", payload.Summary)
	}

	// HMAC signature matches the body.
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Errorf("signature = %q, want %q", gotSig, want)
	}

	// Successful delivery removes the route.
	routes, _ = store.ListRoutes(doc.SHA256, doc.MatterID)
	if len(routes) != 0 {
		t.Errorf("routes after delivery = %d, want 0", len(routes))
	}
}

func TestDeliver_FailureSchedulesRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	rt, store, doc := routerFixture(t, srv.URL, nil)
	rt.EnqueueRoutes(doc, EventSummarized)
	routes, _ := store.ListRoutes(doc.SHA256, doc.MatterID)

	if rt.Deliver(routes[0], doc) {
		t.Fatal("delivery should fail")
	}

	routes, _ = store.ListRoutes(doc.SHA256, doc.MatterID)
	if len(routes) != 1 {
		t.Fatalf("route should remain pending")
	}
	r := routes[0]
	if r.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", r.Attempts)
	}
	if !strings.Contains(r.LastError, "502") {
		t.Errorf("last error = %q", r.LastError)
	}
	next, err := time.Parse(time.RFC3339, r.NextRetryAt)
	if err != nil {
		t.Fatalf("next_retry_at = %q: %v", r.NextRetryAt, err)
	}
	if !next.After(time.Now().UTC()) {
		t.Error("next retry should be in the future")
	}
}

func TestProcessRetries_DeliversDueRoutes(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	rt, store, doc := routerFixture(t, srv.URL, nil)
	rt.EnqueueRoutes(doc, EventSummarized)

	rt.ProcessRetries()
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	routes, _ := store.ListRoutes(doc.SHA256, doc.MatterID)
	if len(routes) != 0 {
		t.Errorf("routes = %d, want 0", len(routes))
	}

	// Nothing due: no extra calls.
	rt.ProcessRetries()
	if calls != 1 {
		t.Errorf("calls = %d, want 1 after empty run", calls)
	}
}

func TestEnqueueRoutes_EventFilter(t *testing.T) {
	rt, store, doc := routerFixture(t, "http://hooks.example.com/x", []string{EventSummarized})

	if err := rt.EnqueueRoutes(doc, EventFailed); err != nil {
		t.Fatal(err)
	}
	routes, _ := store.ListRoutes(doc.SHA256, doc.MatterID)
	if len(routes) != 0 {
		t.Errorf("filtered event should enqueue nothing, got %d", len(routes))
	}

	if err := rt.EnqueueRoutes(doc, EventSummarized); err != nil {
		t.Fatal(err)
	}
	routes, _ = store.ListRoutes(doc.SHA256, doc.MatterID)
	if len(routes) != 1 {
		t.Errorf("routes = %d, want 1", len(routes))
	}
}

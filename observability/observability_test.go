package observability

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/veridoc/briefd/dbopen"
)

func obsDB(t *testing.T) *sql.DB {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return db
}

func TestMetricsManager_RecordAndQuery(t *testing.T) {
	db := obsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour)

	mm.RecordSimple(MetricModelCallDurationMs, 820, "milliseconds")
	mm.Record(&Metric{
		Name:      MetricChunkCount,
		Timestamp: time.Now(),
		Value:     7,
		Labels:    map[string]string{"matter_id": "m-1"},
		Unit:      "count",
	})

	// Close flushes the buffer.
	if err := mm.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := mm.Query(MetricChunkCount, nil, nil, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("metrics = %d, want 1", len(got))
	}
	if got[0].Value != 7 {
		t.Errorf("value = %f, want 7", got[0].Value)
	}
	if got[0].Labels["matter_id"] != "m-1" {
		t.Errorf("labels = %v", got[0].Labels)
	}
}

func TestMetricsManager_BufferFlush(t *testing.T) {
	db := obsDB(t)
	mm := NewMetricsManager(db, 2, time.Hour)
	defer mm.Close()

	// Third record exceeds the buffer and triggers a flush.
	for i := 0; i < 3; i++ {
		mm.RecordSimple(MetricRequestDurationMs, float64(i), "milliseconds")
	}

	got, err := mm.Query(MetricRequestDurationMs, nil, nil, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) < 2 {
		t.Errorf("flushed metrics = %d, want >= 2", len(got))
	}
}

func TestAuditLogger_LogAndQuery(t *testing.T) {
	db := obsDB(t)
	al := NewAuditLogger(db, 10)
	defer al.Close()

	entry := al.NewAuditEntry("summarize", "summarize",
		map[string]string{"document": "abc123"},
		map[string]int{"chunks": 3},
		nil, 1500*time.Millisecond)
	entry.MatterID = "m-1"
	entry.RequestID = "req-1"

	if err := al.Log(context.Background(), entry); err != nil {
		t.Fatalf("log: %v", err)
	}

	component := "summarize"
	entries, err := al.Query(context.Background(), &AuditFilter{ComponentName: &component})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Status != "success" {
		t.Errorf("status = %q", e.Status)
	}
	if e.MatterID != "m-1" || e.RequestID != "req-1" {
		t.Errorf("correlation ids = %q/%q", e.MatterID, e.RequestID)
	}
	if e.DurationMs != 1500 {
		t.Errorf("duration = %d", e.DurationMs)
	}
}

func TestAuditLogger_ErrorEntry(t *testing.T) {
	db := obsDB(t)
	al := NewAuditLogger(db, 10)
	defer al.Close()

	entry := al.NewAuditEntry("docpipe", "extract", nil, nil,
		context.DeadlineExceeded, time.Second)
	if entry.Status != "error" {
		t.Errorf("status = %q, want error", entry.Status)
	}
	if entry.ErrorMessage == "" {
		t.Error("expected error message")
	}
}

func TestAuditLogger_QueryValidation(t *testing.T) {
	db := obsDB(t)
	al := NewAuditLogger(db, 10)
	defer al.Close()

	if _, err := al.Query(context.Background(), &AuditFilter{OrderBy: "1; DROP TABLE audit_log"}); err == nil {
		t.Error("expected error for invalid order_by")
	}
	if _, err := al.Query(context.Background(), &AuditFilter{OrderDir: "sideways"}); err == nil {
		t.Error("expected error for invalid order_dir")
	}
}

func TestEventLogger(t *testing.T) {
	db := obsDB(t)
	el := NewEventLogger(db)

	el.LogEvent(context.Background(), BusinessEvent{
		EventType:   EventDocumentSummarized,
		ServiceName: "briefd",
		EntityType:  "document",
		EntityID:    "abc123",
		MatterID:    "m-1",
		Action:      "summarize",
		Success:     true,
	})

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM business_event_logs WHERE matter_id = 'm-1'").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("events = %d, want 1", count)
	}
}

func TestHeartbeat_WriteAndRead(t *testing.T) {
	db := obsDB(t)
	hw := NewHeartbeatWriter(db, "briefd", time.Minute)

	if err := hw.WriteHeartbeat(); err != nil {
		t.Fatalf("write: %v", err)
	}

	hs, err := LatestHeartbeat(context.Background(), db, "briefd", 3*time.Minute)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if hs == nil {
		t.Fatal("expected a heartbeat row")
	}
	if !hs.Alive {
		t.Error("fresh heartbeat should be alive")
	}
	if hs.GoroutinesCount <= 0 {
		t.Error("expected goroutine count from runtime")
	}
}

func TestHeartbeat_NoRows(t *testing.T) {
	db := obsDB(t)
	hs, err := LatestHeartbeat(context.Background(), db, "missing", time.Minute)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if hs != nil {
		t.Errorf("expected nil status, got %+v", hs)
	}
}

func TestCleanup(t *testing.T) {
	db := obsDB(t)

	// Insert an old event directly.
	old := time.Now().AddDate(0, 0, -30).Unix()
	if _, err := db.Exec(`INSERT INTO business_event_logs
		(event_id, event_type, service_name, action, success, created_at)
		VALUES ('evt_old', 'document_received', 'briefd', 'receive', 1, ?)`, old); err != nil {
		t.Fatal(err)
	}

	if err := Cleanup(context.Background(), db, RetentionConfig{EventLogsDays: 7}); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM business_event_logs").Scan(&count)
	if count != 0 {
		t.Errorf("events after cleanup = %d, want 0", count)
	}
}

func TestLogHTTPRequest(t *testing.T) {
	db := obsDB(t)
	LogHTTPRequest(context.Background(), db, "POST", "/v1/summarize", 200, 250*time.Millisecond, "203.0.113.9", "curl/8")

	var count int
	db.QueryRow("SELECT COUNT(*) FROM http_request_logs").Scan(&count)
	if count != 1 {
		t.Errorf("http logs = %d, want 1", count)
	}
}

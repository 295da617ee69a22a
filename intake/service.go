package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/veridoc/briefd/docpipe"
	"github.com/veridoc/briefd/idgen"
	"github.com/veridoc/briefd/kit"
	"github.com/veridoc/briefd/observability"
	"github.com/veridoc/briefd/summarize"
)

// ErrModelUpstream marks failures of the summarization model endpoint,
// as opposed to failures caused by the document itself.
var ErrModelUpstream = errors.New("intake: model endpoint failed")

// Service is the main pipeline orchestrator: receive, extract, summarize,
// store, notify.
type Service struct {
	Store  *Store
	Config *Config
	Router *Router

	docs       *docpipe.Pipeline
	summarizer summarize.Summarizer
	pipeline   *summarize.Pipeline

	Audit   *observability.AuditLogger
	Metrics *observability.MetricsManager
	Events  *observability.EventLogger
	NewID   idgen.Generator
	logger  *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithAudit sets the audit logger.
func WithAudit(a *observability.AuditLogger) ServiceOption {
	return func(s *Service) { s.Audit = a }
}

// WithMetrics sets the metrics manager.
func WithMetrics(m *observability.MetricsManager) ServiceOption {
	return func(s *Service) { s.Metrics = m }
}

// WithEvents sets the event logger.
func WithEvents(e *observability.EventLogger) ServiceOption {
	return func(s *Service) { s.Events = e }
}

// WithIDGenerator sets the ID generator for matter IDs.
func WithIDGenerator(g idgen.Generator) ServiceOption {
	return func(s *Service) { s.NewID = g }
}

// WithSummarizer overrides the model client built from config.
func WithSummarizer(sum summarize.Summarizer) ServiceOption {
	return func(s *Service) { s.summarizer = sum }
}

// WithServiceLogger sets the structured logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a fully wired service.
func NewService(cfg *Config, opts ...ServiceOption) (*Service, error) {
	store, err := OpenStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	svc, err := newService(store, cfg, opts...)
	if err != nil {
		store.Close()
		return nil, err
	}
	return svc, nil
}

// NewServiceWithStore is like NewService but reuses an open store
// (tests back it with an in-memory database).
func NewServiceWithStore(store *Store, cfg *Config, opts ...ServiceOption) (*Service, error) {
	return newService(store, cfg, opts...)
}

func newService(store *Store, cfg *Config, opts ...ServiceOption) (*Service, error) {
	svc := &Service{
		Store:  store,
		Config: cfg,
		NewID:  idgen.Prefixed("mat_", idgen.Default),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(svc)
	}

	dpCfg := cfg.DocpipeConfig()
	dpCfg.Logger = svc.logger
	svc.docs = docpipe.New(dpCfg)

	if svc.summarizer == nil {
		client, err := summarize.NewModelClient(cfg.ModelConfig(), svc.logger)
		if err != nil {
			return nil, fmt.Errorf("model client: %w", err)
		}
		svc.summarizer = client
	}
	svc.pipeline = summarize.NewPipeline(svc.summarizer,
		summarize.WithChunkOptions(cfg.ChunkOptions()),
		summarize.WithLogger(svc.logger),
	)

	svc.Router = NewRouter(store, cfg, svc.logger)
	return svc, nil
}

// RecoverStaleDocuments finds documents stuck in intermediate states from a
// previous crash and resets them so a re-upload can retry. Call once at boot
// before accepting new uploads.
func (svc *Service) RecoverStaleDocuments() {
	for _, state := range []string{StateReceived, StateExtracted} {
		docs, err := svc.Store.ListDocumentsByState(state)
		if err != nil {
			svc.logger.Error("recovery list documents", "state", state, "error", err)
			continue
		}
		for _, d := range docs {
			svc.logger.Info("recovery re-queuing stale document",
				"sha256", d.SHA256, "matter", d.MatterID, "state", d.State)
			if err := svc.Store.UpdateDocumentState(d.SHA256, d.MatterID, StateReceived); err != nil {
				svc.logger.Error("recovery update document", "error", err)
			}
		}
		if len(docs) > 0 {
			svc.logger.Info("recovery re-queued documents", "count", len(docs), "state", state)
		}
	}
}

// Close releases resources.
func (svc *Service) Close() error {
	if svc.Audit != nil {
		svc.Audit.Close()
	}
	if svc.Metrics != nil {
		svc.Metrics.Close()
	}
	return svc.Store.Close()
}

func (svc *Service) auditLog(ctx context.Context, operation, matterID, params, result string, err error, duration time.Duration) {
	if svc.Audit == nil {
		return
	}
	entry := svc.Audit.NewAuditEntry("intake", operation, params, result, err, duration)
	entry.MatterID = matterID
	entry.RequestID = kit.GetRequestID(ctx)
	svc.Audit.LogAsync(entry)
}

func (svc *Service) recordEvent(ctx context.Context, eventType, entityID, matterID, action, details string, success bool) {
	if svc.Events == nil {
		return
	}
	svc.Events.LogEvent(ctx, observability.BusinessEvent{
		EventType:   eventType,
		ServiceName: "briefd",
		EntityType:  "document",
		EntityID:    entityID,
		MatterID:    matterID,
		Action:      action,
		Details:     details,
		Success:     success,
	})
}

func (svc *Service) recordMetric(name string, value float64, unit string) {
	if svc.Metrics == nil {
		return
	}
	svc.Metrics.RecordSimple(name, value, unit)
}

// ProcessResult is the result of a full pipeline run.
type ProcessResult struct {
	SHA256       string                       `json:"sha256"`
	MatterID     string                       `json:"matter_id"`
	State        string                       `json:"state"`
	Format       string                       `json:"format,omitempty"`
	Title        string                       `json:"title,omitempty"`
	SizeBytes    int64                        `json:"size_bytes"`
	Deduplicated bool                         `json:"deduplicated,omitempty"`
	ChunkCount   int                          `json:"chunk_count,omitempty"`
	Summary      *summarize.StructuredSummary `json:"summary,omitempty"`
}

// Process runs the full pipeline for a single upload:
//  1. Receive file (spool + hash + dedup)
//  2. Extract text (with OCR fallback)
//  3. Summarize chunk by chunk and structure the result
//  4. Store the summary
//  5. Enqueue webhook routes
//
// Dedup short-circuits to the stored summary when the same content was
// already summarized for the matter.
func (svc *Service) Process(ctx context.Context, r io.Reader, matterID, filename, mimeType string) (*ProcessResult, error) {
	start := time.Now()

	if err := svc.Store.EnsureMatter(matterID); err != nil {
		return nil, fmt.Errorf("ensure matter: %w", err)
	}

	// Step 1: receive.
	upload, err := ReceiveFile(r, matterID, filename, svc.Config, svc.Store)
	if err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}
	svc.recordMetric(observability.MetricDocumentBytes, float64(upload.SizeBytes), "bytes")

	result := &ProcessResult{
		SHA256:       upload.SHA256,
		MatterID:     matterID,
		SizeBytes:    upload.SizeBytes,
		Deduplicated: upload.Deduplicated,
	}

	if upload.Deduplicated {
		return svc.resolveDeduplicated(ctx, upload, result, start)
	}

	svc.auditLog(ctx, "receive_file", matterID, filename, upload.SHA256, nil, time.Since(start))
	svc.recordEvent(ctx, observability.EventDocumentReceived, upload.SHA256, matterID, "received",
		fmt.Sprintf(`{"size_bytes":%d}`, upload.SizeBytes), true)

	return svc.runPipeline(ctx, upload.SHA256, matterID, upload.Path, mimeType, result, start)
}

// resolveDeduplicated serves an already-known document. A previously failed
// document is re-run from its spooled bytes instead.
func (svc *Service) resolveDeduplicated(ctx context.Context, upload *UploadResult, result *ProcessResult, start time.Time) (*ProcessResult, error) {
	doc, err := svc.Store.GetDocument(upload.SHA256, result.MatterID)
	if err != nil {
		return nil, fmt.Errorf("load deduplicated document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("deduplicated document %s vanished", upload.SHA256)
	}

	if doc.State == StateFailed {
		svc.logger.Info("retrying previously failed document",
			"sha256", doc.SHA256, "matter", doc.MatterID)
		result.Deduplicated = false
		return svc.runPipeline(ctx, doc.SHA256, doc.MatterID, doc.SpoolPath, doc.MIME, result, start)
	}

	result.State = doc.State
	result.Format = doc.Format
	result.Title = doc.Title
	if rec, err := svc.Store.GetSummary(doc.SHA256, doc.MatterID); err == nil && rec != nil {
		var summary summarize.StructuredSummary
		if err := json.Unmarshal([]byte(rec.SummaryJSON), &summary); err == nil {
			result.Summary = &summary
			result.ChunkCount = rec.ChunkCount
		}
	}
	svc.auditLog(ctx, "receive_dedup", result.MatterID, doc.SHA256, doc.State, nil, time.Since(start))
	return result, nil
}

// runPipeline runs extraction and summarization for a spooled document and
// records the outcome.
func (svc *Service) runPipeline(ctx context.Context, sha256, matterID, path, mimeType string, result *ProcessResult, start time.Time) (*ProcessResult, error) {
	// Step 2: extract text.
	extractStart := time.Now()
	doc, err := svc.docs.Extract(ctx, path, mimeType)
	svc.recordMetric(observability.MetricExtractDurationMs, float64(time.Since(extractStart).Milliseconds()), "milliseconds")
	if err != nil {
		svc.failDocument(ctx, sha256, matterID, "extract", err, start)
		return nil, fmt.Errorf("extract: %w", err)
	}

	if err := svc.Store.UpdateDocumentExtraction(sha256, matterID, mimeType, string(doc.Format), doc.Title); err != nil {
		return nil, fmt.Errorf("update extraction: %w", err)
	}
	result.Format = string(doc.Format)
	result.Title = doc.Title
	svc.recordEvent(ctx, observability.EventDocumentExtracted, sha256, matterID, "extracted",
		fmt.Sprintf(`{"format":%q,"ocr_used":%v}`, doc.Format, doc.OCRUsed), true)

	// Step 3: summarize.
	modelStart := time.Now()
	sumResult, err := svc.pipeline.Run(ctx, doc.RawText)
	svc.recordMetric(observability.MetricModelCallDurationMs, float64(time.Since(modelStart).Milliseconds()), "milliseconds")
	if err != nil {
		svc.failDocument(ctx, sha256, matterID, "summarize", err, start)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("summarize: %w", err)
		}
		return nil, fmt.Errorf("summarize: %w: %w", ErrModelUpstream, err)
	}
	svc.recordMetric(observability.MetricChunkCount, float64(sumResult.ChunkCount), "count")

	// Step 4: store the summary.
	summaryJSON, err := json.Marshal(sumResult.Summary)
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}
	if err := svc.Store.InsertSummary(&SummaryRecord{
		DocumentSHA256: sha256,
		MatterID:       matterID,
		SummaryJSON:    string(summaryJSON),
		ChunkCount:     sumResult.ChunkCount,
		ModelCalls:     sumResult.ModelCalls,
		Model:          svc.Config.Model.Model,
		DurationMs:     sumResult.Duration.Milliseconds(),
		CreatedAt:      nowRFC3339(),
	}); err != nil {
		return nil, fmt.Errorf("insert summary: %w", err)
	}
	if err := svc.Store.UpdateDocumentState(sha256, matterID, StateSummarized); err != nil {
		return nil, fmt.Errorf("update state: %w", err)
	}

	result.State = StateSummarized
	result.ChunkCount = sumResult.ChunkCount
	result.Summary = &sumResult.Summary

	duration := time.Since(start)
	svc.auditLog(ctx, "summarize", matterID, sha256,
		fmt.Sprintf("chunks=%d calls=%d", sumResult.ChunkCount, sumResult.ModelCalls), nil, duration)
	svc.recordEvent(ctx, observability.EventDocumentSummarized, sha256, matterID, "summarized",
		fmt.Sprintf(`{"chunk_count":%d}`, sumResult.ChunkCount), true)
	svc.recordMetric(observability.MetricRequestDurationMs, float64(duration.Milliseconds()), "milliseconds")

	// Step 5: enqueue webhook routes.
	if stored, err := svc.Store.GetDocument(sha256, matterID); err == nil && stored != nil {
		if err := svc.Router.EnqueueRoutes(stored, EventSummarized); err != nil {
			svc.logger.Error("enqueue routes", "error", err)
		}
	}

	return result, nil
}

// failDocument marks the document failed and records the failure.
func (svc *Service) failDocument(ctx context.Context, sha256, matterID, step string, cause error, start time.Time) {
	if err := svc.Store.MarkDocumentFailed(sha256, matterID, cause.Error()); err != nil {
		svc.logger.Error("mark document failed", "error", err)
	}
	svc.auditLog(ctx, step, matterID, sha256, "", cause, time.Since(start))
	svc.recordEvent(ctx, observability.EventDocumentFailed, sha256, matterID, step,
		fmt.Sprintf(`{"error":%q}`, cause.Error()), false)

	if doc, err := svc.Store.GetDocument(sha256, matterID); err == nil && doc != nil {
		if err := svc.Router.EnqueueRoutes(doc, EventFailed); err != nil {
			svc.logger.Error("enqueue failure routes", "error", err)
		}
	}
}

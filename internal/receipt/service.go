package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/zombor/vouch/internal/scanning"
)

// Index is the search backend mirror of the primary store.
type Index interface {
	// IndexDocument stores doc under id, replacing any earlier copy.
	IndexDocument(ctx context.Context, id string, doc *Document) error
	Search(ctx context.Context, q SearchQuery) (*SearchResult, error)
	// Delete tolerates documents that are not indexed.
	Delete(ctx context.Context, id string) error
	HealthCheck(ctx context.Context) bool
}

// SearchQuery holds the optional search filters. Empty strings and nil
// prices mean "no filter".
type SearchQuery struct {
	Text     string   `json:"q,omitempty"`
	Store    string   `json:"store,omitempty"`
	DateFrom string   `json:"date_from,omitempty"`
	DateTo   string   `json:"date_to,omitempty"`
	MinPrice *float64 `json:"min_price,omitempty"`
	MaxPrice *float64 `json:"max_price,omitempty"`
	Skip     int      `json:"skip"`
	Limit    int      `json:"limit"`
}

type SearchHit struct {
	ID         string              `json:"receipt_id"`
	Score      float64             `json:"score"`
	Receipt    *Receipt            `json:"receipt"`
	Highlights map[string][]string `json:"highlights,omitempty"`
}

type SearchResult struct {
	Total int         `json:"total"`
	Hits  []SearchHit `json:"results"`
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

// Service runs the upload pipeline and the read side over the store and index.
type Service struct {
	store    Store
	index    Index
	scanner  scanning.Scanner
	archive  Archive
	provider scanning.Provider

	idGenerator IDGenerator
	timeSource  TimeSource

	retries int
	backoff time.Duration
}

// Option configures a Service
type Option func(*Service)

// WithArchive keeps the original upload; without it no file is archived.
func WithArchive(a Archive) Option {
	return func(s *Service) { s.archive = a }
}

// WithProvider names the scanner backend in health reports.
func WithProvider(p scanning.Provider) Option {
	return func(s *Service) { s.provider = p }
}

// WithRetries retries transient scan failures up to n times, waiting
// backoff, 2*backoff, ... between attempts.
func WithRetries(n int, backoff time.Duration) Option {
	return func(s *Service) {
		s.retries = n
		s.backoff = backoff
	}
}

func WithIDGenerator(g IDGenerator) Option {
	return func(s *Service) { s.idGenerator = g }
}

func WithTimeSource(t TimeSource) Option {
	return func(s *Service) { s.timeSource = t }
}

// NewService creates a new Service
func NewService(store Store, index Index, scanner scanning.Scanner, opts ...Option) *Service {
	s := &Service{
		store:       store,
		index:       index,
		scanner:     scanner,
		idGenerator: uuidV7Generator{},
		timeSource:  defaultTimeSource{},
		backoff:     time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UploadResult is what the upload pipeline produced. ID is set whenever the
// receipt reached the store, even if indexing then failed.
type UploadResult struct {
	ID      string
	Receipt *Receipt
}

// Upload scans the file, validates the extracted data and persists then indexes it.
// An *IndexError means the receipt was stored and the result carries its id.
func (s *Service) Upload(ctx context.Context, filename string, data []byte) (*UploadResult, error) {
	kind, ok := scanning.MediaKindFromFilename(filename)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMedia, filepath.Ext(filename))
	}

	start := s.timeSource.Now()
	extracted, err := s.analyze(ctx, data, kind)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", filename,
			"media_kind", kind,
			"file_size", len(data),
			"error", err,
		)
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	rec, err := Parse(extracted)
	if err != nil {
		slog.Error("Receipt validation failed", "filename", filename, "error", err)
		return nil, err
	}

	doc := &Document{Receipt: *rec, ContentType: string(kind)}
	if s.archive != nil {
		name := s.idGenerator.Generate() + strings.ToLower(filepath.Ext(filename))
		if err := s.archive.Put(name, data); err != nil {
			return nil, fmt.Errorf("%w: archiving file: %w", ErrPersist, err)
		}
		doc.SourceFile = name
	}

	id, err := s.PersistAndIndex(ctx, doc)
	if err != nil && errors.Is(err, ErrPersist) && doc.SourceFile != "" {
		if derr := s.archive.Delete(doc.SourceFile); derr != nil {
			slog.Warn("Failed to delete archived file", "file", doc.SourceFile, "error", derr)
		}
	}
	if id == "" {
		return nil, err
	}

	slog.Info("Receipt processed",
		"receipt_id", id,
		"store", rec.TransactionInfo.StoreName,
		"items", len(rec.Items),
		"indexed", err == nil,
		"elapsed_ms", s.timeSource.Now().Sub(start).Milliseconds(),
	)
	return &UploadResult{ID: id, Receipt: rec}, err
}

// analyze calls the scanner, retrying only transient failures.
func (s *Service) analyze(ctx context.Context, data []byte, kind scanning.MediaKind) (scanning.Document, error) {
	for attempt := 0; ; attempt++ {
		doc, err := s.scanner.Analyze(ctx, data, kind)
		if err == nil || attempt >= s.retries || !scanning.Retryable(err) {
			return doc, err
		}
		wait := time.Duration(attempt+1) * s.backoff
		slog.Warn("Retrying receipt scan", "attempt", attempt+1, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(wait):
		}
	}
}

// PersistAndIndex saves doc to the store and then indexes it under the
// assigned id. A store failure wraps ErrPersist and nothing is indexed.
// An index failure returns the id together with an *IndexError; the stored
// document is kept and can be indexed later with Reindex.
func (s *Service) PersistAndIndex(ctx context.Context, doc *Document) (string, error) {
	now := s.timeSource.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	id, err := s.store.Save(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPersist, err)
	}

	if err := s.index.IndexDocument(ctx, id, doc); err != nil {
		slog.Error("Receipt saved but not indexed", "receipt_id", id, "error", err)
		return id, &IndexError{ID: id, Err: err}
	}
	return id, nil
}

// Get retrieves a stored receipt by id
func (s *Service) Get(ctx context.Context, id string) (*Document, error) {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return doc, nil
}

// List returns a page of receipts, newest first, and the total count.
func (s *Service) List(ctx context.Context, skip, limit int) ([]*Document, int, error) {
	docs, err := s.store.List(ctx, skip, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("listing receipts: %w", err)
	}
	total, err := s.store.Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("counting receipts: %w", err)
	}
	return docs, total, nil
}

// Search runs q against the index.
func (s *Service) Search(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	res, err := s.index.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("searching receipts: %w", err)
	}
	return res, nil
}

// Delete removes the indexed copy, then the stored document, then the archived file.
// If the index cannot be cleaned up the stored document is left in place.
func (s *Service) Delete(ctx context.Context, id string) error {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if err := s.index.Delete(ctx, id); err != nil {
		return fmt.Errorf("removing receipt from index: %w", err)
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting receipt from store: %w", err)
	}

	if doc.SourceFile != "" && s.archive != nil {
		if err := s.archive.Delete(doc.SourceFile); err != nil {
			// Log error but the receipt itself is gone
			slog.Warn("Failed to delete file", "file", doc.SourceFile, "error", err)
		}
	}
	return nil
}

// Reindex writes the stored document to the index again under its id.
func (s *Service) Reindex(ctx context.Context, id string) error {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("getting receipt: %w", err)
	}
	if err := s.index.IndexDocument(ctx, id, doc); err != nil {
		return &IndexError{ID: id, Err: err}
	}
	slog.Info("Receipt reindexed", "receipt_id", id)
	return nil
}

// File returns the archived upload for a receipt
func (s *Service) File(ctx context.Context, id string) ([]byte, string, error) {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}
	if doc.SourceFile == "" || s.archive == nil {
		return nil, "", fmt.Errorf("%w: no file archived for %s", ErrNotFound, id)
	}
	data, err := s.archive.Get(doc.SourceFile)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}
	return data, doc.ContentType, nil
}

// Health reports each backend as "healthy" or "unhealthy".
type Health struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

func (s *Service) Health(ctx context.Context) Health {
	state := func(ok bool) string {
		if ok {
			return "healthy"
		}
		return "unhealthy"
	}

	h := Health{Status: "healthy", Services: map[string]string{
		"store": state(s.store.HealthCheck(ctx)),
		"index": state(s.index.HealthCheck(ctx)),
		"llm":   state(s.scanner.HealthCheck(ctx)),
	}}
	for _, v := range h.Services {
		if v != "healthy" {
			h.Status = "degraded"
		}
	}
	if s.provider != "" {
		h.Services["llm_provider"] = string(s.provider)
	}
	return h
}

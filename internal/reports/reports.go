// Package reports exports pipeline results as JSON documents to object storage and
// hands back a time-limited download link.
package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/campusdesk/analytics/internal/engine"
	"github.com/campusdesk/analytics/pkg/apperror"
	"github.com/campusdesk/analytics/pkg/logger"
	"github.com/campusdesk/analytics/pkg/metrics"
)

// ObjectStore is the part of an object storage client the exporter needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, key, filename string, expires time.Duration) (string, error)
}

// Report describes an uploaded export.
type Report struct {
	Key         string    `json:"key"`
	URL         string    `json:"url"`
	Size        int64     `json:"size"`
	GeneratedAt time.Time `json:"generatedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Exporter writes results to an ObjectStore.
type Exporter struct {
	store ObjectStore
	ttl   time.Duration
	now   func() time.Time
}

func NewExporter(store ObjectStore, ttl time.Duration) *Exporter {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Exporter{store: store, ttl: ttl, now: time.Now}
}

// body is the exported file layout.
type body struct {
	Recipe      string                       `json:"recipe"`
	GeneratedAt time.Time                    `json:"generatedAt"`
	Params      any                          `json:"params,omitempty"`
	Documents   []engine.Document            `json:"documents,omitempty"`
	Branches    map[string][]engine.Document `json:"branches,omitempty"`
}

// ObjectKey is reports/<recipe>/<yyyy>/<mm>/<dd>/<uuid>.json.
func ObjectKey(recipe string, at time.Time, id uuid.UUID) string {
	return fmt.Sprintf("reports/%s/%s/%s.json", recipe, at.UTC().Format("2006/01/02"), id)
}

// Export uploads res produced by recipe with params and returns a presigned link.
// Storage failures are StoreUnavailable errors.
func (e *Exporter) Export(ctx context.Context, recipe string, params any, res *engine.Result) (*Report, error) {
	now := e.now().UTC()
	payload, err := json.Marshal(body{
		Recipe:      recipe,
		GeneratedAt: now,
		Params:      params,
		Documents:   res.Documents,
		Branches:    res.Branches,
	})
	if err != nil {
		return nil, apperror.New(apperror.Internal, "encode %s report: %v", recipe, err)
	}

	key := ObjectKey(recipe, now, uuid.New())
	if err := e.store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), "application/json"); err != nil {
		return nil, apperror.Unavailable("reports", err)
	}
	filename := fmt.Sprintf("%s-%s.json", recipe, now.Format("20060102-150405"))
	link, err := e.store.PresignGet(ctx, key, filename, e.ttl)
	if err != nil {
		return nil, apperror.Unavailable("reports", err)
	}
	metrics.ReportsExported.WithLabelValues(recipe).Inc()
	logger.Infof("reports: exported %s (%d bytes) to %s", recipe, len(payload), key)
	return &Report{Key: key, URL: link, Size: int64(len(payload)), GeneratedAt: now, ExpiresAt: now.Add(e.ttl)}, nil
}

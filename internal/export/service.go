package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/livingatlas/occsearch/internal/db"
	"github.com/livingatlas/occsearch/internal/domain"
)

// Store is the slice of the permanent store the service needs.
type Store interface {
	Put(ctx context.Context, typ, key string, value []byte) error
}

// Service runs claimed offline export jobs end to end: it opens the
// destination file, streams the export and records a completion summary
// in the permanent store.
type Service struct {
	pipeline *Pipeline
	store    Store
	log      *zap.Logger
}

// NewService creates a service. store may be nil to skip summaries.
func NewService(pipeline *Pipeline, store Store, log *zap.Logger) *Service {
	return &Service{pipeline: pipeline, store: store, log: log}
}

// summary is the persisted completion record for one job.
type summary struct {
	Job         *domain.ExportJob `json:"job"`
	Stats       map[string]int64  `json:"sourceStats"`
	Rows        int64             `json:"rows"`
	File        string            `json:"file"`
	CompletedAt time.Time         `json:"completedAt"`
}

// Run executes one claimed job. The claim path (job.FileLocation) names
// the destination file.
func (s *Service) Run(ctx context.Context, job *domain.ExportJob) error {
	if job.FileLocation == "" {
		return fmt.Errorf("job %d has no claim path", job.ID)
	}

	if err := os.MkdirAll(filepath.Dir(job.FileLocation), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	f, err := os.Create(job.FileLocation)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}

	sink, err := NewSink(f, job.Format, job.Gzip)
	if err != nil {
		f.Close()
		return err
	}

	stats, err := s.pipeline.Run(ctx, job, sink)
	if err != nil {
		f.Close()
		os.Remove(job.FileLocation)
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close export file: %w", err)
	}

	s.persistSummary(ctx, job, stats)
	return nil
}

func (s *Service) persistSummary(ctx context.Context, job *domain.ExportJob, stats map[string]int64) {
	if s.store == nil {
		return
	}
	data, err := json.Marshal(summary{
		Job:         job,
		Stats:       stats,
		Rows:        job.RowsWritten(),
		File:        job.FileLocation,
		CompletedAt: time.Now(),
	})
	if err != nil {
		s.log.Error("marshal export summary", zap.Error(err))
		return
	}
	if err := s.store.Put(ctx, db.TypeJob, strconv.FormatInt(job.ID, 10), data); err != nil {
		s.log.Error("persist export summary", zap.Int64("job", job.ID), zap.Error(err))
	}
}

package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Sink receives export rows. Implementations are not safe for
// concurrent use; the pipeline serializes writers behind its own lock.
type Sink interface {
	Write(row []string) error
	Finalize() error
}

type csvSink struct {
	w       *csv.Writer
	closers []io.Closer
}

// NewCSVSink writes comma-separated rows to w.
func NewCSVSink(w io.Writer) Sink {
	return &csvSink{w: csv.NewWriter(w)}
}

// NewTSVSink writes tab-separated rows to w.
func NewTSVSink(w io.Writer) Sink {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	return &csvSink{w: cw}
}

// NewSink builds a sink for the given format ("csv" or "tsv"),
// optionally gzip-compressing the stream.
func NewSink(w io.Writer, format string, gzipped bool) (Sink, error) {
	var closers []io.Closer
	if gzipped {
		gz := gzip.NewWriter(w)
		closers = append(closers, gz)
		w = gz
	}

	var s *csvSink
	switch format {
	case "", "csv":
		s = NewCSVSink(w).(*csvSink)
	case "tsv":
		s = NewTSVSink(w).(*csvSink)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
	s.closers = closers
	return s, nil
}

func (s *csvSink) Write(row []string) error {
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	return nil
}

func (s *csvSink) Finalize() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			return fmt.Errorf("close: %w", err)
		}
	}
	return nil
}

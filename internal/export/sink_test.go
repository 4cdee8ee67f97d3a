package export

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestCSVSink(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewSink(&buf, "csv", false)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}

	rows := [][]string{
		{"id", "scientific_name"},
		{"doc-1", "Acacia dealbata"},
		{"doc-2", `quoted "value", with comma`},
	}
	for _, row := range rows {
		if err := s.Write(row); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := s.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	got, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(got) != len(rows) {
		t.Fatalf("expected %d rows, got %d", len(rows), len(got))
	}
	if got[2][1] != rows[2][1] {
		t.Errorf("row round trip mismatch: %q", got[2][1])
	}
}

func TestTSVSink(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewSink(&buf, "tsv", false)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	if err := s.Write([]string{"a", "b"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if got := buf.String(); got != "a\tb\n" {
		t.Errorf("unexpected output %q", got)
	}
}

func TestGzipSink(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewSink(&buf, "csv", true)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	if err := s.Write([]string{"id", "name"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Write([]string{"1", "Acacia"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	zr, err := gzip.NewReader(&buf)
	if err != nil {
		t.Fatalf("not a gzip stream: %v", err)
	}
	defer zr.Close()
	plain, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !strings.Contains(string(plain), "1,Acacia") {
		t.Errorf("unexpected content %q", plain)
	}
}

func TestUnsupportedFormat(t *testing.T) {
	if _, err := NewSink(&bytes.Buffer{}, "xlsx", false); err == nil {
		t.Fatal("expected an error for an unsupported format")
	}
}

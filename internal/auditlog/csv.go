// Package auditlog appends one CSV line per committed entity.
package auditlog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

// Header is the first line of every audit log file.
var Header = []string{"source", "url", "collector", "collected_at", "review_count", "document_path"}

// byteOrderMark lets spreadsheet tools detect UTF-8 in new files.
const byteOrderMark = "\ufeff"

// TimeLayout formats the collected_at column.
const TimeLayout = "2006-01-02 15:04:05"

// CSVLog is an append-only CSV audit log. It is safe for concurrent use.
type CSVLog struct {
	mu   sync.Mutex
	path string
}

// NewCSVLog returns a log writing to path. The file and its header are created
// on the first append.
func NewCSVLog(path string) (*CSVLog, error) {
	if path == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	return &CSVLog{path: path}, nil
}

// Path returns the log file path.
func (l *CSVLog) Path() string {
	return l.path
}

// Append writes one row for rec.
func (l *CSVLog) Append(_ context.Context, rec harvest.CollectionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	writeHeader := false
	if _, err := os.Stat(l.path); errors.Is(err, os.ErrNotExist) {
		writeHeader = true
		if dir := filepath.Dir(l.path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return fmt.Errorf("create audit log directory: %w", err)
			}
		}
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	w := csv.NewWriter(f)
	if writeHeader {
		if _, err := f.WriteString(byteOrderMark); err != nil {
			_ = f.Close()
			return fmt.Errorf("write audit header: %w", err)
		}
		if err := w.Write(Header); err != nil {
			_ = f.Close()
			return fmt.Errorf("write audit header: %w", err)
		}
	}
	row := []string{
		rec.Source,
		rec.URL,
		rec.Collector,
		rec.CollectedAt.Format(TimeLayout),
		strconv.Itoa(rec.ReviewCount),
		rec.DocumentPath,
	}
	if err := w.Write(row); err != nil {
		_ = f.Close()
		return fmt.Errorf("write audit row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush audit log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close audit log: %w", err)
	}
	return nil
}

// Read returns every data row of the log, header excluded. A missing file
// yields no rows.
func (l *CSVLog) Read() ([]harvest.CollectionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse audit log: %w", err)
	}
	var out []harvest.CollectionRecord
	for i, row := range rows {
		if i == 0 || len(row) != len(Header) {
			continue
		}
		collectedAt, _ := time.ParseInLocation(TimeLayout, row[3], time.Local)
		count, _ := strconv.Atoi(row[4])
		out = append(out, harvest.CollectionRecord{
			Source:       row[0],
			URL:          row[1],
			Collector:    row[2],
			CollectedAt:  collectedAt,
			ReviewCount:  count,
			DocumentPath: row[5],
		})
	}
	return out, nil
}

package reporting

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/quanthive/tradegate/pkg/types"
)

// CSVJournal appends trade records to a CSV file as they happen.
type CSVJournal struct {
	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
}

// NewCSVJournal creates the journal file and writes the header.
func NewCSVJournal(path string) (*CSVJournal, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	j := &CSVJournal{file: f, w: csv.NewWriter(f)}
	if err := j.w.Write([]string{
		"ID",
		"Account",
		"Venue",
		"Symbol",
		"Side",
		"Size_USD",
		"Fill_Price",
		"Fees",
		"PnL",
		"Reason",
		"Submitted",
		"Completed",
	}); err != nil {
		f.Close()
		return nil, err
	}
	j.w.Flush()
	return j, nil
}

// Append writes one record and flushes it to disk.
func (j *CSVJournal) Append(rec types.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.w.Write([]string{
		rec.ID,
		rec.AccountID,
		rec.VenueID,
		rec.Symbol,
		string(rec.Side),
		fmt.Sprintf("%.2f", rec.SizeUSD),
		fmt.Sprintf("%.6f", rec.FillPrice),
		fmt.Sprintf("%.4f", rec.Fees),
		fmt.Sprintf("%.2f", rec.PnL),
		rec.ReasonCode,
		rec.SubmittedAt.Format("2006-01-02 15:04:05"),
		rec.CompletedAt.Format("2006-01-02 15:04:05"),
	}); err != nil {
		return err
	}
	j.w.Flush()
	return j.w.Error()
}

// Close flushes and closes the journal file.
func (j *CSVJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.w.Flush()
	if err := j.w.Error(); err != nil {
		j.file.Close()
		return err
	}
	return j.file.Close()
}

// Package reporting consumes the gateway's trade record stream and
// produces the session journal and reports.
package reporting

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/quanthive/tradegate/pkg/types"
)

// Reporter collects trade records and writes the console summary, the
// CSV journal, and the Excel session report.
type Reporter struct {
	dir     string
	console *ConsoleReporter
	csv     *CSVJournal

	mu      sync.Mutex
	records []types.TradeRecord
	started time.Time
}

// NewReporter creates a reporter writing into dir.
func NewReporter(dir string) (*Reporter, error) {
	stamp := time.Now().Format("2006-01-02_150405")
	journal, err := NewCSVJournal(filepath.Join(dir, "trades_"+stamp+".csv"))
	if err != nil {
		return nil, err
	}
	return &Reporter{
		dir:     dir,
		console: NewConsoleReporter(),
		csv:     journal,
		started: time.Now(),
	}, nil
}

// Run consumes the record stream until it is closed. Each record is
// journaled immediately so a crash loses at most the in-flight record.
func (r *Reporter) Run(records <-chan types.TradeRecord) {
	for record := range records {
		r.mu.Lock()
		r.records = append(r.records, record)
		r.mu.Unlock()
		if err := r.csv.Append(record); err != nil {
			// Journal failures must not stall trading.
			continue
		}
	}
}

// Close flushes the journal and writes the session reports.
func (r *Reporter) Close() error {
	r.mu.Lock()
	records := make([]types.TradeRecord, len(r.records))
	copy(records, r.records)
	started := r.started
	r.mu.Unlock()

	r.console.PrintSessionSummary(records, started)

	stamp := time.Now().Format("2006-01-02_150405")
	excelPath := filepath.Join(r.dir, "session_"+stamp+".xlsx")
	if err := WriteSessionXLSX(records, started, excelPath); err != nil {
		return err
	}
	return r.csv.Close()
}

// SessionStats aggregates a record slice for summaries.
type SessionStats struct {
	Total       int
	Filled      int
	Rejected    int
	Errors      int
	BuyUSD      float64
	SellUSD     float64
	RealizedPnL float64
	ByVenue     map[string]int
}

// ComputeStats derives session statistics from trade records.
func ComputeStats(records []types.TradeRecord) SessionStats {
	stats := SessionStats{ByVenue: make(map[string]int)}
	for _, rec := range records {
		stats.Total++
		stats.ByVenue[rec.VenueID]++
		switch {
		case rec.FillPrice > 0:
			stats.Filled++
			if rec.Side == types.SideBuy {
				stats.BuyUSD += rec.SizeUSD
			} else {
				stats.SellUSD += rec.SizeUSD
				stats.RealizedPnL += rec.PnL
			}
		case rec.ReasonCode == "venue_error":
			stats.Errors++
		default:
			stats.Rejected++
		}
	}
	return stats
}

package reporting

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quanthive/tradegate/pkg/types"
)

func sampleRecords() []types.TradeRecord {
	return []types.TradeRecord{
		{ID: "1", VenueID: "kraken", Side: types.SideBuy, SizeUSD: 88, FillPrice: 100},
		{ID: "2", VenueID: "kraken", Side: types.SideSell, SizeUSD: 95, FillPrice: 105, PnL: 7},
		{ID: "3", VenueID: "coinbase", Side: types.SideBuy, SizeUSD: 50, ReasonCode: "gate:minimum_size"},
		{ID: "4", VenueID: "coinbase", Side: types.SideBuy, SizeUSD: 120, ReasonCode: "venue_error"},
	}
}

func TestComputeStats(t *testing.T) {
	stats := ComputeStats(sampleRecords())

	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Filled)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 88.0, stats.BuyUSD)
	assert.Equal(t, 95.0, stats.SellUSD)
	assert.Equal(t, 7.0, stats.RealizedPnL)
	assert.Equal(t, 2, stats.ByVenue["kraken"])
	assert.Equal(t, 2, stats.ByVenue["coinbase"])
}

func TestComputeStatsEmpty(t *testing.T) {
	stats := ComputeStats(nil)
	assert.Equal(t, 0, stats.Total)
	assert.Empty(t, stats.ByVenue)
}

func TestCSVJournalRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal", "trades.csv")
	journal, err := NewCSVJournal(path)
	require.NoError(t, err)

	for _, rec := range sampleRecords() {
		require.NoError(t, journal.Append(rec))
	}
	require.NoError(t, journal.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5, "header plus four records")
	assert.Equal(t, "ID", rows[0][0])
	assert.Equal(t, "kraken", rows[1][2])
	assert.Equal(t, "gate:minimum_size", rows[3][9])
}

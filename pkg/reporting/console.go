package reporting

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/quanthive/tradegate/pkg/types"
)

// ConsoleReporter prints session output to stdout
type ConsoleReporter struct{}

// NewConsoleReporter creates a new console reporter
func NewConsoleReporter() *ConsoleReporter {
	return &ConsoleReporter{}
}

// PrintSessionSummary prints the end-of-session summary tables
func (r *ConsoleReporter) PrintSessionSummary(records []types.TradeRecord, started time.Time) {
	stats := ComputeStats(records)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("SESSION SUMMARY")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"⏰ Duration", time.Since(started).Round(time.Second).String()},
		{"🔄 Total Records", stats.Total},
		{"✅ Filled", stats.Filled},
		{"🚫 Rejected", stats.Rejected},
		{"🚨 Venue Errors", stats.Errors},
		{"💵 Bought", fmt.Sprintf("$%.2f", stats.BuyUSD)},
		{"💵 Sold", fmt.Sprintf("$%.2f", stats.SellUSD)},
		{"💹 Realized PnL", fmt.Sprintf("$%.2f", stats.RealizedPnL)},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 20, WidthMax: 30, Align: text.AlignLeft},
	})

	t.Render()
	fmt.Println()

	if len(stats.ByVenue) > 0 {
		v := table.NewWriter()
		v.SetOutputMirror(os.Stdout)
		v.SetTitle("PER-VENUE ACTIVITY")
		v.SetStyle(table.StyleRounded)
		v.AppendHeader(table.Row{"Venue", "Records"})
		for venueID, count := range stats.ByVenue {
			v.AppendRow(table.Row{venueID, count})
		}
		v.Render()
		fmt.Println()
	}
}

// PrintStartupBanner prints the gateway configuration at startup
func (r *ConsoleReporter) PrintStartupBanner(accounts, venues int, port string) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("GATEWAY INITIALIZATION")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"👥 Accounts", accounts},
		{"🏪 Venue Connections", venues},
		{"🌐 Control Plane", "http://localhost:" + port},
		{"⏰ Started", time.Now().Format("2006-01-02 15:04:05")},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 20, WidthMax: 20, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 35, Align: text.AlignLeft},
	})

	t.Render()
	fmt.Println()
}

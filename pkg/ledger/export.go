package ledger

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gregtusar/tradesim/pkg/models"
)

type positionRecord struct {
	ID         string `csv:"id"`
	Asset      string `csv:"asset"`
	Direction  string `csv:"direction"`
	Stake      string `csv:"stake"`
	PlacedAt   string `csv:"placed_at"`
	Expiration int    `csv:"expiration_seconds"`
	Status     string `csv:"status"`
	Profit     string `csv:"profit"`
	ResolvedAt string `csv:"resolved_at"`
}

func newPositionRecord(p models.Position) *positionRecord {
	record := &positionRecord{
		ID:         p.ID,
		Asset:      p.AssetID,
		Direction:  string(p.Direction),
		Stake:      p.Stake.StringFixed(2),
		PlacedAt:   p.PlacedAt.UTC().Format(time.RFC3339),
		Expiration: p.ExpirationSeconds,
		Status:     string(p.Status),
		Profit:     p.RealizedProfit.StringFixed(2),
	}
	if p.ResolvedAt != nil {
		record.ResolvedAt = p.ResolvedAt.UTC().Format(time.RFC3339)
	}
	return record
}

// WriteCSV writes the trade history, newest first, with a header row.
func (l *Ledger) WriteCSV(w io.Writer) error {
	positions := l.Positions()
	records := make([]*positionRecord, 0, len(positions))
	for _, p := range positions {
		records = append(records, newPositionRecord(p))
	}

	if len(records) == 0 {
		// gocsv writes nothing at all for an empty slice
		header, err := gocsv.MarshalString([]*positionRecord{{}})
		if err != nil {
			return fmt.Errorf("ledger: csv header: %w", err)
		}
		_, err = io.WriteString(w, strings.SplitAfterN(header, "\n", 2)[0])
		return err
	}

	if err := gocsv.Marshal(records, w); err != nil {
		return fmt.Errorf("ledger: write csv: %w", err)
	}
	return nil
}

// Table renders the trade history and account statistics as text.
func (l *Ledger) Table() string {
	positions := l.Positions()
	stats := l.Stats()
	p := message.NewPrinter(language.English)

	display := &strings.Builder{}
	display.WriteString("Trade History:\n")

	table := tablewriter.NewWriter(display)
	table.SetHeader([]string{"Asset", "Direction", "Stake", "Placed", "Expiration", "Status", "Profit"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)

	if len(positions) == 0 {
		table.Append([]string{"-", "-", "-", "-", "-", "-", "-"})
	}
	for _, pos := range positions {
		profit := "-"
		switch pos.Status {
		case models.PositionStatusWon:
			profit = "+" + formatCurrency(p, pos.RealizedProfit)
		case models.PositionStatusLost:
			profit = "-" + formatCurrency(p, pos.Stake)
		}

		table.Append([]string{
			pos.AssetID,
			string(pos.Direction),
			formatCurrency(p, pos.Stake),
			pos.PlacedAt.Format("15:04:05"),
			models.ExpirationLabel(pos.ExpirationSeconds),
			string(pos.Status),
			profit,
		})
	}
	table.Render()

	fmt.Fprintf(display, "Balance: %s  Trades: %d  Wins: %d  Profit: %s\n",
		formatCurrency(p, stats.Balance), stats.TotalTrades, stats.Wins, formatCurrency(p, stats.TotalProfit))

	return display.String()
}

func formatCurrency(p *message.Printer, amount decimal.Decimal) string {
	f, _ := amount.Float64()
	return "$" + p.Sprintf("%.2f", f)
}

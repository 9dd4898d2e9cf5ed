package reporter

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/addhe/awan-t-bot-sub000/internal/models"
	"github.com/jedib0t/go-pretty/v6/table"
)

// Metrics holds performance figures computed from closed trades.
type Metrics struct {
	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
	WinRate        float64 // percent
	TotalProfitPct float64 // sum of profit_pct
	AvgProfitLoss  float64 // average win / average loss
	MaxDrawdown    float64 // percent, on compounded trade returns
	StartTime      time.Time
	EndTime        time.Time
}

// Calculate computes Metrics over trades in any order.
func Calculate(trades []models.ClosedTrade) Metrics {
	m := Metrics{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return m
	}

	ordered := make([]models.ClosedTrade, len(trades))
	copy(ordered, trades)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ExitTime.Before(ordered[j].ExitTime) })
	m.StartTime = ordered[0].ExitTime
	m.EndTime = ordered[len(ordered)-1].ExitTime

	var totalWin, totalLoss float64
	equity := 1.0
	curve := []float64{equity}
	for _, trade := range ordered {
		m.TotalProfitPct += trade.ProfitPct
		if trade.ProfitPct > 0 {
			m.WinningTrades++
			totalWin += trade.ProfitPct
		} else {
			m.LosingTrades++
			totalLoss += trade.ProfitPct
		}
		equity *= 1 + trade.ProfitPct/100
		curve = append(curve, equity)
	}

	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	if m.LosingTrades > 0 && m.WinningTrades > 0 && totalLoss != 0 {
		avgWin := totalWin / float64(m.WinningTrades)
		avgLoss := math.Abs(totalLoss / float64(m.LosingTrades))
		m.AvgProfitLoss = avgWin / avgLoss
	}
	m.MaxDrawdown = calculateMaxDrawdown(curve) * 100
	return m
}

// Performance summarises the trades that exited at or after since.
func Performance(trades []models.ClosedTrade, since time.Time) models.Performance {
	var p models.Performance
	for _, trade := range trades {
		if trade.ExitTime.Before(since) {
			continue
		}
		p.TotalTrades++
		p.TotalProfit += trade.ProfitPct
		if trade.ProfitPct > 0 {
			p.Wins++
		}
	}
	if p.TotalTrades > 0 {
		p.WinRate = float64(p.Wins) / float64(p.TotalTrades) * 100
	}
	return p
}

func calculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		drawdown := (peak - equity) / peak
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}

// PositionLine is one active position as shown in the digest.
type PositionLine struct {
	Symbol        string
	EntryPrice    float64
	MarkPrice     float64
	Quantity      float64
	UnrealizedPct float64
	Held          time.Duration
}

// Digest is everything the periodic status message shows. AllTime is optional.
type Digest struct {
	Status    models.BotStatus
	Positions []PositionLine
	AllTime   *Metrics
}

// RenderDigest formats d as plain text tables.
func RenderDigest(d Digest) string {
	var b strings.Builder
	s := d.Status

	health := "OK"
	if !s.Healthy {
		health = "UNHEALTHY"
	}
	fmt.Fprintf(&b, "Bot status: %s (%s)\n", health, s.Exchange)
	fmt.Fprintf(&b, "Uptime: %.1fh  Updated: %s\n", s.UptimeHours, s.LastUpdated.UTC().Format("2006-01-02 15:04 MST"))
	if s.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", s.LastError)
	}

	bal := newTable()
	bal.AppendHeader(table.Row{"Asset", "Free"})
	assets := make([]string, 0, len(s.Balances))
	for asset := range s.Balances {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for _, asset := range assets {
		bal.AppendRow(table.Row{asset, fmt.Sprintf("%.8g", s.Balances[asset])})
	}
	b.WriteString("\nBalances\n")
	b.WriteString(bal.Render())
	b.WriteString("\n")

	b.WriteString("\nActive trades\n")
	if len(d.Positions) == 0 {
		b.WriteString("none\n")
	} else {
		pos := newTable()
		pos.AppendHeader(table.Row{"Symbol", "Entry", "Mark", "Qty", "P/L %", "Held"})
		for _, p := range d.Positions {
			pos.AppendRow(table.Row{
				p.Symbol,
				fmt.Sprintf("%.8g", p.EntryPrice),
				fmt.Sprintf("%.8g", p.MarkPrice),
				fmt.Sprintf("%.8g", p.Quantity),
				fmt.Sprintf("%+.2f", p.UnrealizedPct),
				p.Held.Truncate(time.Minute).String(),
			})
		}
		b.WriteString(pos.Render())
		b.WriteString("\n")
	}

	perf := newTable()
	perf.AppendHeader(table.Row{"Period", "Trades", "Win rate", "Profit %"})
	perf.AppendRow(table.Row{"24h", s.Performance.TotalTrades,
		fmt.Sprintf("%.1f%%", s.Performance.WinRate), fmt.Sprintf("%+.2f", s.Performance.TotalProfit)})
	if d.AllTime != nil {
		perf.AppendRow(table.Row{"all", d.AllTime.TotalTrades,
			fmt.Sprintf("%.1f%%", d.AllTime.WinRate), fmt.Sprintf("%+.2f", d.AllTime.TotalProfitPct)})
	}
	b.WriteString("\nPerformance\n")
	b.WriteString(perf.Render())
	b.WriteString("\n")
	if d.AllTime != nil && d.AllTime.TotalTrades > 0 {
		fmt.Fprintf(&b, "Max drawdown: %.2f%%  Avg win/loss: %.2f\n", d.AllTime.MaxDrawdown, d.AllTime.AvgProfitLoss)
	}

	g := s.Governor
	fmt.Fprintf(&b, "\nAPI: breaker %s, errors %d, backoff %.0fs, requests %d/%d\n",
		g.BreakerState, g.ErrorCount, g.CurrentBackoff, g.GeneralInWindow, g.MaxRequests)
	return b.String()
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	return t
}

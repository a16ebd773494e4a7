package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/nsf/termbox-go"
	"github.com/urfave/cli/v2"
)

// metricRow mirrors the flattened JSON infra/debughttp's /debug/metrics
// endpoint renders, used only by this terminal client.
type metricRow struct {
	SessionID              string `json:"session_id"`
	TransportState         string `json:"transport_state"`
	TransactionsSuccessful uint64 `json:"transactions_successful"`
	TransactionsFailed     uint64 `json:"transactions_failed"`
	InboundBytes           uint64 `json:"inbound_bytes"`
	OutboundBytes          uint64 `json:"outbound_bytes"`
	Errors                 uint64 `json:"errors"`
}

// statsCmd drives the `mediaproxy stats` terminal dashboard spec §4.11
// describes: a termui table of live sessions, refreshed by polling the
// debug HTTP surface's /debug/metrics endpoint.
func statsCmd() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Live terminal dashboard of session transport metrics",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "http://127.0.0.1:9090", Usage: "debug HTTP surface base URL"},
			&cli.DurationFlag{Name: "interval", Value: time.Second, Usage: "poll interval"},
		},
		Action: func(c *cli.Context) error {
			return runStatsDashboard(c.Context, c.String("addr"), c.Duration("interval"))
		},
	}
}

func runStatsDashboard(ctx context.Context, addr string, interval time.Duration) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("stats: init termui: %w", err)
	}
	defer ui.Close()
	// Mouse reporting so a future scroll/click on the table is possible;
	// termui's own event loop only forwards what termbox hands it.
	termbox.SetInputMode(termbox.InputEsc | termbox.InputMouse)

	table := widgets.NewTable()
	table.Title = "mediaproxy sessions"
	table.Rows = [][]string{{"session", "state", "ok", "failed", "in", "out", "errs"}}
	table.TextStyle = ui.NewStyle(ui.ColorWhite)
	table.RowSeparator = true
	w, h := ui.TerminalDimensions()
	table.SetRect(0, 0, w, h)

	render := func() {
		rows, err := fetchMetrics(addr)
		if err != nil {
			table.Rows = [][]string{{"error", err.Error(), "", "", "", "", ""}}
			ui.Render(table)
			return
		}
		out := [][]string{{"session", "state", "ok", "failed", "in", "out", "errs"}}
		for _, row := range rows {
			out = append(out, []string{
				row.SessionID, row.TransportState,
				fmt.Sprint(row.TransactionsSuccessful), fmt.Sprint(row.TransactionsFailed),
				fmt.Sprint(row.InboundBytes), fmt.Sprint(row.OutboundBytes), fmt.Sprint(row.Errors),
			})
		}
		table.Rows = out
		ui.Render(table)
	}

	render()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	events := ui.PollEvents()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "<Resize>":
				w, h := ui.TerminalDimensions()
				table.SetRect(0, 0, w, h)
				ui.Render(table)
			}
		case <-ticker.C:
			render()
		}
	}
}

func fetchMetrics(addr string) ([]metricRow, error) {
	req, err := http.NewRequest(http.MethodGet, addr+"/debug/metrics", nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rows []metricRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}

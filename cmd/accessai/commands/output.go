package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pterm/pterm"

	"github.com/robertclapp/accessai-sub004/sym"
)

// renderTable prints rows under a header row
func renderTable(header []string, rows [][]string) error {
	data := pterm.TableData{header}
	data = append(data, rows...)
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// statusCell renders a status with its glyph, colored by outcome
func statusCell(status string) string {
	text := sym.ForStatus(status) + " " + status
	switch status {
	case "success", "completed":
		return pterm.Green(text)
	case "failure":
		return pterm.Red(text)
	case "running":
		return pterm.LightCyan(text)
	case "skipped", "cancelled":
		return pterm.Yellow(text)
	default:
		return pterm.Gray(text)
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatOptional(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func formatDurationMs(ms *int64) string {
	if ms == nil {
		return "-"
	}
	return (time.Duration(*ms) * time.Millisecond).String()
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

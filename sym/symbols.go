// Package sym defines canonical symbols used as structured log fields and CLI markers.
// These symbols are stable across logs, CLI output, and alert messages.
package sym

// System symbols.
const (
	Scheduler  = "꩜" // scheduled jobs and the execution ledger
	Open       = "✿" // graceful startup
	Close      = "❀" // graceful shutdown
	DB         = "⊔" // database/storage layer
	Experiment = "⚖" // experiments and the decision engine
	Notify     = "✉" // outbound alerts
)

// Status glyphs for execution records and experiments in CLI output.
const (
	Running   = "●"
	Success   = "✔"
	Failure   = "✘"
	Skipped   = "↷"
	Draft     = "○"
	Completed = "★"
	Cancelled = "⊘"
)

var statusGlyphs = map[string]string{
	"running":   Running,
	"success":   Success,
	"failure":   Failure,
	"skipped":   Skipped,
	"draft":     Draft,
	"completed": Completed,
	"cancelled": Cancelled,
}

// ForStatus returns the glyph for an execution or experiment status, or "?" for unknown values.
func ForStatus(status string) string {
	if g, ok := statusGlyphs[status]; ok {
		return g
	}
	return "?"
}

package simulation

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hatlonely/cdcgen/catalog"
	"github.com/hatlonely/cdcgen/evolution"
	"github.com/hatlonely/cdcgen/mutation"
	"github.com/hatlonely/cdcgen/schema"
	"github.com/pkg/errors"
)

// Column 报告中的列
type Column struct {
	Name string             `json:"name" msgpack:"name"`
	Type catalog.ColumnType `json:"type" msgpack:"type"`
}

// Report 运行结果，完成和中断时都会生成
type Report struct {
	RunID          string                `json:"runId" msgpack:"runId"`
	Table          string                `json:"table" msgpack:"table"`
	State          State                 `json:"state" msgpack:"state"`
	Error          string                `json:"error,omitempty" msgpack:"error,omitempty"`
	StartedAt      time.Time             `json:"startedAt" msgpack:"startedAt"`
	FinishedAt     time.Time             `json:"finishedAt" msgpack:"finishedAt"`
	Batches        int                   `json:"batches" msgpack:"batches"`
	SnapshotRows   int                   `json:"snapshotRows" msgpack:"snapshotRows"`
	Totals         mutation.Counters     `json:"totals" msgpack:"totals"`
	OriginalSchema []Column              `json:"originalSchema" msgpack:"originalSchema"`
	SchemaChanges  []schema.HistoryEntry `json:"schemaChanges" msgpack:"schemaChanges"`
	FinalSchema    []Column              `json:"finalSchema" msgpack:"finalSchema"`
	Evolution      evolution.Summary     `json:"evolution" msgpack:"evolution"`
}

func columnsOf(s *catalog.ActiveSchema) []Column {
	columns := make([]Column, 0, s.Len())
	for _, c := range s.Columns() {
		columns = append(columns, Column{Name: c.Name, Type: c.Type})
	}
	return columns
}

// WriteText 输出人读的报告
func (r *Report) WriteText(w io.Writer) error {
	var b strings.Builder

	switch r.State {
	case StateCompleted:
		b.WriteString("CDC simulation complete\n")
	case StateInterrupted:
		b.WriteString("CDC simulation interrupted\n")
	default:
		fmt.Fprintf(&b, "CDC simulation %s\n", r.State)
	}
	fmt.Fprintf(&b, "Run: %s\nTable: %s\nBatches: %d\n", r.RunID, r.Table, r.Batches)
	if !r.StartedAt.IsZero() && !r.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "Duration: %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", r.Error)
	}

	b.WriteString("\nTotals:\n")
	if r.SnapshotRows > 0 {
		fmt.Fprintf(&b, " - snapshot: %d\n", r.SnapshotRows)
	}
	fmt.Fprintf(&b, " - inserts: %d\n - updates: %d\n - deletes: %d\n", r.Totals.Inserts, r.Totals.Updates, r.Totals.Deletes)

	b.WriteString("\nOriginal Schema:\n")
	writeColumns(&b, r.OriginalSchema)

	b.WriteString("\nSchema Changes:\n")
	if len(r.SchemaChanges) == 0 {
		b.WriteString(" (none)\n")
	}
	for _, e := range r.SchemaChanges {
		fmt.Fprintf(&b, " - %s: %s\n", strings.ToUpper(string(e.Action)), e.Column)
	}

	b.WriteString("\nFinal Schema:\n")
	writeColumns(&b, r.FinalSchema)

	b.WriteString("\nSchema Evolution Summary:\n")
	fmt.Fprintf(&b, " - adds: %d/%d\n - drops: %d/%d\n", r.Evolution.TotalAdds, r.Evolution.MaxAdds, r.Evolution.TotalDrops, r.Evolution.MaxDrops)

	if _, err := io.WriteString(w, b.String()); err != nil {
		return errors.Wrap(err, "write report failed")
	}
	return nil
}

func writeColumns(b *strings.Builder, columns []Column) {
	for _, c := range columns {
		fmt.Fprintf(b, " - %s: %s\n", c.Name, c.Type)
	}
}

// WriteJSON 输出带缩进的 JSON 报告
func (r *Report) WriteJSON(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(r); err != nil {
		return errors.Wrap(err, "encode report failed")
	}
	return nil
}

// Write 按 format 输出，支持 text 和 json
func (r *Report) Write(w io.Writer, format string) error {
	switch format {
	case "", "text":
		return r.WriteText(w)
	case "json":
		return r.WriteJSON(w)
	default:
		return errors.Errorf("unsupported report format: %s", format)
	}
}

package evaloutput

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"trainhooks/internal/objectstore"
	"trainhooks/internal/trainer"
)

const benchmarkColumn = "benchmark"

// FileName is the exported table name for a batch.
func FileName(batch int64) string {
	return fmt.Sprintf("eval-outputs-ba%d.tsv", batch)
}

// WriteTables writes every collected table into one TSV file and relocates it
// to the output directory. Nothing is written when no table was collected.
func (c *Callback) WriteTables(ctx context.Context, state *trainer.State) error {
	if len(c.order) == 0 {
		c.log.V(1).Info("no eval outputs collected, skipping export")
		return nil
	}
	var batch int64
	if state != nil {
		batch = state.Timestamp.Batch
	}
	fileName := FileName(batch)

	tmpDir, err := os.MkdirTemp(c.opts.WorkDir, "eval-outputs-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)
	tmpPath := filepath.Join(tmpDir, fileName)

	columns, records := c.merge()
	if err := writeTSV(tmpPath, columns, records); err != nil {
		return err
	}

	dest := strings.TrimRight(c.opts.OutputDirectory, "/") + "/" + fileName
	if err := objectstore.Write(ctx, c.resolver, dest, tmpPath); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	c.log.Info("wrote eval outputs", "destination", dest, "rows", len(records), "benchmarks", len(c.order))
	c.rec.EvalTableWritten()

	if err := os.Remove(tmpPath); err != nil {
		return fmt.Errorf("remove temp file: %w", err)
	}
	if err := os.Remove(tmpDir); err != nil {
		return fmt.Errorf("remove temp dir: %w", err)
	}
	return nil
}

// merge concatenates all benchmark tables. Columns are the union in
// first-seen order, each benchmark contributing its columns followed by the
// benchmark column. Missing cells stay empty.
func (c *Callback) merge() ([]string, [][]string) {
	var columns []string
	index := make(map[string]int)
	addColumn := func(name string) {
		if _, ok := index[name]; !ok {
			index[name] = len(columns)
			columns = append(columns, name)
		}
	}
	for _, b := range c.order {
		for _, col := range c.tables[b].columns {
			addColumn(col)
		}
		addColumn(benchmarkColumn)
	}

	var records [][]string
	for _, b := range c.order {
		t := c.tables[b]
		for _, row := range t.rows {
			rec := make([]string, len(columns))
			for i, col := range t.columns {
				rec[index[col]] = formatCell(row[i])
			}
			rec[index[benchmarkColumn]] = b
			records = append(records, rec)
		}
	}
	return columns, records
}

func writeTSV(path string, columns []string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	w.Comma = '\t'
	if err := w.Write(columns); err != nil {
		_ = f.Close()
		return fmt.Errorf("write header: %w", err)
	}
	if err := w.WriteAll(records); err != nil {
		_ = f.Close()
		return fmt.Errorf("write rows: %w", err)
	}
	return f.Close()
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return unicodeEscape(x)
	case bool:
		if x {
			return "True"
		}
		return "False"
	case float64:
		return formatFloat(x)
	case float32:
		return formatFloat(float64(x))
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	}
	return fmt.Sprint(v)
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return ""
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	if abs := math.Abs(f); f != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// unicodeEscape keeps printable ASCII and escapes everything else so each
// cell stays on one line: \t \n \r \\, \xhh, \uhhhh and \Uhhhhhhhh.
func unicodeEscape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r >= 0x20 && r < 0x7f:
			b.WriteRune(r)
		case r < 0x100:
			fmt.Fprintf(&b, `\x%02x`, r)
		case r < 0x10000:
			fmt.Fprintf(&b, `\u%04x`, r)
		default:
			fmt.Fprintf(&b, `\U%08x`, r)
		}
	}
	return b.String()
}

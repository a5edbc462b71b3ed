package summarize

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// TableOptions controls Markdown table preprocessing before
// summarization. Zero limits select the defaults.
type TableOptions struct {
	Enabled         bool
	MaxRowsVerbatim int
	MaxColsVerbatim int
	TopKRows        int
}

func (o TableOptions) withDefaults() TableOptions {
	if o.MaxRowsVerbatim <= 0 {
		o.MaxRowsVerbatim = 15
	}
	if o.MaxColsVerbatim <= 0 {
		o.MaxColsVerbatim = 8
	}
	if o.TopKRows <= 0 {
		o.TopKRows = 10
	}
	return o
}

var separatorCellPattern = regexp.MustCompile(`^:?-+:?$`)

// PrepareTables rewrites the Markdown pipe tables in text for
// summarization. Small tables pass through verbatim; large ones are
// compacted to the top rows of their strongest numeric column with an
// aggregate note, so the model sees the signal without the bulk. The
// counts report how many tables were preserved and compacted.
//
// Compaction is deterministic: the same input always yields the same
// bytes, so summaries stay reproducible across runs.
func PrepareTables(text string, opts TableOptions) (string, int, int) {
	opts = opts.withDefaults()
	if !opts.Enabled {
		return text, 0, 0
	}

	lines := strings.Split(text, "\n")
	var (
		out       []string
		preserved int
		compacted int
	)
	for i := 0; i < len(lines); {
		if !isTableLine(lines[i]) || i+1 >= len(lines) || !isSeparatorLine(lines[i+1]) {
			out = append(out, lines[i])
			i++
			continue
		}

		start := i
		for i < len(lines) && isTableLine(lines[i]) {
			i++
		}
		table := lines[start:i]

		header := splitRow(table[0])
		rows := table[2:]
		if len(rows) <= opts.MaxRowsVerbatim && len(header) <= opts.MaxColsVerbatim {
			preserved++
			out = append(out, table...)
			continue
		}
		compacted++
		out = append(out, compactTable(table, header, rows, opts.TopKRows)...)
	}
	return strings.Join(out, "\n"), preserved, compacted
}

func isTableLine(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "|")
}

func isSeparatorLine(line string) bool {
	cells := splitRow(line)
	if len(cells) == 0 {
		return false
	}
	for _, c := range cells {
		if !separatorCellPattern.MatchString(c) {
			return false
		}
	}
	return true
}

// splitRow splits a pipe-table line into trimmed cells. Escaped pipes
// stay inside their cell, escape sequence and all.
func splitRow(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")

	var cells []string
	var cur strings.Builder
	escaped := false
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			cur.WriteRune(r)
			escaped = true
		case r == '|':
			cells = append(cells, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	cells = append(cells, strings.TrimSpace(cur.String()))
	return cells
}

// compactTable keeps the header and the topK rows ranked by the
// strongest numeric column, appending a note with the selection rule
// and in-process aggregates over every parseable row. Selected rows are
// emitted as their original line text in rank order.
func compactTable(table, header, rows []string, topK int) []string {
	cols := len(header)
	cells := make([][]string, len(rows))
	for i, row := range rows {
		cells[i] = splitRow(row)
	}

	// Numeric density per column over all rows.
	parsed := make([][]float64, len(rows))
	counts := make([]int, cols)
	for i := range rows {
		parsed[i] = make([]float64, cols)
		for c := 0; c < cols; c++ {
			parsed[i][c] = math.Inf(-1)
			if c >= len(cells[i]) {
				continue
			}
			if v, ok := parseNumeric(cells[i][c]); ok {
				parsed[i][c] = v
				counts[c]++
			}
		}
	}

	best := -1
	for c := 0; c < cols; c++ {
		if counts[c] > 0 && (best < 0 || counts[c] > counts[best]) {
			best = c
		}
	}

	if topK > len(rows) {
		topK = len(rows)
	}
	out := []string{table[0], table[1]}

	if best < 0 {
		// Nothing numeric to rank by; keep the leading rows.
		out = append(out, rows[:topK]...)
		out = append(out, "", fmt.Sprintf("> Note: %d/%d rows shown; selection=first rows", topK, len(rows)))
		return out
	}

	order := make([]int, len(rows))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		va, vb := parsed[order[a]][best], parsed[order[b]][best]
		if va != vb {
			return va > vb
		}
		return order[a] < order[b]
	})
	for _, idx := range order[:topK] {
		out = append(out, rows[idx])
	}

	var sum, max, min float64
	max, min = math.Inf(-1), math.Inf(1)
	n := 0
	for i := range rows {
		v := parsed[i][best]
		if math.IsInf(v, -1) {
			continue
		}
		sum += v
		n++
		if v > max {
			max = v
		}
		if v < min {
			min = v
		}
	}

	col := header[best]
	out = append(out, "", fmt.Sprintf("> Note: %d/%d rows shown; selection=max by %s; %s mean=%s, max=%s, min=%s",
		topK, len(rows), col, col,
		formatStat(sum/float64(n)), formatStat(max), formatStat(min)))
	return out
}

// parseNumeric reads a cell as a number, tolerating thousands commas,
// currency and percent signs, and bold markers.
func parseNumeric(cell string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ',', '$', '%', '*', ' ':
			return -1
		}
		return r
	}, cell)
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// formatStat renders an aggregate rounded to four decimals with
// trailing zeros dropped, so note lines are byte-stable.
func formatStat(v float64) string {
	return strconv.FormatFloat(math.Round(v*10000)/10000, 'f', -1, 64)
}

package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Delimiter separates cells on a line.
const Delimiter = ','

// Mode selects the reader used by ParseMode.
type Mode string

const (
	// ModeLenient is the default line/cell splitter (Parse).
	ModeLenient Mode = "lenient"
	// ModeStrict honours RFC 4180 quoting (ParseStrict).
	ModeStrict Mode = "strict"
)

// Parse reads text with a header row and returns one Record per data row.
// Text with fewer than two lines after trimming yields nil.
func Parse(text string) []Record {
	lines := splitLines(strings.TrimSpace(text))
	if len(lines) < 2 {
		return nil
	}

	keys := uniqueKeys(splitCells(lines[0]))
	header := splitCells(lines[0])

	out := make([]Record, 0, len(lines)-1)
	for _, line := range lines[1:] {
		out = append(out, zip(keys, header, splitCells(line)))
	}
	return out
}

// ParseStrict is like Parse but decodes quoted cells per RFC 4180, so a
// quoted delimiter stays inside its cell. Malformed quoting is an error.
func ParseStrict(text string) ([]Record, error) {
	r := csv.NewReader(strings.NewReader(strings.TrimSpace(text)))
	r.Comma = Delimiter
	r.FieldsPerRecord = -1

	var rows [][]string
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tabular: strict parse: %w", err)
		}
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
		}
		rows = append(rows, row)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	header := rows[0]
	keys := uniqueKeys(header)
	out := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		out = append(out, zip(keys, header, row))
	}
	return out, nil
}

// ParseMode dispatches to Parse or ParseStrict. An empty mode is lenient.
func ParseMode(mode Mode, text string) ([]Record, error) {
	switch mode {
	case ModeLenient, "":
		return Parse(text), nil
	case ModeStrict:
		return ParseStrict(text)
	default:
		return nil, fmt.Errorf("tabular: unknown mode %q", mode)
	}
}

// splitLines splits on \n and drops a single \r before each break.
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// splitCells splits a line on the delimiter and cleans every cell.
func splitCells(line string) []string {
	cells := strings.Split(line, string(Delimiter))
	for i, c := range cells {
		cells[i] = cleanCell(c)
	}
	return cells
}

// cleanCell strips one leading and one trailing quote, then whitespace.
// Quotes are not balanced: `"a` becomes `a`.
func cleanCell(c string) string {
	c = strings.TrimPrefix(c, `"`)
	c = strings.TrimSuffix(c, `"`)
	return strings.TrimSpace(c)
}

// uniqueKeys returns header names in first-seen order without duplicates.
func uniqueKeys(header []string) []string {
	seen := make(map[string]struct{}, len(header))
	keys := make([]string, 0, len(header))
	for _, h := range header {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		keys = append(keys, h)
	}
	return keys
}

// zip pairs header cells with row cells by position. Later duplicate headers
// overwrite earlier ones.
func zip(keys, header, cells []string) Record {
	values := make(map[string]string, len(keys))
	for i, h := range header {
		v := ""
		if i < len(cells) {
			v = cells[i]
		}
		values[h] = v
	}
	return Record{keys: keys, values: values}
}

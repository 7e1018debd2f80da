package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/persistorai/topograph/internal/loader"
)

func formatJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func formatTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow := func(cells []string) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			width := 0
			if i < len(widths) {
				width = widths[i]
			}

			parts[i] = fmt.Sprintf("%-*s", width, cell)
		}

		fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
	}

	printRow(headers)

	seps := make([]string, len(headers))
	for i, width := range widths {
		seps[i] = strings.Repeat("-", width)
	}

	printRow(seps)

	for _, row := range rows {
		printRow(row)
	}
}

type loadSummary struct {
	Rows     int            `json:"rows"`
	Imported map[string]int `json:"importedByScope,omitempty"`
	Deleted  int            `json:"deleted,omitempty"`
	Errors   map[int]string `json:"errors,omitempty"`
}

func summarise(rows int, res *loader.LoadResult) loadSummary {
	return loadSummary{Rows: rows, Imported: res.ImportedElementsByScope, Deleted: res.Deleted, Errors: res.ErrorLines}
}

// printLoadResult writes the outcome of a batch in the selected format.
func printLoadResult(w io.Writer, format string, s loadSummary) error {
	if format == "json" {
		return formatJSON(w, s)
	}

	if len(s.Imported) > 0 {
		scopes := make([]string, 0, len(s.Imported))
		for scope := range s.Imported {
			scopes = append(scopes, scope)
		}

		slices.Sort(scopes)

		rows := make([][]string, 0, len(scopes))
		for _, scope := range scopes {
			rows = append(rows, []string{scope, strconv.Itoa(s.Imported[scope])})
		}

		formatTable(w, []string{"SCOPE", "IMPORTED"}, rows)
	}

	if s.Deleted > 0 {
		fmt.Fprintf(w, "deleted %d elements\n", s.Deleted)
	}

	if len(s.Errors) > 0 {
		lines := make([]int, 0, len(s.Errors))
		for line := range s.Errors {
			lines = append(lines, line)
		}

		slices.Sort(lines)

		rows := make([][]string, 0, len(lines))
		for _, line := range lines {
			rows = append(rows, []string{strconv.Itoa(line), s.Errors[line]})
		}

		formatTable(w, []string{"LINE", "ERROR"}, rows)
	}

	fmt.Fprintf(w, "%d rows, %d failed\n", s.Rows, len(s.Errors))

	return nil
}

package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/persistorai/topograph/internal/lineage"
)

// openInput opens path for reading; "-" is stdin.
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}

	return os.Open(path) //nolint:gosec // operator-supplied path.
}

// readBatch reads a CSV batch: the header row followed by data rows. Rows
// may be ragged; the loader reports short rows per line.
func readBatch(r io.Reader) (headers []string, rows [][]string, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	headers, err = cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("empty batch: no header row")
	}

	if err != nil {
		return nil, nil, fmt.Errorf("reading header row: %w", err)
	}

	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}

	headers[0] = strings.TrimPrefix(headers[0], "\ufeff")

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, nil, fmt.Errorf("reading rows: %w", err)
		}

		rows = append(rows, rec)
	}

	return headers, rows, nil
}

// writeSnapshot writes snap as CSV with its columns as the header row.
func writeSnapshot(w io.Writer, snap *lineage.Snapshot) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(snap.Columns); err != nil {
		return err
	}

	if err := cw.WriteAll(snap.Rows); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}

	return nil
}

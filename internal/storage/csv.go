package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"bloomrisk/internal/models"
)

// ReadCSV loads a CSV file with a header row. Cells stay strings; empty
// cells become nil.
func ReadCSV(path string) (*models.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = false

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv %s: missing header", path)
		}
		return nil, fmt.Errorf("read csv header %s: %w", path, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	table := models.NewTable(header)
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv %s: %w", path, err)
		}
		cells := make([]any, len(record))
		for i, v := range record {
			if v != "" {
				cells[i] = v
			}
		}
		if err := table.Append(cells...); err != nil {
			return nil, fmt.Errorf("csv %s: %w", path, err)
		}
	}
	return table, nil
}

// WriteCSV writes a table with a header row. Nil cells are written empty.
func WriteCSV(w io.Writer, table *models.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(table.Columns()); err != nil {
		return err
	}
	record := make([]string, len(table.Columns()))
	for i := 0; i < table.Len(); i++ {
		for j, cell := range table.Row(i) {
			record[j] = models.CellString(cell)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadTable loads an observation table from a .parquet or .csv file
func ReadTable(ctx context.Context, path string) (*models.Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet", ".pq":
		return ReadParquet(ctx, path)
	case ".csv":
		return ReadCSV(path)
	}
	return nil, &models.ConfigError{
		Field:   "input",
		Message: fmt.Sprintf("unsupported file type %q (want .parquet or .csv)", filepath.Ext(path)),
	}
}

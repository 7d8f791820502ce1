// Package storage persists feature matrices and observation tables as
// Parquet with JSON sidecars, and reads observation tables back from Parquet
// or CSV.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"bloomrisk/internal/models"
)

func arrowType(k models.Kind) arrow.DataType {
	switch k {
	case models.KindFloat:
		return arrow.PrimitiveTypes.Float64
	case models.KindInt:
		return arrow.PrimitiveTypes.Int64
	case models.KindTime:
		return arrow.FixedWidthTypes.Timestamp_us
	}
	return arrow.BinaryTypes.String
}

// Schema returns the Arrow schema of typed columns. Every field is nullable.
func Schema(cols []*models.Column) *arrow.Schema {
	fields := make([]arrow.Field, len(cols))
	for i, c := range cols {
		fields[i] = arrow.Field{Name: c.Name, Type: arrowType(c.Kind), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

func record(mem memory.Allocator, schema *arrow.Schema, cols []*models.Column) (arrow.Record, error) {
	rb := array.NewRecordBuilder(mem, schema)
	defer rb.Release()

	for i, c := range cols {
		switch b := rb.Field(i).(type) {
		case *array.Float64Builder:
			for _, v := range c.Values {
				if f, ok := v.(float64); ok {
					b.Append(f)
				} else {
					b.AppendNull()
				}
			}
		case *array.Int64Builder:
			for _, v := range c.Values {
				if n, ok := v.(int64); ok {
					b.Append(n)
				} else {
					b.AppendNull()
				}
			}
		case *array.TimestampBuilder:
			for _, v := range c.Values {
				if t, ok := v.(time.Time); ok {
					b.Append(arrow.Timestamp(t.UnixMicro()))
				} else {
					b.AppendNull()
				}
			}
		case *array.StringBuilder:
			for _, v := range c.Values {
				if v == nil {
					b.AppendNull()
				} else {
					b.Append(models.CellString(v))
				}
			}
		default:
			return nil, fmt.Errorf("column %s: unsupported builder %T", c.Name, b)
		}
	}

	return rb.NewRecord(), nil
}

// WriteParquet encodes typed columns as one Snappy-compressed row group
func WriteParquet(w io.Writer, cols []*models.Column) error {
	schema := Schema(cols)
	mem := memory.NewGoAllocator()

	rec, err := record(mem, schema, cols)
	if err != nil {
		return err
	}
	defer rec.Release()

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	fw, err := pqarrow.NewFileWriter(schema, w, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		_ = fw.Close()
		return fmt.Errorf("write parquet record: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// ReadParquet loads a Parquet file into a Table with typed cells: float64,
// int64, string, bool or UTC time.Time; nulls become nil.
func ReadParquet(ctx context.Context, path string) (*models.Table, error) {
	rdr, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("open parquet %s: %w", path, err)
	}
	defer rdr.Close()

	fr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("parquet reader %s: %w", path, err)
	}

	tbl, err := fr.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	defer tbl.Release()

	nCols := int(tbl.NumCols())
	nRows := int(tbl.NumRows())
	names := make([]string, nCols)
	cells := make([][]any, nCols)

	for i := 0; i < nCols; i++ {
		col := tbl.Column(i)
		names[i] = col.Name()
		values := make([]any, 0, nRows)
		for _, chunk := range col.Data().Chunks() {
			for j := 0; j < chunk.Len(); j++ {
				values = append(values, cellAt(chunk, j))
			}
		}
		cells[i] = values
	}

	out := models.NewTable(names)
	for r := 0; r < nRows; r++ {
		row := make([]any, nCols)
		for c := range cells {
			row[c] = cells[c][r]
		}
		if err := out.Append(row...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func isClosed(err error) bool {
	return errors.Is(err, os.ErrClosed)
}

func cellAt(arr arrow.Array, j int) any {
	if arr.IsNull(j) {
		return nil
	}
	switch a := arr.(type) {
	case *array.Float64:
		return a.Value(j)
	case *array.Float32:
		return float64(a.Value(j))
	case *array.Int64:
		return a.Value(j)
	case *array.Int32:
		return int64(a.Value(j))
	case *array.String:
		return a.Value(j)
	case *array.LargeString:
		return a.Value(j)
	case *array.Boolean:
		return a.Value(j)
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(j).ToTime(unit).UTC()
	}
	return arr.ValueStr(j)
}

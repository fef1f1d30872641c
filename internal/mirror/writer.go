package mirror

import (
	"fmt"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/jonboulle/clockwork"
)

const (
	flushRows     = 10000
	flushInterval = 3 * time.Second
)

// columnWriter buffers one outlet's samples in memory and flushes them as
// a Parquet row group when the buffer reaches flushRows rows or
// flushInterval has elapsed since the last flush, per spec.md §4.9.
// Grounded on original_source/src/bridges/Mirror/lsl_mirror_batch.py's
// ParquetWriter, adapted from PyArrow's buffer-of-RecordBatches model to
// Arrow-Go's column-builder model.
type columnWriter struct {
	clock   clockwork.Clock
	schema  *arrow.Schema
	numeric bool
	channels int

	file *os.File
	fw   *pqarrow.FileWriter
	mem  memory.Allocator

	times       []float64
	numericCols [][]float32
	texts       []string

	lastFlush time.Time
	totalRows int
}

func newColumnWriter(clock clockwork.Clock, path string, numeric bool, channels int) (*columnWriter, error) {
	schema := stringSchema()
	if numeric {
		schema = numericSchema(channels)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create parquet file %s: %w", path, err)
	}

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Zstd))
	arrowProps := pqarrow.DefaultWriterProps()
	fw, err := pqarrow.NewFileWriter(schema, f, props, arrowProps)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("new parquet writer %s: %w", path, err)
	}

	w := &columnWriter{
		clock:     clock,
		schema:    schema,
		numeric:   numeric,
		channels:  channels,
		file:      f,
		fw:        fw,
		mem:       memory.NewGoAllocator(),
		lastFlush: clock.Now(),
	}
	if numeric {
		w.numericCols = make([][]float32, channels)
	}
	return w, nil
}

// addNumeric appends one numeric sample; len(values) must equal channels.
func (w *columnWriter) addNumeric(ts float64, values []float64) {
	w.times = append(w.times, ts)
	for i := 0; i < w.channels && i < len(values); i++ {
		w.numericCols[i] = append(w.numericCols[i], float32(values[i]))
	}
	w.maybeFlush()
}

// addText appends one string-outlet sample.
func (w *columnWriter) addText(ts float64, text string) {
	w.times = append(w.times, ts)
	w.texts = append(w.texts, text)
	w.maybeFlush()
}

func (w *columnWriter) maybeFlush() {
	if len(w.times) >= flushRows || w.clock.Now().Sub(w.lastFlush) >= flushInterval {
		_ = w.flush()
	}
}

func (w *columnWriter) flush() error {
	n := len(w.times)
	if n == 0 {
		return nil
	}

	timeBuilder := array.NewFloat64Builder(w.mem)
	timeBuilder.AppendValues(w.times, nil)
	timeArr := timeBuilder.NewArray()
	timeBuilder.Release()

	cols := []arrow.Array{timeArr}
	if w.numeric {
		for _, colVals := range w.numericCols {
			b := array.NewFloat32Builder(w.mem)
			b.AppendValues(colVals, nil)
			cols = append(cols, b.NewArray())
			b.Release()
		}
	} else {
		b := array.NewStringBuilder(w.mem)
		b.AppendValues(w.texts, nil)
		cols = append(cols, b.NewArray())
		b.Release()
	}

	record := array.NewRecord(w.schema, cols, int64(n))
	err := w.fw.Write(record)
	record.Release()
	for _, c := range cols {
		c.Release()
	}
	if err != nil {
		return fmt.Errorf("write parquet row group: %w", err)
	}

	w.totalRows += n
	w.times = w.times[:0]
	if w.numeric {
		for i := range w.numericCols {
			w.numericCols[i] = w.numericCols[i][:0]
		}
	} else {
		w.texts = w.texts[:0]
	}
	w.lastFlush = w.clock.Now()
	return nil
}

func (w *columnWriter) close() error {
	if err := w.flush(); err != nil {
		return err
	}
	if err := w.fw.Close(); err != nil {
		return err
	}
	return w.file.Close()
}

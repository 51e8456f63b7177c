package sinks

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/pixellineage/inputlat/internal/model"
)

// ParquetConfig configures the Parquet sink.
type ParquetConfig struct {
	// Path is the output file ("-" for stdout).
	Path string

	// Compression: snappy | zstd | gzip | lz4 | none
	Compression string

	// BatchSize is the number of rows per flushed record batch.
	BatchSize int
}

// Parquet writes timelines to Parquet using Apache Arrow. Each timeline is
// flattened to one row per connection entry; a timeline with no connection
// entries produces a single row with null connection columns, so incomplete
// events remain visible in the output.
type Parquet struct {
	cfg    ParquetConfig
	output io.Writer
	file   *os.File // only set if we opened the file

	allocator memory.Allocator
	schema    *arrow.Schema
	writer    *pqarrow.FileWriter

	// Arrow builders, one per column
	eventTimeBuilder    *array.Int64Builder
	readTimeBuilder     *array.Int64Builder
	vendorBuilder       *array.Uint16Builder
	productBuilder      *array.Uint16Builder
	sourcesBuilder      *array.StringBuilder
	actionBuilder       *array.StringBuilder
	tokenBuilder        *array.StringBuilder
	deliveryBuilder     *array.Int64Builder
	consumeBuilder      *array.Int64Builder
	finishBuilder       *array.Int64Builder
	gpuCompletedBuilder *array.Int64Builder
	presentBuilder      *array.Int64Builder

	rowCount         int
	totalRowsWritten int64
	closed           bool
}

// NewParquet creates a new Parquet sink.
func NewParquet(cfg ParquetConfig) (*Parquet, error) {
	var output io.Writer
	var file *os.File
	var err error

	if cfg.Path == "-" {
		output = os.Stdout
	} else {
		file, err = os.Create(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file: %w", err)
		}
		output = file
	}

	return newParquetWithWriter(cfg, output, file)
}

// NewParquetWithWriter creates a Parquet sink with a custom writer.
func NewParquetWithWriter(cfg ParquetConfig, w io.Writer) (*Parquet, error) {
	return newParquetWithWriter(cfg, w, nil)
}

func newParquetWithWriter(cfg ParquetConfig, output io.Writer, file *os.File) (*Parquet, error) {
	allocator := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "event_time", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "read_time", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "vendor_id", Type: arrow.PrimitiveTypes.Uint16, Nullable: false},
		{Name: "product_id", Type: arrow.PrimitiveTypes.Uint16, Nullable: false},
		{Name: "sources", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "action_type", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "connection_token", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "delivery_time", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "consume_time", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "finish_time", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "gpu_completed_time", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "present_time", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	}, nil)

	codec := mapCompression(cfg.Compression)

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithDictionaryDefault(true),
		parquet.WithDataPageSize(1024*1024),
	)

	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithStoreSchema(),
	)

	writer, err := pqarrow.NewFileWriter(schema, output, writerProps, arrowProps)
	if err != nil {
		if file != nil {
			file.Close()
		}
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	s := &Parquet{
		cfg:                 cfg,
		output:              output,
		file:                file,
		allocator:           allocator,
		schema:              schema,
		writer:              writer,
		eventTimeBuilder:    array.NewInt64Builder(allocator),
		readTimeBuilder:     array.NewInt64Builder(allocator),
		vendorBuilder:       array.NewUint16Builder(allocator),
		productBuilder:      array.NewUint16Builder(allocator),
		sourcesBuilder:      array.NewStringBuilder(allocator),
		actionBuilder:       array.NewStringBuilder(allocator),
		tokenBuilder:        array.NewStringBuilder(allocator),
		deliveryBuilder:     array.NewInt64Builder(allocator),
		consumeBuilder:      array.NewInt64Builder(allocator),
		finishBuilder:       array.NewInt64Builder(allocator),
		gpuCompletedBuilder: array.NewInt64Builder(allocator),
		presentBuilder:      array.NewInt64Builder(allocator),
	}
	return s, nil
}

// Name implements Writer.
func (s *Parquet) Name() string { return "parquet" }

// Write implements Writer.
func (s *Parquet) Write(_ context.Context, timeline *model.InputEventTimeline) error {
	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1024
	}

	s.appendTimeline(timeline)
	if s.rowCount >= batchSize {
		return s.flushBatch()
	}
	return nil
}

// appendTimeline flattens a timeline into the Arrow builders.
func (s *Parquet) appendTimeline(t *model.InputEventTimeline) {
	srcNames := make([]string, 0, len(t.Sources))
	for _, src := range t.Sources {
		srcNames = append(srcNames, src.String())
	}
	sources := strings.Join(srcNames, ",")

	if len(t.ConnectionTimelines) == 0 {
		s.appendScalars(t, sources)
		s.tokenBuilder.AppendNull()
		s.deliveryBuilder.AppendNull()
		s.consumeBuilder.AppendNull()
		s.finishBuilder.AppendNull()
		s.gpuCompletedBuilder.AppendNull()
		s.presentBuilder.AppendNull()
		s.rowCount++
		return
	}

	tokens := make([]model.ConnectionToken, 0, len(t.ConnectionTimelines))
	for token := range t.ConnectionTimelines {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })

	for _, token := range tokens {
		ct := t.ConnectionTimelines[token]
		s.appendScalars(t, sources)
		s.tokenBuilder.Append(string(token))
		appendOptTime(s.deliveryBuilder, ct.DeliveryTime)
		appendOptTime(s.consumeBuilder, ct.ConsumeTime)
		appendOptTime(s.finishBuilder, ct.FinishTime)
		appendOptTime(s.gpuCompletedBuilder, ct.Graphics.GPUCompletedTime)
		appendOptTime(s.presentBuilder, ct.Graphics.PresentTime)
		s.rowCount++
	}
}

func (s *Parquet) appendScalars(t *model.InputEventTimeline, sources string) {
	s.eventTimeBuilder.Append(t.EventTime)
	s.readTimeBuilder.Append(t.ReadTime)
	s.vendorBuilder.Append(t.VendorID)
	s.productBuilder.Append(t.ProductID)
	s.sourcesBuilder.Append(sources)
	s.actionBuilder.Append(t.ActionType.String())
}

func appendOptTime(b *array.Int64Builder, v int64) {
	if v == model.TimeUnset {
		b.AppendNull()
		return
	}
	b.Append(v)
}

// flushBatch writes the current batch to Parquet.
func (s *Parquet) flushBatch() error {
	if s.rowCount == 0 {
		return nil
	}

	cols := []arrow.Array{
		s.eventTimeBuilder.NewArray(),
		s.readTimeBuilder.NewArray(),
		s.vendorBuilder.NewArray(),
		s.productBuilder.NewArray(),
		s.sourcesBuilder.NewArray(),
		s.actionBuilder.NewArray(),
		s.tokenBuilder.NewArray(),
		s.deliveryBuilder.NewArray(),
		s.consumeBuilder.NewArray(),
		s.finishBuilder.NewArray(),
		s.gpuCompletedBuilder.NewArray(),
		s.presentBuilder.NewArray(),
	}
	defer func() {
		for _, col := range cols {
			col.Release()
		}
	}()

	batch := array.NewRecord(s.schema, cols, int64(s.rowCount))
	defer batch.Release()

	if err := s.writer.Write(batch); err != nil {
		return fmt.Errorf("failed to write batch: %w", err)
	}

	s.totalRowsWritten += int64(s.rowCount)
	s.rowCount = 0
	return nil
}

// Close implements Writer: flushes and closes the parquet file.
func (s *Parquet) Close(context.Context) error {
	if s.closed {
		return nil
	}

	if err := s.flushBatch(); err != nil {
		return err
	}

	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}

	s.eventTimeBuilder.Release()
	s.readTimeBuilder.Release()
	s.vendorBuilder.Release()
	s.productBuilder.Release()
	s.sourcesBuilder.Release()
	s.actionBuilder.Release()
	s.tokenBuilder.Release()
	s.deliveryBuilder.Release()
	s.consumeBuilder.Release()
	s.finishBuilder.Release()
	s.gpuCompletedBuilder.Release()
	s.presentBuilder.Release()

	if s.file != nil {
		s.file.Close()
	}

	s.closed = true
	return nil
}

// RowsWritten returns total rows written.
func (s *Parquet) RowsWritten() int64 {
	return s.totalRowsWritten
}

// mapCompression maps a compression name to an Arrow codec.
func mapCompression(name string) compress.Compression {
	switch name {
	case "snappy":
		return compress.Codecs.Snappy
	case "gzip":
		return compress.Codecs.Gzip
	case "zstd":
		return compress.Codecs.Zstd
	case "lz4":
		return compress.Codecs.Lz4
	default:
		return compress.Codecs.Uncompressed
	}
}

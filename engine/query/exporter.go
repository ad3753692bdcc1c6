package query

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"unicode/utf8"
)

// ExportFormat represents the export format
type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatCSV  ExportFormat = "csv"
	FormatTSV  ExportFormat = "tsv"
)

// ExportOptions contains options for exporting query results
type ExportOptions struct {
	Format    ExportFormat `json:"format"`
	Pretty    bool         `json:"pretty"`     // For JSON: pretty formatting
	Headers   bool         `json:"headers"`    // For CSV/TSV: include headers
	Delimiter string       `json:"delimiter"`  // For CSV/TSV: custom delimiter
	NullValue string       `json:"null_value"` // How to represent null values
	Flatten   bool         `json:"flatten"`    // For CSV/TSV: flatten nested maps into dotted columns
}

// DefaultExportOptions returns default export options
func DefaultExportOptions(format ExportFormat) *ExportOptions {
	opts := &ExportOptions{
		Format:    format,
		Headers:   true,
		NullValue: "",
	}

	switch format {
	case FormatJSON:
		opts.Pretty = true
	case FormatCSV:
		opts.Delimiter = ","
		opts.Flatten = true
	case FormatTSV:
		opts.Delimiter = "\t"
		opts.Flatten = true
	}

	return opts
}

// Exporter writes query result rows to an output stream. Rows are the
// normalized maps produced by query execution: node and relationship
// values appear as nested property maps.
type Exporter struct {
	options *ExportOptions
}

// NewExporter creates a new exporter with the specified options
func NewExporter(options *ExportOptions) *Exporter {
	if options == nil {
		options = DefaultExportOptions(FormatJSON)
	}
	return &Exporter{
		options: options,
	}
}

// Export exports the query results to the specified writer
func (e *Exporter) Export(writer io.Writer, results []map[string]any) error {
	if len(results) == 0 {
		return e.exportEmpty(writer)
	}

	switch e.options.Format {
	case FormatJSON:
		return e.exportJSON(writer, results)
	case FormatCSV, FormatTSV:
		return e.exportCSV(writer, results)
	default:
		return fmt.Errorf("unsupported export format: %s", e.options.Format)
	}
}

// exportEmpty handles exporting empty result sets
func (e *Exporter) exportEmpty(writer io.Writer) error {
	switch e.options.Format {
	case FormatJSON:
		_, err := writer.Write([]byte("[]"))
		return err
	case FormatCSV, FormatTSV:
		return nil
	default:
		return fmt.Errorf("unsupported export format: %s", e.options.Format)
	}
}

// exportJSON exports results as JSON
func (e *Exporter) exportJSON(writer io.Writer, results []map[string]any) error {
	var data []byte
	var err error

	if e.options.Pretty {
		data, err = json.MarshalIndent(results, "", "  ")
	} else {
		data, err = json.Marshal(results)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	_, err = writer.Write(data)
	return err
}

// exportCSV exports results as CSV or TSV
func (e *Exporter) exportCSV(writer io.Writer, results []map[string]any) error {
	rows := results
	if e.options.Flatten {
		rows = make([]map[string]any, 0, len(results))
		for _, result := range results {
			flat := make(map[string]any)
			flattenRow(result, "", flat)
			rows = append(rows, flat)
		}
	}

	csvWriter := csv.NewWriter(writer)
	if e.options.Delimiter != "" {
		delimiter, _ := utf8.DecodeRuneInString(e.options.Delimiter)
		csvWriter.Comma = delimiter
	}
	defer csvWriter.Flush()

	// Collect all column names across rows and sort for stable output
	columnSet := make(map[string]bool)
	for _, row := range rows {
		for key := range row {
			columnSet[key] = true
		}
	}

	columns := make([]string, 0, len(columnSet))
	for column := range columnSet {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	if e.options.Headers {
		if err := csvWriter.Write(columns); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, row := range rows {
		record := make([]string, len(columns))
		for i, column := range columns {
			record[i] = e.formatValue(row[column])
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	return nil
}

// flattenRow recursively flattens nested maps into dot-separated columns
func flattenRow(source map[string]any, prefix string, target map[string]any) {
	for key, value := range source {
		column := key
		if prefix != "" {
			column = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			flattenRow(nested, column, target)
			continue
		}
		target[column] = value
	}
}

// formatValue renders a single cell for CSV export
func (e *Exporter) formatValue(value any) string {
	if value == nil {
		return e.options.NullValue
	}

	switch v := value.(type) {
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		if v == "" {
			return e.options.NullValue
		}
		return v
	default:
		// Lists and unflattened maps render as compact JSON
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", v)
	}
}

// ExportResult represents the result of an export operation
type ExportResult struct {
	Format      ExportFormat `json:"format"`
	RowCount    int          `json:"row_count"`
	ColumnCount int          `json:"column_count"`
	Size        int64        `json:"size"`
	Error       string       `json:"error,omitempty"`
}

// ExportWithMetadata exports results and returns metadata about the export
func (e *Exporter) ExportWithMetadata(writer io.Writer, results []map[string]any) (*ExportResult, error) {
	countingWriter := &countingWriter{writer: writer}

	err := e.Export(countingWriter, results)

	result := &ExportResult{
		Format:   e.options.Format,
		RowCount: len(results),
		Size:     countingWriter.count,
	}

	if len(results) > 0 {
		columnSet := make(map[string]bool)
		for _, row := range results {
			for key := range row {
				columnSet[key] = true
			}
		}
		result.ColumnCount = len(columnSet)
	}

	if err != nil {
		result.Error = err.Error()
	}

	return result, err
}

// countingWriter is a wrapper that counts bytes written
type countingWriter struct {
	writer io.Writer
	count  int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.writer.Write(p)
	cw.count += int64(n)
	return n, err
}

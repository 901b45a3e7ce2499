// Package output provides formatters for command output.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/mattn/go-isatty"
	md "github.com/nao1215/markdown"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// Format types for output.
type Format string

const (
	// FormatTable represents table output format.
	FormatTable Format = "table"
	// FormatJSON represents JSON output format.
	FormatJSON Format = "json"
	// FormatYAML represents YAML output format.
	FormatYAML Format = "yaml"
	// FormatMarkdown represents markdown output format.
	FormatMarkdown Format = "markdown"
)

// Formatter interface for all output types.
type Formatter interface {
	Format(w io.Writer, data any) error
}

// MarkdownWriter is implemented by values with their own markdown layout.
type MarkdownWriter interface {
	WriteMarkdown(w io.Writer) error
}

// NewFormatter creates appropriate formatter based on format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: "  "}
	case FormatYAML:
		return &YAMLFormatter{}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

// JSONFormatter outputs JSON format.
type JSONFormatter struct {
	Indent string
}

// Format implements the Formatter interface for JSON output.
func (f *JSONFormatter) Format(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	if f.Indent != "" {
		encoder.SetIndent("", f.Indent)
	}
	return encoder.Encode(data)
}

// YAMLFormatter outputs YAML format.
type YAMLFormatter struct{}

// Format outputs data in YAML format.
func (f *YAMLFormatter) Format(w io.Writer, data any) error {
	yamlData, err := yaml.MarshalWithOptions(data,
		yaml.Indent(2),
		yaml.IndentSequence(false),
	)
	if err != nil {
		return err
	}
	_, err = w.Write(yamlData)
	return err
}

// TableFormatter outputs table format. Anything other than Data falls back
// to JSON.
type TableFormatter struct{}

// Format outputs data in table format.
func (f *TableFormatter) Format(w io.Writer, data any) error {
	v, ok := data.(Data)
	if !ok {
		return (&JSONFormatter{Indent: "  "}).Format(w, data)
	}

	config := tablewriter.Config{}
	if len(v.RightAligned) > 0 {
		align := make([]tw.Align, len(v.Headers))
		for i := range align {
			align[i] = tw.AlignLeft
		}
		for _, col := range v.RightAligned {
			if col < len(align) {
				align[col] = tw.AlignRight
			}
		}
		config.Row.Alignment = tw.CellAlignment{PerColumn: align}
	}
	table := tablewriter.NewTable(w, tablewriter.WithConfig(config))

	if len(v.Headers) > 0 {
		table.Header(toAny(v.Headers)...)
	}
	for _, row := range v.Rows {
		if err := table.Append(toAny(row)...); err != nil {
			return err
		}
	}
	return table.Render()
}

// MarkdownFormatter outputs GitHub flavored markdown.
type MarkdownFormatter struct{}

// Format writes data as a markdown table, or with its own layout when it
// implements MarkdownWriter.
func (f *MarkdownFormatter) Format(w io.Writer, data any) error {
	switch v := data.(type) {
	case MarkdownWriter:
		return v.WriteMarkdown(w)
	case Data:
		doc := md.NewMarkdown(w)
		if v.Title != "" {
			doc.H2(v.Title).LF()
		}
		if len(v.Rows) == 0 {
			doc.PlainText("Nothing to show.").LF()
			return doc.Build()
		}
		doc.Table(md.TableSet{Header: v.Headers, Rows: v.Rows})
		return doc.Build()
	default:
		return fmt.Errorf("markdown output is not supported for %T", data)
	}
}

// Data represents data formatted for table output.
type Data struct {
	Title   string
	Headers []string
	Rows    [][]string

	// RightAligned lists numeric column indexes.
	RightAligned []int
}

func toAny(cells []string) []any {
	out := make([]any, len(cells))
	for i, c := range cells {
		out[i] = c
	}
	return out
}

// DetectFormat auto-detects format based on terminal and environment.
func DetectFormat(explicitFormat string) Format {
	if explicitFormat != "" {
		return Format(strings.ToLower(explicitFormat))
	}
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return FormatTable
	}
	// Default to JSON for pipes/redirects
	return FormatJSON
}

// ParseFormat converts string to Format with validation.
func ParseFormat(s string) (Format, error) {
	format := Format(strings.ToLower(s))
	switch format {
	case FormatTable, FormatJSON, FormatYAML, FormatMarkdown, "":
		return format, nil
	default:
		return "", fmt.Errorf("invalid format %q: must be one of: table, json, yaml, markdown", s)
	}
}

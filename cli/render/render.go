// Package render provides centralized output rendering for the marksman CLI.
//
// Format selection rules:
//   - If output is a TTY, default to table
//   - If output is not a TTY, default to json
//   - --format flag always overrides defaults
//   - Invalid formats are errors
//
// Table output:
//   - Slices render as a grid with one row per element
//   - Structs and maps render as key/value pairs
//   - Struct fields tagged `table:"-"` are omitted from tables only
//   - --no-color renders plain tab-aligned text instead of a styled grid
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/justapithecus/marksman/cli/tui"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string, returning an error for invalid formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	case "yaml":
		return FormatYAML, nil
	case "":
		return "", nil // Let caller decide default
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E84855")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	keyStyle    = lipgloss.NewStyle().Bold(true)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
)

// Renderer handles output formatting.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer creates a renderer from CLI context.
// Applies the format selection rules above.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = FormatJSON
		if isTTY(os.Stdout) {
			format = FormatTable
		}
	}
	return NewRendererWithWriter(format, c.Bool("no-color"), os.Stdout), nil
}

// NewRendererWithWriter creates a renderer with a custom writer (for testing).
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{
		format:  format,
		noColor: noColor,
		out:     out,
	}
}

// Render outputs the data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		return enc.Encode(data)
	case FormatTable:
		return r.renderTable(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

// RenderTUI initiates TUI mode for the given view type.
func (r *Renderer) RenderTUI(viewType string, data any) error {
	if !tui.IsTUISupported(viewType) {
		return fmt.Errorf("--tui is not supported for %s", viewType)
	}
	return tui.Run(viewType, data)
}

func (r *Renderer) renderTable(data any) error {
	v := indirect(reflect.ValueOf(data))
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			_, err := fmt.Fprintln(r.out, "(no results)")
			return err
		}
		headers, rows := tabulate(v)
		return r.writeGrid(headers, rows)
	case reflect.Struct, reflect.Map:
		return r.writePairs(pairs(v))
	default:
		_, err := fmt.Fprintf(r.out, "%v\n", data)
		return err
	}
}

// writeGrid prints a header row followed by data rows.
func (r *Renderer) writeGrid(headers []string, rows [][]string) error {
	if r.noColor {
		w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, strings.Join(headers, "\t"))
		for _, row := range rows {
			fmt.Fprintln(w, strings.Join(row, "\t"))
		}
		return w.Flush()
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	_, err := fmt.Fprintln(r.out, t.String())
	return err
}

// writePairs prints one "key: value" line per entry.
func (r *Renderer) writePairs(kv [][2]string) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	for _, p := range kv {
		key := p[0] + ":"
		if !r.noColor {
			key = keyStyle.Render(key)
		}
		fmt.Fprintf(w, "%s\t%s\n", key, p[1])
	}
	return w.Flush()
}

// tabulate turns a slice of structs or maps into headers and string rows.
// Headers come from the first element.
func tabulate(v reflect.Value) ([]string, [][]string) {
	first := indirect(v.Index(0))
	var headers []string
	switch first.Kind() {
	case reflect.Struct:
		for _, f := range tableFields(first.Type()) {
			headers = append(headers, fieldName(f))
		}
	case reflect.Map:
		headers = sortedKeys(first)
	default:
		headers = []string{"value"}
	}

	rows := make([][]string, 0, v.Len())
	for i := range v.Len() {
		elem := indirect(v.Index(i))
		var row []string
		switch elem.Kind() {
		case reflect.Struct:
			for _, f := range tableFields(elem.Type()) {
				row = append(row, formatValue(elem.FieldByIndex(f.Index)))
			}
		case reflect.Map:
			entries := mapEntries(elem)
			for _, h := range headers {
				row = append(row, formatValue(entries[h]))
			}
		default:
			row = []string{formatValue(elem)}
		}
		rows = append(rows, row)
	}
	return headers, rows
}

func pairs(v reflect.Value) [][2]string {
	var out [][2]string
	switch v.Kind() {
	case reflect.Struct:
		for _, f := range tableFields(v.Type()) {
			out = append(out, [2]string{fieldName(f), formatValue(v.FieldByIndex(f.Index))})
		}
	case reflect.Map:
		entries := mapEntries(v)
		for _, k := range sortedKeys(v) {
			out = append(out, [2]string{k, formatValue(entries[k])})
		}
	}
	return out
}

// tableFields returns the exported fields shown in tables.
func tableFields(t reflect.Type) []reflect.StructField {
	var fields []reflect.StructField
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() || f.Tag.Get("table") == "-" {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}

// fieldName prefers the json tag name.
func fieldName(f reflect.StructField) string {
	if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" && name != "-" {
		return name
	}
	return strings.ToLower(f.Name)
}

// sortedKeys returns string map keys in order. Non-string keys are formatted.
func sortedKeys(m reflect.Value) []string {
	keys := make([]string, 0, m.Len())
	for _, k := range m.MapKeys() {
		keys = append(keys, fmt.Sprint(k.Interface()))
	}
	sort.Strings(keys)
	return keys
}

// mapEntries indexes map values by formatted key.
func mapEntries(m reflect.Value) map[string]reflect.Value {
	entries := make(map[string]reflect.Value, m.Len())
	iter := m.MapRange()
	for iter.Next() {
		entries[fmt.Sprint(iter.Key().Interface())] = iter.Value()
	}
	return entries
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func formatValue(v reflect.Value) string {
	v = indirect(v)
	if !v.IsValid() {
		return ""
	}

	switch x := v.Interface().(type) {
	case time.Duration:
		return x.String()
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.Format(time.RFC3339)
	}

	switch v.Kind() {
	case reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'g', -1, 32)
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		return "{...}"
	default:
		return fmt.Sprint(v.Interface())
	}
}

// isTTY returns true if the writer is a TTY.
func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

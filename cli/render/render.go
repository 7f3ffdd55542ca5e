// Package render writes the read-only command payloads of the llmer CLI.
//
// Output defaults to a table on a TTY and to JSON otherwise; --format
// overrides the default. --no-color affects table output only.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/justapithecus/llmer/cli/reader"
	"github.com/justapithecus/llmer/cli/tui"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string. The empty string is valid and leaves
// the choice to NewRenderer.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatTable, FormatYAML, "":
		return f, nil
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

var headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)

// Renderer handles output formatting.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer creates a renderer from the --format and --no-color flags.
// Output goes to the app writer, which defaults to stdout.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}

	var out io.Writer = os.Stdout
	if c.App != nil && c.App.Writer != nil {
		out = c.App.Writer
	}

	if format == "" {
		format = FormatJSON
		if f, ok := out.(*os.File); ok && isTTY(f) {
			format = FormatTable
		}
	}

	return NewRendererWithWriter(format, c.Bool("no-color"), out), nil
}

// NewRendererWithWriter creates a renderer with a custom writer.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, noColor: noColor, out: out}
}

// Format returns the selected output format.
func (r *Renderer) Format() Format {
	return r.format
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

// RenderTUI runs the interactive view for viewType.
func (r *Renderer) RenderTUI(viewType string, data any) error {
	if !tui.IsTUISupported(viewType) {
		return fmt.Errorf("--tui is not supported for %s", viewType)
	}
	return tui.Run(viewType, data)
}

// table is either a columnar listing (header set) or a key/value listing.
type table struct {
	header []string
	rows   [][]string
}

func (r *Renderer) renderTable(data any) error {
	switch d := data.(type) {
	case *reader.SessionDetail:
		return r.renderSessionDetail(d)
	case reader.SessionDetail:
		return r.renderSessionDetail(&d)
	}

	v := reflect.Indirect(reflect.ValueOf(data))
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			_, err := fmt.Fprintln(r.out, "(no results)")
			return err
		}
		return r.writeTable(columns(v))
	case reflect.Struct:
		return r.writeTable(fields(v))
	case reflect.Map:
		return r.writeTable(entries(v))
	default:
		_, err := fmt.Fprintf(r.out, "%v\n", data)
		return err
	}
}

// renderSessionDetail prints the session header as key/value lines
// followed by one row per cycle. Responses are left to json and yaml.
func (r *Renderer) renderSessionDetail(d *reader.SessionDetail) error {
	head := table{rows: [][]string{
		{"session:", d.SessionID},
		{"model:", d.Model},
		{"cycles:", fmt.Sprint(len(d.Cycles))},
		{"total_tokens:", fmt.Sprint(d.TotalTokens)},
	}}
	if err := r.writeTable(head); err != nil {
		return err
	}
	if len(d.Cycles) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(r.out); err != nil {
		return err
	}

	cycles := table{header: []string{"cycle", "tokens", "in", "out", "latency", "commands", "completed_at"}}
	for _, c := range d.Cycles {
		commands := c.Commands
		if commands == "" {
			commands = "-"
		}
		cycles.rows = append(cycles.rows, []string{
			fmt.Sprint(c.Cycle),
			fmt.Sprint(c.TotalTokens),
			fmt.Sprint(c.InputTokens),
			fmt.Sprint(c.OutputTokens),
			fmt.Sprintf("%.3fs", c.LatencySeconds),
			commands,
			c.CompletedAt,
		})
	}
	return r.writeTable(cycles)
}

// writeTable aligns the table with tabwriter, then styles the header line.
// Styling after alignment keeps escape codes out of the width calculation.
func (r *Renderer) writeTable(t table) error {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	if t.header != nil {
		fmt.Fprintln(w, strings.Join(t.header, "\t"))
	}
	for _, row := range t.rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	out := buf.String()
	if t.header != nil && !r.noColor {
		first, rest, _ := strings.Cut(out, "\n")
		out = headerStyle.Render(strings.TrimRight(first, " ")) + "\n" + rest
	}
	_, err := io.WriteString(r.out, out)
	return err
}

// columns lays out a slice of structs or maps with one column per field.
func columns(v reflect.Value) table {
	first := reflect.Indirect(v.Index(0))
	var t table
	switch first.Kind() {
	case reflect.Struct:
		for i := 0; i < first.NumField(); i++ {
			t.header = append(t.header, fieldName(first.Type().Field(i)))
		}
	case reflect.Map:
		for _, key := range sortedKeys(first) {
			t.header = append(t.header, fmt.Sprint(key.Interface()))
		}
	default:
		t.header = []string{"value"}
	}

	for i := 0; i < v.Len(); i++ {
		item := reflect.Indirect(v.Index(i))
		var row []string
		switch item.Kind() {
		case reflect.Struct:
			for j := 0; j < item.NumField(); j++ {
				row = append(row, formatValue(item.Field(j)))
			}
		case reflect.Map:
			for _, h := range t.header {
				row = append(row, formatValue(item.MapIndex(reflect.ValueOf(h))))
			}
		default:
			row = []string{formatValue(item)}
		}
		t.rows = append(t.rows, row)
	}
	return t
}

func fields(v reflect.Value) table {
	var t table
	for i := 0; i < v.NumField(); i++ {
		t.rows = append(t.rows, []string{fieldName(v.Type().Field(i)) + ":", formatValue(v.Field(i))})
	}
	return t
}

func entries(v reflect.Value) table {
	var t table
	for _, key := range sortedKeys(v) {
		t.rows = append(t.rows, []string{fmt.Sprint(key.Interface()) + ":", formatValue(v.MapIndex(key))})
	}
	return t
}

// fieldName prefers the json tag so table and json output share names.
func fieldName(f reflect.StructField) string {
	if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" && name != "-" {
		return name
	}
	return strings.ToLower(f.Name)
}

func formatValue(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	if v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}

	if v.CanInterface() {
		if ts, ok := v.Interface().(time.Time); ok {
			return ts.UTC().Format(time.RFC3339)
		}
	}

	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return fmt.Sprintf("%.3f", v.Float())
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "-"
		}
		// Counter maps render inline: "command=2 text=5".
		parts := make([]string, 0, v.Len())
		for _, key := range sortedKeys(v) {
			parts = append(parts, fmt.Sprintf("%v=%s", key.Interface(), formatValue(v.MapIndex(key))))
		}
		return strings.Join(parts, " ")
	case reflect.Struct:
		return "{...}"
	default:
		if !v.CanInterface() {
			return ""
		}
		return fmt.Sprint(v.Interface())
	}
}

// sortedKeys returns map keys in string order so table output is stable.
func sortedKeys(v reflect.Value) []reflect.Value {
	keys := v.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
	})
	return keys
}

func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

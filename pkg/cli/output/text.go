// Package output renders command results for the terminal.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
)

func NewTextWriter() *TextWriter {
	return NewTextWriterTo(os.Stdout)
}

// NewTextWriterTo returns a TextWriter printing aligned columns to out.
func NewTextWriterTo(out io.Writer) *TextWriter {
	return &TextWriter{
		out: out,
		w:   newTabWriter(out),
	}
}

func newTabWriter(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
}

type TextWriter struct {
	indent int
	out    io.Writer
	w      *tabwriter.Writer
}

type TextOpt func(o *txtOpt)

type txtOpt struct {
	leadSpace bool
}

func WithTextOptLeadSpace(space bool) TextOpt {
	return func(o *txtOpt) {
		o.leadSpace = space
	}
}

func (tw *TextWriter) WithIndent(indent int) *TextWriter {
	return &TextWriter{
		indent: indent,
		out:    tw.out,
		w:      newTabWriter(tw.out),
	}
}

// Write prints data sorted by key. Nested maps are printed below their key,
// indented by two spaces.
func (tw *TextWriter) Write(data map[string]any, opts ...TextOpt) error {
	rows := make([]Row, 0, len(data))
	for k, v := range data {
		rows = append(rows, Row{Key: k, Value: v})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
	return tw.WriteRows(rows, opts...)
}

// WriteRows prints rows in order.
func (tw *TextWriter) WriteRows(rows []Row, opts ...TextOpt) error {
	o := txtOpt{}
	for _, apply := range opts {
		apply(&o)
	}

	if o.leadSpace {
		fmt.Fprintln(tw.out)
	}

	indentStr := strings.Repeat(" ", tw.indent)
	for _, row := range rows {
		if nested, ok := toAnyMap(row.Value); ok {
			fmt.Fprintf(tw.w, "%s%s:\n", indentStr, row.Key)
			if err := tw.w.Flush(); err != nil {
				return err
			}
			if err := tw.WithIndent(tw.indent + 2).Write(nested); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(tw.w, "%s%s:\t%s\n", indentStr, row.Key, row.ToString())
	}

	return tw.w.Flush()
}

func toAnyMap(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, true
	case map[string]string:
		result := make(map[string]any, len(v))
		for k, val := range v {
			result[k] = val
		}
		return result, true
	case map[string]int:
		result := make(map[string]any, len(v))
		for k, val := range v {
			result[k] = val
		}
		return result, true
	case map[string]bool:
		result := make(map[string]any, len(v))
		for k, val := range v {
			result[k] = val
		}
		return result, true
	default:
		return nil, false
	}
}

type Row struct {
	Key   string
	Value any
}

func (r *Row) ToString() string {
	if r.Value == nil {
		return ""
	}

	switch v := r.Value.(type) {
	case string:
		return v
	case int, int8, int16, int32, int64:
		return fmt.Sprintf("%d", v)
	case uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v)
	case float32, float64:
		return fmt.Sprintf("%.2f", v)
	case bool:
		return fmt.Sprintf("%t", v)
	case []string:
		return strings.Join(v, ", ")
	case fmt.Stringer:
		return v.String()
	case error:
		return v.Error()
	default:
		return fmt.Sprintf("%v", r.Value)
	}
}

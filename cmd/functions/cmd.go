package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/livefn/livefn/pkg/cli"
	"github.com/livefn/livefn/pkg/cli/output"
	"github.com/livefn/livefn/pkg/function"
	"github.com/livefn/livefn/pkg/handler"
	"github.com/mitchellh/go-homedir"
	cliv3 "github.com/urfave/cli/v3"
)

func Command() *cliv3.Command {
	return &cliv3.Command{
		Name:      "functions",
		Usage:     "List the functions the last app build declared.",
		UsageText: "livefn functions [--app-dir DIR] [--output json]",
		Flags: []cliv3.Flag{
			&cliv3.StringFlag{
				Name:  "app-dir",
				Value: ".",
				Usage: "Root directory of the app",
			},
			&cliv3.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Value:   "text",
				Usage:   "Output format. One of: text, json.",
			},
		},
		Action: func(ctx context.Context, cmd *cliv3.Command) error {
			dir, err := homedir.Expand(cmd.String("app-dir"))
			if err != nil {
				return err
			}
			reg := function.NewRegistry(dir)
			if err := reg.Reload(); err != nil {
				return err
			}
			return render(os.Stdout, cmd.String("output"), handler.NewDefaultRegistry(""), reg.All())
		},
	}
}

func render(w io.Writer, format string, handlers *handler.Registry, fns []function.Descriptor) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(fns)
	case "text":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	if len(fns) == 0 {
		_, err := fmt.Fprintln(w, cli.FeintStyle.Render("No functions found. Build the app first."))
		return err
	}
	tw := output.NewTextWriterTo(w)
	for i, fn := range fns {
		rows := []output.Row{
			{Key: "ID", Value: fn.ID},
			{Key: "Runtime", Value: fn.Runtime},
			{Key: "Family", Value: handler.Family(fn.Runtime)},
			{Key: "Handler", Value: fn.Handler},
			{Key: "Source", Value: fn.SrcPath},
		}
		rows = append(rows, bundleRows(handlers, fn)...)
		if err := tw.WriteRows(rows, output.WithTextOptLeadSpace(i > 0)); err != nil {
			return err
		}
	}
	return nil
}

// bundleRows describes what a deploy would package for fn.
func bundleRows(handlers *handler.Registry, fn function.Descriptor) []output.Row {
	def, err := handlers.Resolve(fn.Runtime)
	if err != nil {
		return []output.Row{{Key: "Bundle", Value: err.Error()}}
	}
	instructions := def(handler.OptsFrom(fn))
	if instructions.Bundle == nil {
		return nil
	}
	b, err := instructions.Bundle()
	if err != nil {
		return []output.Row{{Key: "Bundle", Value: err.Error()}}
	}
	return []output.Row{
		{Key: "Bundle", Value: b.Directory},
		{Key: "Entry", Value: b.Handler},
	}
}

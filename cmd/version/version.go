package version

import (
	"context"
	"fmt"

	"github.com/livefn/livefn/pkg/livefn/version"
	"github.com/urfave/cli/v3"
)

func Command() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: fmt.Sprintf("Shows the livefn CLI version (%s)", version.Print()),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Println(version.Print())
			return nil
		},
	}
}

package actionlock

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/kalbasit/actionlock/pkg/lock/registry"
)

func strategiesCommand() *cli.Command {
	return &cli.Command{
		Name:   "strategies",
		Usage:  "list the built-in coordination strategies",
		Action: strategiesAction(),
	}
}

func strategiesAction() cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		tw := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)

		fmt.Fprintln(tw, "ID\tTYPE\tREGISTERED AT")

		for _, info := range registry.Ctx(ctx).Info() {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", info.ID, info.TypeName, info.RegisteredAt.Format(time.RFC3339))
		}

		return tw.Flush()
	}
}

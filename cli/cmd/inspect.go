package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/llmer/cli/reader"
	"github.com/justapithecus/llmer/cli/render"
)

// InspectCommand returns the inspect command with subcommands.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect recorded entities (session)",
		Subcommands: []*cli.Command{
			inspectSessionCommand(),
		},
	}
}

func inspectSessionCommand() *cli.Command {
	return &cli.Command{
		Name:      "session",
		Usage:     "Show every recorded cycle of one session",
		ArgsUsage: "<session-id>",
		Flags:     append(ReadOnlyFlags(), StorageReadFlags()...),
		Action:    inspectSessionAction,
	}
}

func inspectSessionAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("session ID required", 1)
	}
	sessionID := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	records, err := readCycles(c, sessionID)
	if err != nil {
		return err
	}
	detail := reader.DescribeSession(sessionID, records)
	if detail == nil {
		return cli.Exit(fmt.Sprintf("session not found: %s", sessionID), 1)
	}

	if c.Bool("tui") {
		return r.RenderTUI("inspect_session", detail)
	}
	return r.Render(detail)
}

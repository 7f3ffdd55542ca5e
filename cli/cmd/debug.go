package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/llmer/cli/reader"
	"github.com/justapithecus/llmer/cli/render"
	"github.com/justapithecus/llmer/iox"
)

// DebugCommand returns the debug command with subcommands.
// Debug commands are read-only diagnostic tools.
func DebugCommand() *cli.Command {
	return &cli.Command{
		Name:  "debug",
		Usage: "Diagnostic tools (frames)",
		Subcommands: []*cli.Command{
			debugFramesCommand(),
		},
	}
}

func debugFramesCommand() *cli.Command {
	return &cli.Command{
		Name:      "frames",
		Usage:     "Decode a capture of inbound frames (\"-\" reads stdin)",
		ArgsUsage: "<capture-file>",
		Flags: append(ReadOnlyFlags(),
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Show full text payloads",
			},
		),
		Action: debugFramesAction,
	}
}

func debugFramesAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("capture file required", 1)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for debug commands", 1)
	}

	var in io.Reader
	if path := c.Args().First(); path == "-" {
		in = c.App.Reader
	} else {
		f, err := os.Open(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("cannot open capture: %v", err), 1)
		}
		defer iox.DiscardClose(f)
		in = f
	}

	views, decodeErr := reader.DecodeFrames(in, c.Bool("verbose"))
	if err := r.Render(views); err != nil {
		return err
	}
	if decodeErr != nil {
		return cli.Exit(fmt.Sprintf("capture ends with a framing error after %d frames: %v", len(views), decodeErr), 1)
	}
	return nil
}

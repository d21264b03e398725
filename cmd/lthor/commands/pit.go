package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ddiss/lthor/internal/pit"
	"github.com/ddiss/lthor/internal/session"
	"github.com/ddiss/lthor/internal/source"
	"github.com/ddiss/lthor/internal/transport"
)

var pitCmd = &cobra.Command{
	Use:   "pit <output-file>",
	Short: "Dump the device's current partition table to a file",
	Long: `Pit opens an Odin session, pulls the device's current partition
table, and writes it to the given output file. It always speaks Odin,
whether or not --odin is given; Thor devices do not implement the PIT
dump request.`,
	Args: cobra.ExactArgs(1),
	RunE: runPIT,
}

func runPIT(cmd *cobra.Command, args []string) error {
	log, defaults, err := setupLogger()
	if err != nil {
		return err
	}

	ep, err := transport.OpenUSB(selector())
	if err != nil {
		return err
	}
	defer ep.Close()

	sess := session.New(ep, session.Odin, session.Options{
		ControlTimeout: controlTimeout(defaults),
		DataTimeout:    dataTimeout(defaults),
		Logger:         log,
	})

	ctx := context.Background()
	if err := sess.Handshake(ctx); err != nil {
		return err
	}

	sink, err := source.NewRawFileSink(args[0])
	if err != nil {
		return err
	}
	defer sink.Close()

	n, err := pit.Receive(ctx, sess, sink, pit.Options{
		Log: log,
		OnProgress: func(received, left int64) {
			log.Debug("pit dump progress", "received", received, "left", left)
		},
	})
	if err != nil {
		return err
	}
	log.Info("pit dump complete", "bytes", n, "path", args[0])
	return nil
}

package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ddiss/lthor/internal/flasherr"
	"github.com/ddiss/lthor/internal/metrics"
	"github.com/ddiss/lthor/internal/orchestrator"
	"github.com/ddiss/lthor/internal/proto"
	"github.com/ddiss/lthor/internal/source"
	"github.com/ddiss/lthor/internal/transport"
)

var flagPITFile string

var flashCmd = &cobra.Command{
	Use:   "flash [tar ...]",
	Short: "Flash one or more images to the device",
	Long: `Flash uploads the members of each positional tar archive to the
device in order. Positional arguments are always read as tar archives;
a raw image file is not accepted there. A "-" positional argument reads
a tar stream from stdin.
If --pit is given, the partition table it names is flashed first.`,
	RunE: runFlash,
}

func init() {
	flashCmd.Flags().StringVarP(&flagPITFile, "pit", "p", "", "flash a new partition table from this file before the remaining images")
}

// runFlash opens a tar source per positional argument, plus an
// optional leading raw-file PIT entry, then drives the whole run
// through orchestrator.Run.
func runFlash(cmd *cobra.Command, args []string) error {
	if flagPITFile == "" && len(args) == 0 {
		return flasherr.New(flasherr.InvalidArgument, "nothing to flash: give a PIT file, one or more tar paths, or both")
	}

	log, defaults, err := setupLogger()
	if err != nil {
		return err
	}

	var entries []orchestrator.Entry
	var closers []func() error
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	if flagPITFile != "" {
		pitSrc, err := source.NewRawFile(flagPITFile)
		if err != nil {
			return err
		}
		closers = append(closers, pitSrc.Close)
		entries = append(entries, orchestrator.Entry{Src: pitSrc, DataType: proto.BinaryTypePIT})
	}

	for _, path := range args {
		src, err := source.NewTar(path)
		if err != nil {
			return err
		}
		closers = append(closers, src.Close)
		entries = append(entries, orchestrator.Entry{Src: src, DataType: proto.BinaryTypeNormal})
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sig:
			log.Warn("received interrupt; unwinding in-flight chunks")
			cancel()
		case <-ctx.Done():
		}
	}()
	defer signal.Stop(sig)

	sel := selector()
	open := func(ctx context.Context) (transport.Endpoints, error) {
		return transport.OpenUSB(sel)
	}

	reg := metrics.Noop()
	err = orchestrator.Run(ctx, open, entries, orchestrator.Options{
		Flavor:         flavor(),
		ControlTimeout: controlTimeout(defaults),
		DataTimeout:    dataTimeout(defaults),
		Log:            log,
		Metrics:        reg,
		OnProgress: func(name string, sent, left int64, inst, avg float64) {
			log.Info("progress", "file", name, "sent", sent, "left", left, "inst_mbps", inst, "avg_mbps", avg)
		},
	})
	if err != nil {
		return err
	}
	log.Info("flash complete")
	return nil
}

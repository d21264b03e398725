package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ddiss/lthor/internal/session"
	"github.com/ddiss/lthor/internal/transport"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the device is reachable and speaks the selected protocol",
	Long: `Check opens the device, performs the handshake, and closes again
without flashing anything. It exits non-zero if the device cannot be
opened or does not answer the handshake.`,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	log, defaults, err := setupLogger()
	if err != nil {
		return err
	}

	ep, err := transport.OpenUSB(selector())
	if err != nil {
		log.Error("unable to open device", "err", err)
		return err
	}
	defer ep.Close()

	sess := session.New(ep, flavor(), session.Options{
		ControlTimeout: controlTimeout(defaults),
		DataTimeout:    dataTimeout(defaults),
		Logger:         log,
	})
	if err := sess.Handshake(context.Background()); err != nil {
		log.Error("handshake failed", "err", err)
		return err
	}
	log.Info("device is reachable and handshake succeeded", "flavor", flavor())
	return nil
}

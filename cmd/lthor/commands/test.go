package commands

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/ddiss/lthor/internal/flasherr"
	"github.com/ddiss/lthor/internal/source"
)

var testCmd = &cobra.Command{
	Use:   "test [tar ...]",
	Short: "Validate tar files without touching any device",
	Long: `Test walks every positional tar archive exactly as flash would,
without opening a device, to catch a truncated or malformed archive
before it is ever sent.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTest,
}

func runTest(cmd *cobra.Command, args []string) error {
	log, _, err := setupLogger()
	if err != nil {
		return err
	}

	discard := make([]byte, 64*1024)
	for _, path := range args {
		tr, err := source.NewTar(path)
		if err != nil {
			return flasherr.Wrap(flasherr.IoError, err, "load %s", path)
		}

		for {
			more, err := tr.Next()
			if err != nil {
				tr.Close()
				return flasherr.Wrap(flasherr.Unsupported, err, "%s is not a valid tar archive", path)
			}
			if !more {
				break
			}
			name := tr.Name()
			for {
				_, err := tr.Read(discard)
				if err == io.EOF {
					break
				}
				if err != nil {
					tr.Close()
					return flasherr.Wrap(flasherr.IoError, err, "read %s in %s", name, path)
				}
			}
		}
		tr.Close()
		log.Info("tar archive is valid", "path", path)
	}
	return nil
}

// Command lthor flashes Samsung/Tizen devices in download mode over
// USB, speaking either the Thor or Odin/Loke protocol.
package main

import (
	"fmt"
	"os"

	"github.com/ddiss/lthor/cmd/lthor/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

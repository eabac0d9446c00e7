// Command pintoscore is the CLI harness around the storage/VM core:
// it formats and boots a volume, runs the file-operation syscall
// surface against it, and exposes Prometheus metrics while it does.
// Grounded on the teacher's mkfs tool and on gcsfuse's cmd package
// layout (root command + one file per subcommand).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pintoscore:", err)
		os.Exit(1)
	}
}

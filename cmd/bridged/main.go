// Command bridged runs the job dispatch bridge.
package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("bridged failed", "error", err)
		os.Exit(1)
	}
}

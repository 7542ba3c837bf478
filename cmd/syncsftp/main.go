// Package main provides the syncsftp CLI: run the mirror agent in the
// foreground, control a background syncsftpd and inspect what it keeps.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}

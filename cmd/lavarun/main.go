package main

import (
	"os"

	"github.com/lavakit/lavarun/internal/cmd"
)

// Build metadata, set via -ldflags at release time.
var (
	version   = "dev"
	commit    = "HEAD"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	os.Exit(cmd.Execute())
}

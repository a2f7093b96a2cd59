// Command bearer creates OAuth2 bearer tokens from the command line.
//
// Register a client once (interactive, runs the browser authorization flow):
//
//	bearer register github
//
// Then print a ready-to-use header, refreshing the token when it expired:
//
//	curl -H "$(bearer github)" https://api.github.com/user
package main

import (
	"os"

	"github.com/andreweacott/bearer/pkg/config"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load .env file if it exists, before flags read their env defaults
	config.LoadDotEnv()

	ctx, stop := SetupGracefulShutdown(os.Stderr)
	defer stop()

	code := execute(ctx, os.Args[1:], defaultStreams())
	stop()
	os.Exit(code)
}

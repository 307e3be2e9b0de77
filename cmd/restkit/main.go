package main

import (
	"os"

	"github.com/conduit-lang/restkit/internal/cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}

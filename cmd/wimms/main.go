package main

import (
	"os"

	"github.com/mozilla-services/wimms/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

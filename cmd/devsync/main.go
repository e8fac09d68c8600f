package main

import (
	"os"

	"github.com/notargets/devsync/cmd/devsync/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}

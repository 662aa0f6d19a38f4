package main

import (
	"os"

	"github.com/rustyeddy/levsim/cmd/levsim/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

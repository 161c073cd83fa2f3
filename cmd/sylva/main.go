package main

import (
	"os"

	"github.com/harun/sylva/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

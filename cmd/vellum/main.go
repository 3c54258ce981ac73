package main

import (
	"os"

	"github.com/inkwell/vellum/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

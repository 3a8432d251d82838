package main

import (
	"os"

	"github.com/cardgrid/cardgrid/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

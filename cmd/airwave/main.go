package main

import (
	"os"

	"github.com/airwavetv/airwave/cmd/airwave/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

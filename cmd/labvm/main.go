// Package main is the entry point for the labvm CLI.
package main

import (
	"log"
	"os"

	"github.com/jamesprial/labvm/internal/cli"
)

func main() {
	log.SetFlags(0)

	if err := cli.New().Execute(); err != nil {
		os.Exit(1)
	}
}

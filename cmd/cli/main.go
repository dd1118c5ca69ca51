// Package main is the entry point for the statflow CLI binary.
package main

import (
	"os"

	_ "github.com/mattn/go-sqlite3"

	cli "statflow/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}

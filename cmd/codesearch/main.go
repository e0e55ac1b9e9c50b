// Package main is the entry point for the codesearch CLI.
package main

import (
	"os"

	"github.com/aman-cerp/codesearch/cmd/codesearch/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}

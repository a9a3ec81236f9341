// Package main is the fragproc CLI entrypoint: a thin cobra.Execute
// call, mirroring teranos-QNTX/cmd/qntx's main.go.
package main

import (
	"fmt"
	"os"

	"github.com/gurre/ddb-pitr/cmd/fragproc/commands"
)

func main() {
	if err := commands.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

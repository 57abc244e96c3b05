package main

import (
	"fmt"
	"os"

	"foodledger/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "foodledger:", err)
		os.Exit(cli.GetExitCode(err))
	}
}

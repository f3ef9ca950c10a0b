package main

import (
	"fmt"
	"os"

	"github.com/payo-app/payo_vault/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vaultctl:", err)
		os.Exit(cli.GetExitCode(err))
	}
}

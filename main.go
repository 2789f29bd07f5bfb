package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tphakala/gordon-go/cmd"
	"github.com/tphakala/gordon-go/internal/conf"
)

func main() {
	settings := &conf.Settings{}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

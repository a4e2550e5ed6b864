// Package main is the entry point for the mcphub command.
package main

import (
	"os"

	"github.com/pranjal-pravesh/mcp-docker-hub/cmd/mcphub/app"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/logger"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

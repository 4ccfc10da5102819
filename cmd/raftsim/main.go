package main

import (
	"context"
	"os"

	"github.com/outofforest/logger"

	"github.com/Hemanth-S/consensus-playground/cmd/raftsim/cmd"
)

func main() {
	ctx := logger.WithLogger(context.Background(), logger.New(logger.DefaultConfig))
	if err := cmd.Execute(ctx); err != nil {
		os.Exit(1)
	}
}

// Package main is the entry point for the MCP Hub aggregation proxy's
// control binary.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/saxyguy81/mcp-hub/cmd/proxy/app"
	"github.com/saxyguy81/mcp-hub/pkg/logger"
)

type exitCoder interface {
	ExitCode() int
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := app.NewRootCmd().ExecuteContext(ctx)
	if err == nil {
		return
	}

	logger.Errorf("%v", err)

	var ec exitCoder
	if errors.As(err, &ec) {
		os.Exit(ec.ExitCode())
	}
	os.Exit(1)
}

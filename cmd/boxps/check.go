package main

import (
	"context"
	"fmt"

	"github.com/isseis/go-boxps/internal/runner/bootstrap"
	boxerrors "github.com/isseis/go-boxps/internal/runner/errors"
)

// CheckCmd implements the 'check' command.
type CheckCmd struct{}

// Run validates the environment and prints a summary.
func (c *CheckCmd) Run(ctx context.Context, root *CLI) error {
	logger, cfg, err := root.setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	env, err := bootstrap.New().Bootstrap(ctx, cfg)
	if err != nil {
		boxerrors.LogClassifiedError(logger.Logger, "Environment check failed", err)
		return err
	}

	memory := "unlimited"
	if env.MemoryLimit > 0 {
		memory = fmt.Sprintf("%d MB", env.MemoryLimit/(1024*1024))
	}
	timeout := "unlimited"
	if d := cfg.Sandbox.Timeout(); d > 0 {
		timeout = d.String()
	}

	fmt.Fprintf(root.stdout, "install_dir:  %s\n", env.InstallDir)
	fmt.Fprintf(root.stdout, "entry_script: %s\n", env.EntryScript)
	fmt.Fprintf(root.stdout, "interpreter:  %s (%s)\n", env.Interpreter, env.InterpreterVersion)
	fmt.Fprintf(root.stdout, "memory_limit: %s\n", memory)
	fmt.Fprintf(root.stdout, "timeout:      %s\n", timeout)
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/argview/server/internal/config"
	"github.com/argview/server/internal/session"
	"github.com/argview/server/internal/tui"
	"github.com/spf13/cobra"
)

func newTUICommand(configPath *string) *cobra.Command {
	var project, file, logFile string

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Browse a tree sequence in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(*configPath, project, file, logFile)
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Backend project (overrides the config file)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Tree sequence file (overrides the config file)")
	cmd.Flags().StringVar(&logFile, "log", "", "Write logs to this file instead of discarding them")

	return cmd
}

func runTUI(configPath, project, file, logFile string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if project != "" {
		cfg.Backend.Project = project
	}
	if file != "" {
		cfg.Backend.File = file
	}
	if cfg.Backend.File == "" {
		return errors.New("no tree sequence file: pass --file or set backend.file")
	}

	// Log lines would tear the alternate screen.
	log.SetOutput(io.Discard)
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	st, err := newStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	s, err := session.Open(ctx, "tui", st.options(cfg))
	if err != nil {
		return err
	}
	defer s.Close()

	return tui.Run(ctx, s)
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spiffcs/firststep/internal/emulator"
	"github.com/spiffcs/firststep/internal/log"
)

// NewCmdEmulator creates the emulator command.
func NewCmdEmulator(opts *Options) *cobra.Command {
	var addr, projectID string

	cmd := &cobra.Command{
		Use:   "emulator",
		Short: "Run a local identity provider emulator",
		Long: `Runs an in-memory identity provider speaking the same REST API as
Google Identity Toolkit. Accounts are lost when it stops.

Verification and reset emails are not sent; their action codes are logged
and listed at GET /emulator/v1/oobCodes. Point the app at the emulator
with --emulator.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEmulator(cmd, opts, addr, projectID)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: emulator.host and emulator.port from config)")
	cmd.Flags().StringVar(&projectID, "project", "", "Project ID used as the token audience")

	return cmd
}

func runEmulator(cmd *cobra.Command, opts *Options, addr, projectID string) error {
	// The emulator's output is its log; show info by default.
	log.Initialize(max(opts.Verbosity, log.LevelInfo), os.Stderr)

	if addr == "" {
		_, settings, err := loadSettings(&Options{})
		if err != nil {
			return err
		}
		addr = settings.EmulatorAddr()
	}

	var emuOpts []emulator.Option
	if projectID != "" {
		emuOpts = append(emuOpts, emulator.WithProjectID(projectID))
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := emulator.New(emuOpts...).ListenAndServe(ctx, addr); err != nil {
		return fmt.Errorf("emulator: %w", err)
	}
	return nil
}

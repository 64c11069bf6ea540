package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spiffcs/firststep/internal/log"
	"github.com/spiffcs/firststep/internal/session"
	"github.com/spiffcs/firststep/internal/tui"
)

// NewCmdRun creates the run command.
func NewCmdRun(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open the interactive sign-in screen (same as root firststep)",
		Long: `Opens the terminal UI. Verified users land on the home screen;
everyone else is signed out and shown the sign-in / registration form.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd, opts)
		},
	}

	addRunFlags(cmd, opts)
	return cmd
}

// addRunFlags adds the run-specific flags to a command.
func addRunFlags(cmd *cobra.Command, opts *Options) {
	// TUI flag with tri-state: nil = auto, true = force, false = disable
	cmd.Flags().Var(newTUIFlag(opts), "tui", "Enable/disable the interactive UI (default: auto-detect)")
}

func runApp(cmd *cobra.Command, opts *Options) error {
	useTUI := shouldUseTUI(opts)
	initLogging(opts, useTUI)

	if !useTUI {
		log.Info("interactive UI disabled, reporting session status")
		fmt.Fprintln(cmd.ErrOrStderr(), "Not running in a terminal; use the register, signin and status commands instead.")
		return runStatus(cmd, opts)
	}

	rt, err := newRuntime(opts)
	if err != nil {
		return err
	}
	defer rt.close()

	router := tui.NewRouter()
	defer router.Close()

	coordinator := session.New(rt.store, rt.client, router, tui.Screens{})
	coordinator.Start()
	defer coordinator.Close()

	return tui.Run(router)
}

package cmd

import (
	"github.com/spf13/cobra"
)

// New creates the root command with all subcommands registered.
func New() *cobra.Command {
	opts := NewOptions()

	rootCmd := &cobra.Command{
		Use:   "firststep",
		Short: "Email/password sign-in for the terminal",
		Long: `A terminal client for email/password accounts on a Google Identity
Toolkit compatible provider. Register, verify your email address and sign in;
verified users reach the home screen.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd, opts)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.PersistentFlags().CountVarP(&opts.Verbosity, "verbose", "v", "Increase verbosity (-v info, -vv debug, -vvv trace)")
	rootCmd.PersistentFlags().BoolVar(&opts.Emulator, "emulator", false, "Use the local identity emulator (see 'firststep emulator')")

	// Add run flags to root command so `firststep` and `firststep run` work identically
	addRunFlags(rootCmd, opts)

	// Register subcommands
	rootCmd.AddCommand(NewCmdRun(opts))
	rootCmd.AddCommand(NewCmdRegister(opts))
	rootCmd.AddCommand(NewCmdSignIn(opts))
	rootCmd.AddCommand(NewCmdResetPassword(opts))
	rootCmd.AddCommand(NewCmdResendVerification(opts))
	rootCmd.AddCommand(NewCmdSignOut(opts))
	rootCmd.AddCommand(NewCmdStatus(opts))
	rootCmd.AddCommand(NewCmdEmulator(opts))
	rootCmd.AddCommand(NewCmdConfig())
	rootCmd.AddCommand(NewCmdVersion())

	return rootCmd
}

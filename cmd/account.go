package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/spiffcs/firststep/internal/auth"
	"github.com/spiffcs/firststep/internal/log"
	"github.com/spiffcs/firststep/internal/session"
	"github.com/spiffcs/firststep/internal/store"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow)
	dimColor  = color.New(color.Faint)
)

var (
	errStoreClosed = errors.New("auth store closed")
	errNotVerified = errors.New("email not verified: follow the link we sent, or run resend-verification")
)

// NewCmdRegister creates the register command.
func NewCmdRegister(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register <email>",
		Short: "Create an account and send the verification email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrompter(cmd, opts)
			password, err := p.password("Password: ")
			if err != nil {
				return err
			}
			if opts.Password == "" {
				repeat, err := p.password("Repeat password: ")
				if err != nil {
					return err
				}
				if repeat != password {
					return fmt.Errorf("passwords do not match")
				}
			}
			return runAction(cmd, opts, auth.CreateAccount{Email: args[0], Password: password})
		},
	}
	addPasswordFlag(cmd, opts)
	return cmd
}

// NewCmdSignIn creates the signin command.
func NewCmdSignIn(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signin <email>",
		Short: "Sign in and check that the email address is verified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := newPrompter(cmd, opts).password("Password: ")
			if err != nil {
				return err
			}
			return runAction(cmd, opts, auth.SignIn{Email: args[0], Password: password})
		},
	}
	addPasswordFlag(cmd, opts)
	return cmd
}

// NewCmdResetPassword creates the reset-password command.
func NewCmdResetPassword(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-password <email>",
		Short: "Send a password reset link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd, opts, auth.SendPasswordReset{Email: args[0]})
		},
	}
}

// NewCmdResendVerification creates the resend-verification command.
func NewCmdResendVerification(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resend-verification <email>",
		Short: "Send the verification email again",
		Long: `Signs in to send the verification email again. Accounts that are
already verified are reported as such and nothing is sent.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := newPrompter(cmd, opts).password("Password: ")
			if err != nil {
				return err
			}
			return runAction(cmd, opts, auth.ResendVerification{Email: args[0], Password: password})
		},
	}
	addPasswordFlag(cmd, opts)
	return cmd
}

// NewCmdSignOut creates the signout command.
func NewCmdSignOut(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Forget the cached session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			initLogging(opts, false)
			rt, err := newRuntime(opts)
			if err != nil {
				return err
			}
			defer rt.close()

			// SignOut failures are only logged by the store, so sign out
			// directly to report them.
			if err := rt.client.SignOut(); err != nil {
				return err
			}
			okColor.Fprintln(cmd.OutOrStdout(), "✓ Signed out.")
			return nil
		},
	}
}

// NewCmdStatus creates the status command.
func NewCmdStatus(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which screen the app would open",
		Long: `Resolves the session from the cached user without contacting the
provider. A cached but unverified user is signed out, as on startup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			initLogging(opts, false)
			return runStatus(cmd, opts)
		},
	}
}

func addPasswordFlag(cmd *cobra.Command, opts *Options) {
	cmd.Flags().StringVar(&opts.Password, "password", "", "Password (prompted for when omitted)")
}

// prompter reads passwords for one command. Input is hidden on a terminal
// and read line by line otherwise.
type prompter struct {
	cmd   *cobra.Command
	opts  *Options
	lines *bufio.Reader
}

func newPrompter(cmd *cobra.Command, opts *Options) *prompter {
	return &prompter{cmd: cmd, opts: opts}
}

// password returns --password or prompts for it.
func (p *prompter) password(prompt string) (string, error) {
	if p.opts.Password != "" {
		return p.opts.Password, nil
	}

	in := p.cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(p.cmd.ErrOrStderr(), prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(p.cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}

	if p.lines == nil {
		p.lines = bufio.NewReader(in)
	}
	line, err := p.lines.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// runAction dispatches action and reports the first event or error.
func runAction(cmd *cobra.Command, opts *Options, action auth.Action) error {
	initLogging(opts, false)
	rt, err := newRuntime(opts)
	if err != nil {
		return err
	}
	defer rt.close()

	ev, err := dispatch(cmd.Context(), rt.store, action)
	if err != nil {
		var appErr *store.AppError
		if errors.As(err, &appErr) {
			if cause := errors.Unwrap(appErr); cause != nil {
				return fmt.Errorf("%s: %w", appErr.Message, cause)
			}
		}
		return err
	}

	if ev == auth.NotVerified {
		return errNotVerified
	}
	report(cmd.OutOrStdout(), ev, action)
	return nil
}

// dispatch sends action to s and waits for the event or error it produces.
// Every action except SignOut ends in exactly one of the two.
func dispatch(ctx context.Context, s *auth.Store, action auth.Action) (auth.Event, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	events := s.Events()
	defer events.Close()
	errs := s.Errors().Subscribe()
	defer errs.Close()

	s.Dispatch(action)
	for {
		select {
		case ev, ok := <-events.C():
			if !ok {
				return 0, errStoreClosed
			}
			return ev, nil
		case appErr, ok := <-errs.C():
			if !ok {
				return 0, errStoreClosed
			}
			if appErr != nil {
				return 0, appErr
			}
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func report(w io.Writer, ev auth.Event, action auth.Action) {
	switch ev {
	case auth.AccountCreated:
		email := ""
		if a, ok := action.(auth.CreateAccount); ok {
			email = a.Email
		}
		okColor.Fprintf(w, "✓ Account created.\n")
		fmt.Fprintf(w, "  Check %s for a verification link, then sign in.\n", email)
	case auth.EmailVerified:
		okColor.Fprintln(w, "✓ Signed in. Email verified.")
	case auth.ResetLinkSent:
		okColor.Fprintln(w, "✓ Password reset link sent.")
	case auth.VerificationSent:
		okColor.Fprintln(w, "✓ Verification email sent.")
	default:
		fmt.Fprintln(w, ev.String())
	}
}

// headlessScreens mounts nothing; status only needs the resolved state.
type headlessScreens struct{}

type headlessScreen struct{}

func (headlessScreen) Close() {}

func (headlessScreens) Auth(*auth.Store) session.Screen { return headlessScreen{} }

func (headlessScreens) Home(*auth.User, func()) session.Screen { return headlessScreen{} }

type headlessRouter struct{}

func (headlessRouter) SetRoot(session.Screen) {}

func runStatus(cmd *cobra.Command, opts *Options) error {
	rt, err := newRuntime(opts)
	if err != nil {
		return err
	}
	defer rt.close()

	user := rt.client.CurrentUser()

	coordinator := session.New(rt.store, rt.client, headlessRouter{}, headlessScreens{})
	coordinator.Start()
	state := coordinator.CurrentState()
	coordinator.Close()

	// The store may shut down before running the forced sign-out.
	if state != session.AuthenticatedVerified && rt.client.CurrentUser() != nil {
		if err := rt.client.SignOut(); err != nil {
			log.Warn("sign out failed", "error", err)
		}
	}

	w := cmd.OutOrStdout()
	switch {
	case state == session.AuthenticatedVerified:
		okColor.Fprintf(w, "● %s\n", state)
		fmt.Fprintf(w, "  Signed in as %s\n", user.Email)
	case user != nil:
		warnColor.Fprintf(w, "● %s\n", state)
		fmt.Fprintf(w, "  %s has not verified their email address and was signed out.\n", user.Email)
	default:
		dimColor.Fprintf(w, "● %s\n", state)
		fmt.Fprintln(w, "  Not signed in.")
	}
	return nil
}

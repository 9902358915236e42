package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/crowdpulse/internal/domain"
	"github.com/pscheid92/crowdpulse/internal/platform/version"
	"github.com/pscheid92/crowdpulse/internal/session"
	"github.com/spf13/cobra"
)

// newRootCmd builds the crowdpulse-token CLI, which signs and checks identity
// tokens with the server's IDENTITY_SECRET for local testing and load tools.
func newRootCmd() *cobra.Command {
	var secret string

	rootCmd := &cobra.Command{
		Use:          "crowdpulse-token",
		Short:        "Sign and verify crowdpulse identity tokens",
		Version:      version.Get().String(),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&secret, "secret", "s", os.Getenv("IDENTITY_SECRET"), "Signing secret (defaults to IDENTITY_SECRET)")

	verifier := func() (*session.JWTVerifier, error) {
		if secret == "" {
			return nil, errors.New("--secret or IDENTITY_SECRET required")
		}
		return session.NewJWTVerifier(secret, clockwork.NewRealClock()), nil
	}

	var (
		user  string
		admin bool
		ttl   time.Duration
	)
	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a token for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl <= 0 {
				return errors.New("--ttl must be positive")
			}
			v, err := verifier()
			if err != nil {
				return err
			}
			token, err := v.Issue(domain.Identity{UserID: user, Admin: admin}, ttl)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issueCmd.Flags().StringVarP(&user, "user", "u", "", "User id placed in the token subject (required)")
	issueCmd.Flags().BoolVar(&admin, "admin", false, "Grant administrative privileges")
	issueCmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = issueCmd.MarkFlagRequired("user")

	verifyCmd := &cobra.Command{
		Use:   "verify TOKEN",
		Short: "Check a token and print the identity it carries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := verifier()
			if err != nil {
				return err
			}
			identity, err := v.Verify(args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "user=%s admin=%t\n", identity.UserID, identity.Admin)
			return nil
		},
	}

	rootCmd.AddCommand(issueCmd, verifyCmd)
	return rootCmd
}

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tillsync/internal/httpapi"
)

// TokenResult is the output of the token command.
type TokenResult struct {
	Token     string    `json:"token"`
	Subject   string    `json:"sub"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r TokenResult) String() string {
	return r.Token
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		subject string
		name    string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed API token",
		Long: `Issue an HS256 token signed with auth.jwt_secret, for development and
for provisioning registers and displays.

Roles: cashier, admin, buyer, display.

Example:
  tillsync token --sub K1 --name "Kasir Satu" --role cashier --ttl 12h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := rootOpts.Config.Auth.JWTSecret
			if secret == "" {
				return NewExitError(ExitCommandError, "auth.jwt_secret is required to issue tokens")
			}
			r := httpapi.Role(role)
			if !r.Valid() {
				return NewExitError(ExitCommandError, fmt.Sprintf("unknown role %q", role))
			}
			if ttl <= 0 {
				return NewExitError(ExitCommandError, "ttl must be positive")
			}

			auth := httpapi.NewAuthenticator(secret)
			token, err := auth.Issue(httpapi.Principal{Subject: subject, Name: name, Role: r}, ttl)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to sign token", err)
			}
			return rootOpts.formatter(cmd).Success(TokenResult{
				Token:     token,
				Subject:   subject,
				Role:      role,
				ExpiresAt: time.Now().Add(ttl).UTC().Truncate(time.Second),
			})
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "subject, e.g. operator or buyer id (required)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "", "role (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

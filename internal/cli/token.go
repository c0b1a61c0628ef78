package cli

import (
	"fmt"
	"time"

	"coderoom-service/internal/auth"
	"coderoom-service/internal/config"
	"github.com/spf13/cobra"
)

// NewTokenCmd mints a bearer token for local testing.
func NewTokenCmd(configPath *string) *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user id",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if ttl == 0 {
				ttl = config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour)
			}
			tokens, err := tokenManager(cfg)
			if err != nil {
				return err
			}
			token, err := tokens.Issue(userID, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to put in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.tokenTTL)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func tokenManager(cfg config.Config) (*auth.Manager, error) {
	if cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("auth secret not configured (auth.secret or CODEROOM_AUTH_SECRET)")
	}
	return auth.NewManager(cfg.Auth.Secret, cfg.Auth.Issuer), nil
}

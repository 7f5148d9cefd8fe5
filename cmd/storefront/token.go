package main

import (
	"fmt"

	"storefront-events/internal/auth"
	"storefront-events/internal/config"
	"storefront-events/internal/domain"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	tokenUser  string
	tokenAdmin bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a development access token",
	Long: `Sign an access token with JWT_SECRET for local testing.

Examples:
  storefront token --user 3f0c...
  storefront token --admin`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id (random when empty)")
	tokenCmd.Flags().BoolVar(&tokenAdmin, "admin", false, "issue an administrator token")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	p := domain.Principal{UserID: uuid.New(), Role: domain.RoleUser}
	if tokenUser != "" {
		if p.UserID, err = uuid.Parse(tokenUser); err != nil {
			return fmt.Errorf("--user: %w", err)
		}
	}
	if tokenAdmin {
		p.Role = domain.RoleAdmin
	}

	tok, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL).Issue(p)
	if err != nil {
		return err
	}
	fmt.Printf("user: %s\nrole: %s\ntoken: %s\n", p.UserID, p.Role, tok)
	return nil
}

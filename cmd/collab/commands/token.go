package commands

import (
	"collab-lab/auth"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// token: sign a relay access token. Meant for the development relay,
// whose secret the operator knows.
func tokenCmd() *cobra.Command {
	var (
		user  string
		roles []string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a development relay token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.JWTSecret == "" {
				return fmt.Errorf("signing secret required (--secret or COLLAB_JWT_SECRET)")
			}
			token, err := auth.GenerateToken([]byte(cfg.JWTSecret), user, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id the token is issued for")
	cmd.Flags().StringSliceVar(&roles, "role", []string{"student"}, "roles granted")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "validity")
	cmd.Flags().StringVar(&cfg.JWTSecret, "secret", cfg.JWTSecret, "relay signing secret")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tsarna/callsec/pkg/realtime/auth"
	"go.uber.org/zap"
)

// loginCmd represents the login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Obtain an access token",
	Long: `Log in with a username and password and print the access token, for use
with --token or --token-file.

Examples:
  callsec login --api https://api.example.com -u reception -p secret > token
  callsec watch --api https://api.example.com --token-file token`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var (
	loginTimeout time.Duration
	loginCreds   credentialFlags
)

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().DurationVar(&loginTimeout, "timeout", 30*time.Second, "login timeout")
	loginCreds.register(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}
	loginCreds.merge(cmd, cfg.Client)

	if loginCreds.username == "" {
		return errors.New("a username is required, use --username or a client block")
	}

	grant, err := loginCreds.passwordGrant(logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
	defer cancel()

	resp, err := grant.Login(ctx)
	if err != nil {
		return err
	}

	fields := []zap.Field{zap.String("username", loginCreds.username)}
	if expires := auth.ExpiresAt(resp.AccessToken); !expires.IsZero() {
		fields = append(fields, zap.Time("expires", expires))
	}
	logger.Info("Logged in", fields...)

	fmt.Fprintln(cmd.OutOrStdout(), resp.AccessToken)
	return nil
}

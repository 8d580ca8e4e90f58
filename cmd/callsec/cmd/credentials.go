package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tsarna/callsec/pkg/realtime"
	"github.com/tsarna/callsec/pkg/realtime/auth"
	"github.com/tsarna/callsec/pkg/realtime/config"
	"go.uber.org/zap"
)

// credentialFlags are shared by the commands that talk to an API.
type credentialFlags struct {
	apiBase   string
	token     string
	tokenFile string
	username  string
	password  string
}

func (f *credentialFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.apiBase, "api", "", "API base URL, e.g. https://api.example.com")
	cmd.Flags().StringVar(&f.token, "token", "", "bearer token")
	cmd.Flags().StringVar(&f.tokenFile, "token-file", "", "file holding the bearer token, re-read on every connect")
	cmd.Flags().StringVarP(&f.username, "username", "u", "", "log in with this user name")
	cmd.Flags().StringVarP(&f.password, "password", "p", "", "password for --username")
}

// merge fills unset flags from the client block.
func (f *credentialFlags) merge(cmd *cobra.Command, client *config.ClientDefinition) {
	if client == nil {
		return
	}
	f.apiBase = pick(cmd, "api", f.apiBase, client.APIBase)

	// Any credential flag replaces the configured credentials as a whole.
	for _, name := range []string{"token", "token-file", "username"} {
		if cmd.Flags().Changed(name) {
			return
		}
	}
	f.token = client.Token
	f.tokenFile = client.TokenFile
	f.username = client.Username
	f.password = client.Password
}

// provider returns the token provider the flags describe, or nil when no
// credential was given. grant is set for password logins.
func (f *credentialFlags) provider(logger *zap.Logger) (provider realtime.TokenProvider, grant *auth.PasswordGrant, err error) {
	switch {
	case f.token != "":
		return auth.Static(f.token), nil, nil
	case f.tokenFile != "":
		return auth.File(f.tokenFile), nil, nil
	case f.username != "":
		grant, err := f.passwordGrant(logger)
		if err != nil {
			return nil, nil, err
		}
		return grant, grant, nil
	}
	return nil, nil, nil
}

func (f *credentialFlags) passwordGrant(logger *zap.Logger) (*auth.PasswordGrant, error) {
	grant, err := auth.NewPasswordGrant().
		WithAPIBase(f.apiBase).
		WithCredentials(f.username, f.password).
		WithLogger(logger).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to set up login: %w", err)
	}
	return grant, nil
}

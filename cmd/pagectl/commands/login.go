package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/MapcreatorIO/api-wrapper-sub000/internal/auth"
	"github.com/MapcreatorIO/api-wrapper-sub000/internal/constants"
)

// NewLoginCommand creates the login command.
func NewLoginCommand() *cobra.Command {
	var (
		username     string
		password     string
		clientID     string
		clientSecret string
		tokenURL     string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the API",
		Long: `Request an access token with a password or client credentials grant and
store it, with its refresh token, in the config file.`,
		Example: `  pagectl login --api https://api.example.com --username jane
  pagectl login --client-id 42 --client-secret s3cret`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config := loadConfig()

			if config.API == "" {
				return constants.ErrNoAPIEndpointConfigured
			}

			if username == "" && clientID == "" {
				return ErrNoCredentials
			}

			if username != "" && password == "" {
				_, _ = fmt.Fprint(cmd.ErrOrStderr(), "Password: ")

				bytePassword, err := term.ReadPassword(int(os.Stdin.Fd()))
				if err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}

				_, _ = fmt.Fprintln(cmd.ErrOrStderr())

				password = string(bytePassword)
			}

			if tokenURL == "" {
				tokenURL = strings.TrimSuffix(config.API, "/") + "/oauth/token"
			}

			manager := auth.NewOAuth2TokenManager(&auth.OAuth2Config{
				TokenURL:     tokenURL,
				ClientID:     clientID,
				ClientSecret: clientSecret,
				Username:     username,
				Password:     password,
			})

			_, err := manager.GetToken(cmd.Context())
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			token := manager.Current()

			config.Token = token.AccessToken
			config.RefreshToken = token.RefreshToken
			config.Username = username
			config.ClientID = clientID
			config.ClientSecret = clientSecret
			config.TokenExpiresAt = nil

			if !token.ExpiresAt.IsZero() {
				expiresAt := token.ExpiresAt
				config.TokenExpiresAt = &expiresAt
			}

			err = saveConfig(config)
			if err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Logged in to %s\n", config.API)

			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "username for the password grant")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted when omitted)")
	cmd.Flags().StringVar(&clientID, "client-id", "", "OAuth client ID")
	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "OAuth client secret")
	cmd.Flags().StringVar(&tokenURL, "token-url", "", "token endpoint (default is <api>/oauth/token)")

	return cmd
}

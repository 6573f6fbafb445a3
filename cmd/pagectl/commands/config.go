package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/MapcreatorIO/api-wrapper-sub000/internal/constants"
	"github.com/MapcreatorIO/api-wrapper-sub000/pkg/listing"
)

const masked = "***"

// Config represents the CLI configuration file.
type Config struct {
	API                 string                 `json:"api,omitempty"                  yaml:"api,omitempty"`
	Token               string                 `json:"token,omitempty"                yaml:"token,omitempty"`
	TokenExpiresAt      *time.Time             `json:"token_expires_at,omitempty"     yaml:"token_expires_at,omitempty"`
	RefreshToken        string                 `json:"refresh_token,omitempty"        yaml:"refresh_token,omitempty"`
	LastRefreshed       *time.Time             `json:"last_refreshed,omitempty"       yaml:"last_refreshed,omitempty"`
	Username            string                 `json:"username,omitempty"             yaml:"username,omitempty"`
	ClientID            string                 `json:"client_id,omitempty"            yaml:"client_id,omitempty"`
	ClientSecret        string                 `json:"client_secret,omitempty"        yaml:"client_secret,omitempty"`
	Output              string                 `json:"output,omitempty"               yaml:"output,omitempty"`
	CacheTTL            time.Duration          `json:"cache_ttl,omitempty"            yaml:"cache_ttl,omitempty"`
	NATSURL             string                 `json:"nats_url,omitempty"             yaml:"nats_url,omitempty"`
	InvalidationSubject string                 `json:"invalidation_subject,omitempty" yaml:"invalidation_subject,omitempty"`
	Defaults            map[string]interface{} `json:"defaults,omitempty"             yaml:"defaults,omitempty"`
}

// settableKeys lists the keys accepted by "config set" and "config unset".
var settableKeys = []string{
	"api", "token", "refresh_token", "username", "client_id", "client_secret",
	"output", "cache_ttl", "nats_url", "invalidation_subject",
}

// NewConfigCommand creates the config command group.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
		Long:  "Manage pagectl configuration including the API endpoint, credentials and query defaults",
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigSetCommand())
	cmd.AddCommand(newConfigUnsetCommand())
	cmd.AddCommand(newConfigDefaultsCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long:  "Display the current CLI configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			config := redact(loadConfig())
			out := cmd.OutOrStdout()

			format, err := outputFormat(out)
			if err != nil {
				return err
			}

			if format != constants.FormatTable {
				return writeStructured(out, format, config)
			}

			return displayConfigTable(out, config)
		},
	}
}

func newConfigSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a configuration value",
		Long:  "Set a configuration value. Keys: " + strings.Join(settableKeys, ", "),
		Args:  cobra.ExactArgs(constants.KeyValueSplitParts),
		RunE: func(cmd *cobra.Command, args []string) error {
			config := loadConfig()

			err := setConfigValue(config, args[0], args[1])
			if err != nil {
				return err
			}

			err = saveConfig(config)
			if err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Set %s\n", args[0])

			return nil
		},
	}
}

func newConfigUnsetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unset KEY",
		Short: "Unset a configuration value",
		Long:  "Remove a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config := loadConfig()

			err := setConfigValue(config, args[0], "")
			if err != nil {
				return err
			}

			err = saveConfig(config)
			if err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Unset %s\n", args[0])

			return nil
		},
	}
}

func newConfigDefaultsCommand() *cobra.Command {
	var (
		flags queryFlags
		reset bool
	)

	cmd := &cobra.Command{
		Use:   "defaults",
		Short: "Show or change query defaults",
		Long:  "Show or change the page, per-page, search, sort and deleted values new queries start from",
		RunE: func(cmd *cobra.Command, args []string) error {
			config := loadConfig()

			defaults := listing.NewDefaults()
			if !reset && len(config.Defaults) > 0 {
				err := defaults.Update(config.Defaults)
				if err != nil {
					return fmt.Errorf("invalid query defaults in config: %w", err)
				}
			}

			changes, err := flags.changed(cmd)
			if err != nil {
				return err
			}

			if len(changes) > 0 || reset {
				err = defaults.Update(changes)
				if err != nil {
					return err
				}

				config.Defaults = defaultsToMap(defaults.Values())

				err = saveConfig(config)
				if err != nil {
					return fmt.Errorf("failed to save config: %w", err)
				}
			}

			out := cmd.OutOrStdout()

			format, err := outputFormat(out)
			if err != nil {
				return err
			}

			if format != constants.FormatTable {
				return writeStructured(out, format, defaults.Values())
			}

			return displayDefaultsTable(out, defaults.Values())
		},
	}

	flags.register(cmd, false)
	cmd.Flags().BoolVar(&reset, "reset", false, "restore the built-in defaults")

	return cmd
}

func setConfigValue(config *Config, key, value string) error {
	switch key {
	case "api":
		config.API = value
	case "token":
		config.Token = value
		config.TokenExpiresAt = nil
	case "refresh_token":
		config.RefreshToken = value
	case "username":
		config.Username = value
	case "client_id":
		config.ClientID = value
	case "client_secret":
		config.ClientSecret = value
	case "output":
		switch value {
		case "", constants.FormatTable, constants.FormatJSON, constants.FormatYAML:
			config.Output = value
		default:
			return fmt.Errorf("%w: %s", constants.ErrInvalidOutput, value)
		}
	case "cache_ttl":
		if value == "" {
			config.CacheTTL = 0

			return nil
		}

		ttl, err := cast.ToDurationE(value)
		if err != nil || ttl < constants.CacheMinTTL {
			return fmt.Errorf("%w: %s", constants.ErrInvalidCacheTTL, value)
		}

		config.CacheTTL = ttl
	case "nats_url":
		config.NATSURL = value
	case "invalidation_subject":
		config.InvalidationSubject = value
	default:
		return fmt.Errorf("%w: %s", constants.ErrUnknownConfigKey, key)
	}

	return nil
}

func loadConfig() *Config {
	config := &Config{
		API:                 viper.GetString("api"),
		Token:               viper.GetString("token"),
		RefreshToken:        viper.GetString("refresh_token"),
		Username:            viper.GetString("username"),
		ClientID:            viper.GetString("client_id"),
		ClientSecret:        viper.GetString("client_secret"),
		Output:              viper.GetString("output"),
		CacheTTL:            viper.GetDuration("cache_ttl"),
		NATSURL:             viper.GetString("nats_url"),
		InvalidationSubject: viper.GetString("invalidation_subject"),
	}

	if expiresAt := viper.GetTime("token_expires_at"); !expiresAt.IsZero() {
		config.TokenExpiresAt = &expiresAt
	}

	if refreshed := viper.GetTime("last_refreshed"); !refreshed.IsZero() {
		config.LastRefreshed = &refreshed
	}

	if defaults := viper.GetStringMap("defaults"); len(defaults) > 0 {
		config.Defaults = defaults
	}

	return config
}

func configFilePath() (string, error) {
	if configFile := viper.ConfigFileUsed(); configFile != "" {
		return configFile, nil
	}

	if configFile := viper.GetString("config"); configFile != "" {
		return configFile, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(home, ".pagectl", "config.yml"), nil
}

func saveConfig(config *Config) error {
	configFile, err := configFilePath()
	if err != nil {
		return err
	}

	if info, statErr := os.Stat(configFile); statErr == nil && !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", constants.ErrNotRegularFile, configFile)
	}

	err = os.MkdirAll(filepath.Dir(configFile), constants.ConfigDirPerm)
	if err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = os.WriteFile(configFile, data, constants.ConfigFilePerm)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	viper.SetConfigFile(configFile)

	err = viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}

	return nil
}

func defaultsToMap(values listing.DefaultValues) map[string]interface{} {
	out := map[string]interface{}{
		"page":     values.Page,
		"per_page": values.PerPage,
	}

	if len(values.Search) > 0 {
		search := make(map[string]interface{}, len(values.Search))
		for key, terms := range values.Search {
			search[key] = strings.Join(terms, ",")
		}

		out["search"] = search
	}

	if len(values.Sort) > 0 {
		out["sort"] = strings.Join(values.Sort, ",")
	}

	if values.Deleted != listing.DeletedUnset {
		out["deleted"] = string(values.Deleted)
	}

	return out
}

func redact(config *Config) *Config {
	copied := *config

	if copied.Token != "" {
		copied.Token = masked
	}

	if copied.RefreshToken != "" {
		copied.RefreshToken = masked
	}

	if copied.ClientSecret != "" {
		copied.ClientSecret = masked
	}

	return &copied
}

func displayConfigTable(w io.Writer, config *Config) error {
	table := tablewriter.NewWriter(w)
	table.Header("Property", "Value")

	_ = table.Append([]string{"API", orNotAvailable(config.API)})
	_ = table.Append([]string{"Token", orNotAvailable(config.Token)})

	if config.TokenExpiresAt != nil {
		_ = table.Append([]string{"Token Expires", config.TokenExpiresAt.Format(time.RFC3339)})
	}

	_ = table.Append([]string{"Refresh Token", orNotAvailable(config.RefreshToken)})
	_ = table.Append([]string{"Username", orNotAvailable(config.Username)})
	_ = table.Append([]string{"Client ID", orNotAvailable(config.ClientID)})
	_ = table.Append([]string{"Output", orNotAvailable(config.Output)})

	ttl := constants.NotAvailable
	if config.CacheTTL > 0 {
		ttl = config.CacheTTL.String()
	}

	_ = table.Append([]string{"Cache TTL", ttl})
	_ = table.Append([]string{"NATS URL", orNotAvailable(config.NATSURL)})

	err := table.Render()
	if err != nil {
		return fmt.Errorf("failed to render config table: %w", err)
	}

	return nil
}

func displayDefaultsTable(w io.Writer, values listing.DefaultValues) error {
	table := tablewriter.NewWriter(w)
	table.Header("Field", "Default")

	search := make([]string, 0, len(values.Search))
	for key, terms := range values.Search {
		search = append(search, key+"="+strings.Join(terms, ","))
	}

	_ = table.Append([]string{"page", cast.ToString(values.Page)})
	_ = table.Append([]string{"per_page", cast.ToString(values.PerPage)})
	_ = table.Append([]string{"search", orNotAvailable(strings.Join(search, " "))})
	_ = table.Append([]string{"sort", orNotAvailable(strings.Join(values.Sort, ","))})
	_ = table.Append([]string{"deleted", orNotAvailable(string(values.Deleted))})

	err := table.Render()
	if err != nil {
		return fmt.Errorf("failed to render defaults table: %w", err)
	}

	return nil
}

func orNotAvailable(value string) string {
	if value == "" {
		return constants.NotAvailable
	}

	return value
}

package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/MapcreatorIO/api-wrapper-sub000/internal/constants"
	"github.com/MapcreatorIO/api-wrapper-sub000/pkg/apiclient"
	"github.com/MapcreatorIO/api-wrapper-sub000/pkg/listing"
)

// Common static errors used throughout the commands package.
var (
	ErrNATSURLRequired = errors.New("NATS URL is required, use --nats-url or 'pagectl config set nats_url <url>'")
	ErrNoCredentials   = errors.New("no credentials given, use --username or --client-id")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AddGlobalFlags registers the persistent flags shared by every command
// and binds them to viper.
func AddGlobalFlags(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is $HOME/.pagectl/config.yml)")
	flags.StringP("api", "a", "", "API endpoint URL")
	flags.StringP("token", "t", "", "access token")
	flags.StringP("output", "o", "", "output format (table, json, yaml); defaults to table on a terminal and json otherwise")
	flags.BoolP("verbose", "v", false, "verbose output")
	flags.Bool("debug", false, "log every HTTP request and response")
	flags.String("nats-url", "", "NATS server for cache invalidation")

	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("api", flags.Lookup("api"))
	_ = viper.BindPFlag("token", flags.Lookup("token"))
	_ = viper.BindPFlag("output", flags.Lookup("output"))
	_ = viper.BindPFlag("verbose", flags.Lookup("verbose"))
	_ = viper.BindPFlag("debug", flags.Lookup("debug"))
	_ = viper.BindPFlag("nats_url", flags.Lookup("nats-url"))
}

// outputFormat returns the configured format, falling back to table on a
// terminal and json everywhere else.
func outputFormat(w io.Writer) (string, error) {
	format := strings.ToLower(viper.GetString("output"))

	switch format {
	case constants.FormatTable, constants.FormatJSON, constants.FormatYAML:
		return format, nil
	case "":
	default:
		return "", fmt.Errorf("%w: %s", constants.ErrInvalidOutput, format)
	}

	if file, ok := w.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		return constants.FormatTable, nil
	}

	return constants.FormatJSON, nil
}

// writeStructured writes value as indented JSON or YAML.
func writeStructured(w io.Writer, format string, value interface{}) error {
	if format == constants.FormatYAML {
		encoder := yaml.NewEncoder(w)
		defer func() { _ = encoder.Close() }()

		return encoder.Encode(value)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", strings.Repeat(" ", constants.JSONIndentSize))

	return encoder.Encode(value)
}

// renderResources prints rows as a table with the given columns, or every
// column seen when none are given.
func renderResources(w io.Writer, rows []*listing.Resource, columns []string) error {
	if len(columns) == 0 {
		columns = discoverColumns(rows)
	}

	table := tablewriter.NewWriter(w)

	header := make([]any, len(columns))
	for i, column := range columns {
		header[i] = column
	}

	table.Header(header...)

	for _, row := range rows {
		cells := make([]string, len(columns))
		for i, column := range columns {
			cells[i] = formatCell(row, column)
		}

		_ = table.Append(cells)
	}

	err := table.Render()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	return nil
}

// discoverColumns puts id first and the remaining keys in name order.
func discoverColumns(rows []*listing.Resource) []string {
	seen := map[string]struct{}{}

	for _, row := range rows {
		for _, key := range row.Keys() {
			seen[key] = struct{}{}
		}
	}

	delete(seen, "id")

	columns := make([]string, 0, len(seen)+1)
	for key := range seen {
		columns = append(columns, key)
	}

	sort.Strings(columns)

	return append([]string{"id"}, columns...)
}

func formatCell(row *listing.Resource, column string) string {
	value, ok := row.Get(column)
	if !ok || value == nil {
		return ""
	}

	var text string

	switch value.(type) {
	case map[string]interface{}, []interface{}:
		encoded, err := json.Marshal(value)
		if err != nil {
			return constants.NotAvailable
		}

		text = string(encoded)
	default:
		text = cast.ToString(value)
	}

	if len(text) > constants.StringTruncationLength {
		return text[:constants.StringTruncationLength-3] + "..."
	}

	return text
}

// parseKeyValues turns "key=value" arguments into a map. A bare "key" maps
// to nil when allowBare is set.
func parseKeyValues(pairs []string, allowBare bool) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(pairs))

	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", constants.KeyValueSplitParts)

		key := strings.TrimSpace(parts[0])
		if key == "" {
			return nil, fmt.Errorf("%w: %q", constants.ErrInvalidKeyValue, pair)
		}

		if len(parts) == 1 {
			if !allowBare {
				return nil, fmt.Errorf("%w: %q", constants.ErrInvalidKeyValue, pair)
			}

			out[key] = nil

			continue
		}

		out[key] = parts[1]
	}

	return out, nil
}

// stderrLogger writes log lines to a writer, dropping debug lines unless
// verbose is set.
type stderrLogger struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
}

func newStderrLogger(verbose bool) *stderrLogger {
	return &stderrLogger{out: os.Stderr, verbose: verbose}
}

func (l *stderrLogger) log(level, msg string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	var line strings.Builder

	line.WriteString(time.Now().Format(time.RFC3339))
	line.WriteString(" ")
	line.WriteString(level)
	line.WriteString(" ")
	line.WriteString(msg)

	for _, key := range keys {
		_, _ = fmt.Fprintf(&line, " %s=%v", key, fields[key])
	}

	line.WriteString("\n")

	_, _ = io.WriteString(l.out, line.String())
}

func (l *stderrLogger) Debug(msg string, fields map[string]interface{}) {
	if l.verbose {
		l.log("DEBUG", msg, fields)
	}
}

func (l *stderrLogger) Info(msg string, fields map[string]interface{}) {
	if l.verbose {
		l.log("INFO", msg, fields)
	}
}

func (l *stderrLogger) Warn(msg string, fields map[string]interface{}) {
	l.log("WARN", msg, fields)
}

func (l *stderrLogger) Error(msg string, fields map[string]interface{}) {
	l.log("ERROR", msg, fields)
}

// newClientFromConfig builds an API client from the config file, with
// command line flags taking precedence.
func newClientFromConfig() (*apiclient.Client, *Config, error) {
	config := loadConfig()

	if config.API == "" {
		return nil, nil, constants.ErrNoAPIEndpointConfigured
	}

	defaults := listing.NewDefaults()

	if len(config.Defaults) > 0 {
		err := defaults.Update(config.Defaults)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid query defaults in config: %w", err)
		}
	}

	verbose := viper.GetBool("verbose") || viper.GetBool("debug")

	clientConfig := &apiclient.Config{
		APIEndpoint:  config.API,
		AccessToken:  config.Token,
		RefreshToken: config.RefreshToken,
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Debug:        viper.GetBool("debug"),
		Logger:       newStderrLogger(verbose),
		UserAgent:    "pagectl/" + cliVersion,
		CacheTTL:     config.CacheTTL,
		Defaults:     defaults,
	}

	if config.RefreshToken != "" {
		clientConfig.TokenPersister = NewConfigPersister()
	}

	client, err := apiclient.New(clientConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create client: %w", err)
	}

	return client, config, nil
}

package commands_test

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/MapcreatorIO/api-wrapper-sub000/cmd/pagectl/commands"
)

// Commands read their settings through the global viper instance, so tests in
// this package do not run in parallel.

// findSubcommand finds a subcommand by name within a cobra command.
func findSubcommand(cmd *cobra.Command, name string) *cobra.Command {
	for _, c := range cmd.Commands() {
		if c.Name() == name {
			return c
		}
	}

	return nil
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "pagectl",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	commands.AddGlobalFlags(root)

	root.AddCommand(commands.NewVersionCommand("1.2.3", "abc123", "2026-01-02"))
	root.AddCommand(commands.NewLoginCommand())
	root.AddCommand(commands.NewConfigCommand())
	root.AddCommand(commands.NewListCommand())
	root.AddCommand(commands.NewQueryCommand())
	root.AddCommand(commands.NewWatchCommand())
	root.AddCommand(commands.NewInvalidateCommand())

	return root
}

// useConfig resets viper and points it at a fresh config file holding
// settings. It returns the file path.
func useConfig(t *testing.T, settings map[string]interface{}) string {
	t.Helper()

	viper.Reset()
	t.Cleanup(viper.Reset)

	if settings == nil {
		settings = map[string]interface{}{}
	}

	data, err := yaml.Marshal(settings)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())

	return path
}

func readConfigFile(t *testing.T, path string) map[string]interface{} {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var settings map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &settings))

	return settings
}

// syncBuffer is a bytes.Buffer that can be written from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	out := &syncBuffer{}

	root := newRootCommand()
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)

	err := root.Execute()

	return out.String(), err
}

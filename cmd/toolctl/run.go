package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/statecore/internal/config"
	"github.com/garyjia/statecore/internal/tooladapter"
	"github.com/garyjia/statecore/pkg/utils"
)

type runOptions struct {
	configFile   string
	input        string
	secretPrefix string
	timeout      time.Duration
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Initialize an adapter from a YAML config and execute it once",
		Long: `Loads a tool config, resolves secrets from environment variables carrying the
secret prefix (TOOL_SECRET_TOKEN becomes secret TOKEN), executes the adapter with
the JSON input and prints the result envelope. Defaults come from the tools
section of the service config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTool(cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "Tool config file (YAML)")
	cmd.Flags().StringVarP(&opts.input, "input", "i", "{}", "Tool input as a JSON object")
	cmd.Flags().StringVar(&opts.secretPrefix, "secret-prefix", "", "Environment prefix of secrets (default tools.secret_env_prefix)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Default request timeout (default tools.request_timeout)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runTool(cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	svc, err := config.Load(root.serviceConfig)
	if err != nil {
		return err
	}
	prefix := svc.Tools.SecretEnvPrefix
	if cmd.Flags().Changed("secret-prefix") {
		prefix = opts.secretPrefix
	}
	httpTimeout, requestTimeout := svc.Tools.HTTPTimeout, svc.Tools.RequestTimeout
	if opts.timeout > 0 {
		httpTimeout, requestTimeout = opts.timeout, opts.timeout
	}

	cfg, err := tooladapter.LoadConfigFile(opts.configFile)
	if err != nil {
		return err
	}

	var input map[string]any
	if err := json.Unmarshal([]byte(opts.input), &input); err != nil {
		return fmt.Errorf("input must be a JSON object: %w", err)
	}

	logger := root.logger()
	defer logger.Sync()

	secrets := secretsFromEnv(prefix, os.Environ())
	logger.Debug("Secrets resolved", zap.Strings("names", sortedKeys(secrets)))

	adapter, err := tooladapter.Open(cmd.Context(), cfg, secrets,
		tooladapter.WithLogger(logger),
		tooladapter.WithHTTPClient(utils.NewHTTPClient(httpTimeout)),
		tooladapter.WithRequestTimeout(requestTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize %s adapter: %w", cfg.Type, err)
	}
	defer adapter.Dispose()

	result := adapter.Execute(cmd.Context(), input)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("tool failed: %s", result.Error)
	}
	return nil
}

// secretsFromEnv collects KEY=VALUE entries whose key carries prefix
func secretsFromEnv(prefix string, environ []string) map[string]string {
	secrets := make(map[string]string)
	if prefix == "" {
		return secrets
	}
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		if name := strings.TrimPrefix(key, prefix); name != "" {
			secrets[name] = value
		}
	}
	return secrets
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-dev/livetree/internal/config"
)

func tokenCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Create and inspect state tokens",
		Long: `Create and inspect state tokens with the configured secret and mode.

Values are stored as given, so they should be JSON:

  livetree token sign count=3 'theme="dark"'
  livetree token inspect <token>`,
	}
	cmd.AddCommand(tokenSignCmd(configPath), tokenInspectCmd(configPath))
	return cmd
}

func tokenSignCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sign key=value...",
		Short: "Seal key/value pairs into a token",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := parsePairs(args)
			if err != nil {
				return err
			}
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			resolver, closeResolver, err := newResolver(cfg, cfg.Logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer closeResolver()

			tok, err := resolver.CreateToken(cmd.Context(), data, "")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
}

func tokenInspectCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <token>",
		Short: "Verify a token and print its state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			resolver, closeResolver, err := newResolver(cfg, cfg.Logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer closeResolver()

			data, err := resolver.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(data)
		},
	}
}

func parsePairs(args []string) (map[string]string, error) {
	data := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid pair %q, expected key=value", arg)
		}
		if !json.Valid([]byte(value)) {
			return nil, fmt.Errorf("value of %q is not JSON: %s", key, value)
		}
		data[key] = value
	}
	return data, nil
}

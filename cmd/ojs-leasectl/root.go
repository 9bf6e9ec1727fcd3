package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/openjobspec/ojs-lease/internal/client"
)

type rootOptions struct {
	server string
	apiKey string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:          "ojs-leasectl",
		Short:        "Operate an OJS external task lease server",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr("OJS_URL", "http://localhost:8080"), "base URL of the lease server")
	rootCmd.PersistentFlags().StringVar(&opts.apiKey, "api-key", os.Getenv("OJS_API_KEY"), "API key sent as a bearer token")

	newClient := func() *client.Client {
		return client.New(opts.server, client.WithAPIKey(opts.apiKey))
	}

	rootCmd.AddCommand(enqueueCmd(newClient))
	rootCmd.AddCommand(fetchCmd(newClient))
	rootCmd.AddCommand(completeCmd(newClient))
	rootCmd.AddCommand(failCmd(newClient))
	rootCmd.AddCommand(deadLetterCmd(newClient))
	rootCmd.AddCommand(eventsCmd())
	return rootCmd
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseVariables(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var vars map[string]any
	if err := json.Unmarshal([]byte(raw), &vars); err != nil {
		return nil, err
	}
	return vars, nil
}

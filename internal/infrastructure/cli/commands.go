package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/doeshing/cadsmith/internal/domain"
)

var (
	errHistoryDisabled = errors.New("history is disabled in config")
	errCacheDisabled   = errors.New("cache is disabled in config")
)

func (a *App) newDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose configuration, kernel and storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.container.DoctorService.Run(cmd.Context())
			renderHealthReport(cmd.OutOrStdout(), report)
			if err != nil {
				return err
			}
			if report.Status() == domain.HealthError {
				return errors.New("doctor found problems")
			}
			return nil
		},
	}
}

func (a *App) newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect cadsmith configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.showConfig(cmd.OutOrStdout())
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show full configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.showConfig(cmd.OutOrStdout())
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value by dotted path (e.g. generation.max_attempts)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := configTree(a.container.Config)
			if err != nil {
				return err
			}
			value, ok := traverseKey(tree, strings.Split(args[0], "."))
			if !ok {
				return fmt.Errorf("key %s not found", args[0])
			}
			data, err := yaml.Marshal(value)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), a.container.ConfigLoader.Path())
			return nil
		},
	}

	configCmd.AddCommand(showCmd, getCmd, pathCmd)
	return configCmd
}

func (a *App) showConfig(out io.Writer) error {
	data, err := yaml.Marshal(a.container.Config)
	if err != nil {
		return err
	}
	fmt.Fprint(out, string(data))
	return nil
}

// configTree converts cfg into nested maps keyed by the yaml names.
func configTree(cfg domain.Config) (interface{}, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree interface{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func traverseKey(data interface{}, path []string) (interface{}, bool) {
	if len(path) == 0 {
		return data, true
	}
	node, ok := data.(map[string]interface{})
	if !ok {
		return nil, false
	}
	next, ok := node[path[0]]
	if !ok {
		return nil, false
	}
	return traverseKey(next, path[1:])
}

func (a *App) newHistoryCommand() *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past generation runs",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := a.container.HistoryStore
			if store == nil {
				return errHistoryDisabled
			}
			records, err := store.Records(cmd.Context(), limit, "")
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), records)
			return nil
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 20, "Max entries to show")

	searchCmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Search prompts and programs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := a.container.HistoryStore
			if store == nil {
				return errHistoryDisabled
			}
			records, err := store.Records(cmd.Context(), limit, strings.Join(args, " "))
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), records)
			return nil
		},
	}
	searchCmd.Flags().IntVar(&limit, "limit", 20, "Max entries to show")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all history",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.container.HistoryStore == nil {
				return errHistoryDisabled
			}
			return a.container.HistoryStore.Clear(cmd.Context())
		},
	}

	exportCmd := &cobra.Command{
		Use:   "export <path>",
		Short: "Write history as JSON lines (use - for stdout)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := a.container.HistoryStore
			if store == nil {
				return errHistoryDisabled
			}
			records, err := store.Records(cmd.Context(), 0, "")
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if args[0] != "-" {
				f, err := os.OpenFile(args[0], os.O_CREATE|os.O_TRUNC|os.O_WRONLY, domain.SecureFilePermissions)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			enc := json.NewEncoder(out)
			for _, rec := range records {
				if err := enc.Encode(rec); err != nil {
					return err
				}
			}
			return nil
		},
	}

	historyCmd.AddCommand(listCmd, searchCmd, clearCmd, exportCmd)
	return historyCmd
}

func printRecords(out io.Writer, records []domain.HistoryRecord) {
	for _, rec := range records {
		fmt.Fprintf(out, "%s | %s | %s | %s | %s\n",
			rec.Timestamp.Local().Format(time.RFC3339),
			rec.RunID,
			rec.Model,
			rec.Outcome,
			rec.Prompt)
	}
}

func (a *App) newCacheCommand() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the program cache",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.container.CacheStore == nil {
				return errCacheDisabled
			}
			entries, err := a.container.CacheStore.Entries(cmd.Context())
			if err != nil {
				return err
			}
			for _, entry := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s | %s | %s | %s\n",
					shortKey(entry.Key), entry.Model, entry.CreatedAt.Local().Format(time.RFC3339), entry.Prompt)
			}
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached program",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.container.CacheStore == nil {
				return errCacheDisabled
			}
			return a.container.CacheStore.Clear(cmd.Context())
		},
	}

	cacheCmd.AddCommand(listCmd, clearCmd)
	return cacheCmd
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}

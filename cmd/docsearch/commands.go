package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperjump/docsearch/internal/cli"
	"github.com/hyperjump/docsearch/internal/manager"
	"github.com/hyperjump/docsearch/internal/models"
)

// withManager opens the index, runs fn, and closes the index.
func (a *app) withManager(fn func(m *manager.Manager, format cli.OutputFormat) error) error {
	format, err := a.format()
	if err != nil {
		return err
	}
	m, err := a.open()
	if err != nil {
		return err
	}
	runErr := fn(m, format)
	if closeErr := m.Close(); closeErr != nil && runErr == nil {
		runErr = closeErr
	}
	return runErr
}

func newBuildCmd(a *app) *cobra.Command {
	var req models.BuildRequest
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Index the corpus, or one technology of it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withManager(func(m *manager.Manager, format cli.OutputFormat) error {
				report, err := m.Build(cmd.Context(), req)
				if err != nil {
					return err
				}
				return cli.WriteReport(cmd.OutOrStdout(), report, format)
			})
		},
	}
	cmd.Flags().StringVar(&req.TechFilter, "tech", "", "only build this technology")
	cmd.Flags().BoolVar(&req.Clear, "clear", false, "drop the scope's chunks before building")
	return cmd
}

func newSearchCmd(a *app) *cobra.Command {
	var query models.SearchQuery
	var serverURL string
	cmd := &cobra.Command{
		Use:   "search [flags] <query...>",
		Short: "Run a hybrid query",
		Long: `Run a hybrid BM25 and semantic query. The query is all remaining
arguments joined by spaces, so quoting is optional.`,
		Example: `  docsearch search ForeignKey on_delete
  docsearch search --tech react --component hooks "state updates"
  docsearch search --server http://localhost:8080 -o json middleware`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query.Query = buildSearchQuery(args)
			format, err := a.format()
			if err != nil {
				return err
			}
			if serverURL != "" {
				resp, err := searchViaHTTP(cmd.Context(), serverURL, query)
				if err != nil {
					return err
				}
				return cli.WriteSearchResults(cmd.OutOrStdout(), resp, format)
			}
			return a.withManager(func(m *manager.Manager, format cli.OutputFormat) error {
				resp, err := m.Search(cmd.Context(), query)
				if err != nil {
					return err
				}
				return cli.WriteSearchResults(cmd.OutOrStdout(), resp, format)
			})
		},
	}
	cmd.Flags().StringVar(&query.Tech, "tech", "", "restrict results to one technology")
	cmd.Flags().StringVar(&query.Component, "component", "", "restrict results to one component")
	cmd.Flags().IntVarP(&query.TopK, "top-k", "k", 0, "number of results (0 uses the configured default)")
	cmd.Flags().StringVar(&serverURL, "server", "", "query a running server instead of opening the index")
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <chunk-id>",
		Short: "Print one chunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(func(m *manager.Manager, format cli.OutputFormat) error {
				chunk, err := m.GetChunk(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return cli.WriteChunk(cmd.OutOrStdout(), chunk, format)
			})
		},
	}
}

func newTechsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "techs",
		Short: "List technologies with indexed chunks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withManager(func(m *manager.Manager, format cli.OutputFormat) error {
				techs, err := m.ListTechnologies(cmd.Context())
				if err != nil {
					return err
				}
				if format == cli.OutputJSON {
					if techs == nil {
						techs = []string{}
					}
					return cli.WriteJSON(cmd.OutOrStdout(), techs)
				}
				for _, t := range techs {
					fmt.Fprintln(cmd.OutOrStdout(), t)
				}
				return nil
			})
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withManager(func(m *manager.Manager, format cli.OutputFormat) error {
				stats, err := m.Stats(cmd.Context())
				if err != nil {
					return err
				}
				return cli.WriteStats(cmd.OutOrStdout(), stats, format)
			})
		},
	}
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Compare the cache with the keyword and vector indices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withManager(func(m *manager.Manager, format cli.OutputFormat) error {
				result, err := m.Check(cmd.Context())
				if err != nil {
					return err
				}
				if err := cli.WriteCheck(cmd.OutOrStdout(), result, format); err != nil {
					return err
				}
				if !result.Consistent() {
					return fmt.Errorf("index is inconsistent: %d problems", len(result.Inconsistencies))
				}
				return nil
			})
		},
	}
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func searchViaHTTP(ctx context.Context, serverURL string, query models.SearchQuery) (*models.SearchResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(serverURL, "/")+"/api/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

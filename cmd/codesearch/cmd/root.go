// Package cmd provides the CLI commands for codesearch.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aman-cerp/codesearch/internal/config"
	"github.com/aman-cerp/codesearch/internal/embed"
	"github.com/aman-cerp/codesearch/internal/errkind"
	"github.com/aman-cerp/codesearch/internal/logging"
	"github.com/aman-cerp/codesearch/internal/mcp"
	"github.com/aman-cerp/codesearch/internal/orchestrator"
	"github.com/aman-cerp/codesearch/internal/resultfmt"
	"github.com/aman-cerp/codesearch/internal/scanner"
	"github.com/aman-cerp/codesearch/pkg/version"
)

// searchOptions holds the flags shared by the root command and the
// explicit `search` subcommand.
type searchOptions struct {
	path     string
	maxLines int
	excludes []string
	limit    int
	mcp      bool
}

func addSearchFlags(cmd *cobra.Command, opts *searchOptions) {
	cmd.Flags().StringVar(&opts.path, "path", ".", "repository root (default: current working directory)")
	cmd.Flags().IntVar(&opts.maxLines, "max-lines", 0, "heuristic chunk ceiling (default 60)")
	cmd.Flags().StringArrayVar(&opts.excludes, "exclude", nil, "glob exclusion pattern (repeatable)")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "result cap (default: env CODE_SEARCH_LIMIT, else 10)")
	cmd.Flags().BoolVar(&opts.mcp, "mcp", false, "start the JSON-RPC-over-stdio server instead of running a one-shot query")
}

// NewRootCmd builds the codesearch root command: a positional query, the
// `search` subcommand as an explicit alias, and `--mcp` to switch to
// server mode.
func NewRootCmd() *cobra.Command {
	var opts searchOptions

	root := &cobra.Command{
		Use:           "codesearch [query]",
		Short:         "Local semantic code search",
		Long:          "codesearch indexes a repository on disk and answers natural-language or code queries with ranked code chunks, combining dense-vector similarity with lexical boosting.",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.mcp {
				return runServe(cmd.Context(), &opts)
			}
			if len(args) == 0 {
				return cmd.Help()
			}
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), &opts)
		},
	}
	addSearchFlags(root, &opts)
	root.SetVersionTemplate("codesearch version {{.Version}}\n")

	root.AddCommand(newSearchCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed repository",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), &opts)
		},
	}
	addSearchFlags(cmd, &opts)
	return cmd
}

// Execute runs the root command and returns the process exit code:
// 0 success, 1 invalid arguments, 2 index/I-O failure, 3 model load
// failure.
func Execute() int {
	root := NewRootCmd()
	err := root.Execute()
	return exitCodeFor(err)
}

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errkind.ErrModelLoad):
		fmt.Fprintln(os.Stderr, err)
		return 3
	case errors.Is(err, errkind.ErrStore):
		fmt.Fprintln(os.Stderr, err)
		return 2
	case errors.Is(err, errkind.ErrEmbedding):
		fmt.Fprintln(os.Stderr, err)
		return 2
	case errors.Is(err, errkind.ErrInvalidQuery):
		fmt.Fprintln(os.Stderr, err)
		return 1
	default:
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
}

// loadConfig resolves the effective config for repoRoot and layers the
// flag overrides searchOptions carries on top of it.
func loadConfig(opts *searchOptions) (*config.Config, string, error) {
	root := opts.path
	if root == "" {
		root = "."
	}
	absRoot, err := resolveRoot(root)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(absRoot)
	if err != nil {
		return nil, "", err
	}

	if opts.maxLines > 0 {
		cfg.MaxLines = opts.maxLines
	}
	if len(opts.excludes) > 0 {
		cfg.Excludes = append(cfg.Excludes, opts.excludes...)
	}
	if opts.limit != 0 {
		cfg.Limit = opts.limit
	}
	return cfg, absRoot, nil
}

func buildOrchestrator(ctx context.Context, cfg *config.Config) (*orchestrator.Orchestrator, error) {
	sc, err := scanner.New()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errkind.ErrScan, err)
	}

	embed.SetONNXConfig(embed.ONNXConfig{ModelDir: cfg.Embedding.ModelDir})
	embedder, err := embed.NewEmbedder(ctx, embed.ParseProvider(cfg.Embedding.Provider))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errkind.ErrModelLoad, err)
	}

	return orchestrator.New(sc, embedder, cfg), nil
}

// runSearch performs one CLI invocation of the orchestrator's search
// operation and prints the results in the shared textual format.
func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts *searchOptions) error {
	cfg, repoRoot, err := loadConfig(opts)
	if err != nil {
		return err
	}

	orch, err := buildOrchestrator(ctx, cfg)
	if err != nil {
		return err
	}
	defer orch.Close()

	results, err := orch.Search(ctx, repoRoot, query, cfg.MaxLines, cfg.Excludes, cfg.Limit)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), resultfmt.Format(query, results))
	return nil
}

// runServe starts the JSON-RPC-over-stdio server (--mcp).
// Each tool call resolves its own repository_path; the orchestrator keeps
// Store handles open across calls for the process lifetime.
func runServe(ctx context.Context, opts *searchOptions) error {
	cfg, _, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false // logs go to the log file only; stdout belongs to the JSON-RPC transport
	if logger, cleanup, logErr := logging.Setup(logCfg); logErr == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	orch, err := buildOrchestrator(ctx, cfg)
	if err != nil {
		return err
	}
	defer orch.Close()

	slog.Info("mcp_serve_start", slog.String("path", opts.path))
	server := mcp.NewServer(orch, cfg)
	return server.Run(ctx)
}

func resolveRoot(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: resolving --path: %v", errkind.ErrInvalidQuery, err)
	}
	return abs, nil
}

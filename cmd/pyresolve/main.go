package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aboutcode-org/pyresolve/internal/config"
	"github.com/aboutcode-org/pyresolve/internal/orchestrator"
	"github.com/aboutcode-org/pyresolve/internal/output"
)

var version = "0.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:           "pyresolve [specifiers...]",
		Short:         "Resolve the transitive dependency closure of Python requirements",
		Long:          "pyresolve resolves a set of Python package requirements against a target runtime profile, producing a deterministic pinned dependency graph.",
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runResolve,
	}

	rootCmd.Flags().StringArrayP("requirement", "r", nil, "requirements.txt path (repeatable)")
	rootCmd.Flags().String("setup-py", "", "setup.py path")
	rootCmd.Flags().String("python", "", "target Python version, e.g. 310 or 3.10 (default: from config)")
	rootCmd.Flags().String("os", "linux", "target operating system: linux, macos, or windows")
	rootCmd.Flags().StringArray("index-url", nil, "PEP 503 index base URL (repeatable)")
	rootCmd.Flags().String("netrc-file", "", "explicit netrc path (default: ~/.netrc then ~/_netrc)")
	rootCmd.Flags().Int("max-rounds", 200000, "maximum resolver rounds before giving up")
	rootCmd.Flags().Bool("use-cached-index", false, "serve index pages from cache without refetching")
	rootCmd.Flags().Bool("use-pypi-json-api", false, "bypass simple indexes, use the PyPI JSON API for version and dependency discovery")
	rootCmd.Flags().Bool("analyze-setup-py-insecurely", false, "allow live evaluation of a setup.py that cannot be read statically")
	rootCmd.Flags().Bool("prefer-source", false, "prefer the sdist URL in emitted package metadata")
	rootCmd.Flags().Bool("tree", false, "print a pipdeptree-style dependency tree instead of a flat list")
	rootCmd.Flags().Bool("ignore-errors", false, "continue past packages with no resolvable versions")
	rootCmd.Flags().BoolP("verbose", "v", false, "raise log level to debug")
	rootCmd.Flags().Bool("json", false, "emit machine-readable JSON instead of the human printer")
	rootCmd.Flags().String("cache-dir", "", "override the persistent cache directory")

	return rootCmd.Execute()
}

// resolveFlags holds the parsed CLI flags for the root command, following
// cmd/pipg's installFlags/parseInstallFlags pattern.
type resolveFlags struct {
	requirementsFiles       []string
	setupPyPath             string
	pythonVersion           string
	operatingSystem         string
	indexURLs               []string
	netrcFile               string
	maxRounds               int
	useCachedIndex          bool
	usePyPIJSONAPI          bool
	analyzeSetupPyInsecurely bool
	preferSource            bool
	tree                    bool
	ignoreErrors            bool
	verbose                 bool
	jsonOutput              bool
	cacheDir                string
}

func parseResolveFlags(cmd *cobra.Command) resolveFlags {
	requirementsFiles, _ := cmd.Flags().GetStringArray("requirement")
	setupPyPath, _ := cmd.Flags().GetString("setup-py")
	pythonVersion, _ := cmd.Flags().GetString("python")
	operatingSystem, _ := cmd.Flags().GetString("os")
	indexURLs, _ := cmd.Flags().GetStringArray("index-url")
	netrcFile, _ := cmd.Flags().GetString("netrc-file")
	maxRounds, _ := cmd.Flags().GetInt("max-rounds")
	useCachedIndex, _ := cmd.Flags().GetBool("use-cached-index")
	usePyPIJSONAPI, _ := cmd.Flags().GetBool("use-pypi-json-api")
	analyzeSetupPyInsecurely, _ := cmd.Flags().GetBool("analyze-setup-py-insecurely")
	preferSource, _ := cmd.Flags().GetBool("prefer-source")
	tree, _ := cmd.Flags().GetBool("tree")
	ignoreErrors, _ := cmd.Flags().GetBool("ignore-errors")
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	cacheDir, _ := cmd.Flags().GetString("cache-dir")

	return resolveFlags{
		requirementsFiles, setupPyPath, pythonVersion, operatingSystem, indexURLs, netrcFile,
		maxRounds, useCachedIndex, usePyPIJSONAPI, analyzeSetupPyInsecurely, preferSource,
		tree, ignoreErrors, verbose, jsonOutput, cacheDir,
	}
}

func runResolve(cmd *cobra.Command, args []string) error {
	start := time.Now()
	flags := parseResolveFlags(cmd)

	logger := newLogger(flags.verbose)

	cfg := config.Load(config.Flags{
		DefaultPythonVersion:       flags.pythonVersion,
		IndexURL:                   firstOr(flags.indexURLs, ""),
		ExtraIndexURLs:             restOr(flags.indexURLs),
		UseOnlyConfiguredIndexURLs: len(flags.indexURLs) > 0,
		CacheDir:                   flags.cacheDir,
		NetrcFile:                  flags.netrcFile,
	})

	pythonVersion := flags.pythonVersion
	if pythonVersion == "" {
		pythonVersion = cfg.DefaultPythonVersion
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	o, err := orchestrator.New(
		orchestrator.WithLogger(logger),
		orchestrator.WithCacheDir(cfg.CacheDir),
		orchestrator.WithNetrcFile(cfg.NetrcFile),
		orchestrator.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
	)
	if err != nil {
		return fmt.Errorf("building orchestrator: %w", err)
	}

	req := orchestrator.Request{
		RequirementsFiles:          flags.requirementsFiles,
		SetupPyPath:                flags.setupPyPath,
		Specifiers:                 args,
		PythonVersion:              pythonVersion,
		OperatingSystem:            flags.operatingSystem,
		IndexURLs:                  cfg.IndexURLs(),
		UseOnlyConfiguredIndexURLs: cfg.UseOnlyConfiguredIndexURLs,
		NetrcFile:                  cfg.NetrcFile,
		MaxRounds:                  flags.maxRounds,
		UsePyPIJSONAPI:             flags.usePyPIJSONAPI,
		AnalyzeSetupPyInsecurely:   flags.analyzeSetupPyInsecurely,
		PreferSource:               flags.preferSource,
		IgnoreErrors:               flags.ignoreErrors,
	}

	logger.Debug("resolving", slog.String("python", pythonVersion), slog.String("os", flags.operatingSystem))

	result, err := o.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("resolving dependencies: %w", err)
	}

	if flags.jsonOutput {
		if err := printJSON(result, flags.tree); err != nil {
			return err
		}
	} else if flags.tree {
		printTree(output.Tree(result.Resolution))
	} else {
		printFlat(output.Flat(result.Resolution))
	}

	logger.Debug("done", slog.Duration("elapsed", time.Since(start)))

	return nil
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

func firstOr(urls []string, fallback string) string {
	if len(urls) == 0 {
		return fallback
	}

	return urls[0]
}

func restOr(urls []string) []string {
	if len(urls) <= 1 {
		return nil
	}

	return urls[1:]
}

func printFlat(entries []output.FlatEntry) {
	for _, e := range entries {
		if len(e.Dependencies) == 0 {
			fmt.Println(e.Package)

			continue
		}

		fmt.Printf("%s -> %s\n", e.Package, strings.Join(e.Dependencies, ", "))
	}
}

func printTree(nodes []output.TreeNode) {
	for _, n := range nodes {
		printTreeNode(n, 0)
	}
}

func printTreeNode(n output.TreeNode, depth int) {
	fmt.Printf("%s%s\n", strings.Repeat("  ", depth), n.Package)

	for _, child := range n.Dependencies {
		printTreeNode(child, depth+1)
	}
}

type jsonOutput struct {
	Files    []string               `json:"files"`
	Packages []orchestrator.PackageData `json:"packages"`
	Tree     []output.TreeNode      `json:"tree,omitempty"`
	Flat     []output.FlatEntry     `json:"flat,omitempty"`
}

func printJSON(result *orchestrator.Result, tree bool) error {
	out := jsonOutput{
		Files:    result.Files,
		Packages: result.Packages,
	}

	if tree {
		out.Tree = output.Tree(result.Resolution)
	} else {
		out.Flat = output.Flat(result.Resolution)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

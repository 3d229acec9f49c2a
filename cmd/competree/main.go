// Package main provides the competree CLI, which drives the competence
// tree viewer headlessly: layout, SVG snapshots, a live websocket display,
// benchmarks and cache maintenance.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/cache"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/config"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/governor"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/interact"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/layout"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/offload"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/remote"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/render"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/store"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/tree"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/view"
)

// Version is the current competree version.
var Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "competree",
	Short:   "Competence tree layout and rendering",
	Long:    `competree lays out competence trees, renders them to SVG or a live websocket display, and manages the local layout cache.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if debugFlag {
			log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		}
		return nil
	},
	SilenceUsage: true,
}

var layoutCmd = &cobra.Command{
	Use:   "layout [tree-id]",
	Short: "Compute node positions and print them as JSON",
	Long: `Compute positions for a tree and print the positioned snapshot as JSON.

The tree is read from --file, or fetched from the server by id.

Examples:
  competree layout --file tree.json
  competree layout career-42 --out positions.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLayout,
}

var renderCmd = &cobra.Command{
	Use:   "render [tree-id]",
	Short: "Render one frame of a tree to an SVG file",
	Long: `Render one frame of a tree to an SVG file.

The full view pipeline runs: cache lookup, background layout, spatial
culling and the renderer the governor selects.

Examples:
  competree render --file tree.json --out tree.svg
  competree render career-42 --zoom 0.6`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRender,
}

var viewCmd = &cobra.Command{
	Use:   "view <tree-id>",
	Short: "Stream a tree to a websocket display",
	Long: `Connect to a display over a websocket, stream frames to it and apply
its pointer, wheel and key events until the display disconnects or the
process is interrupted.

Example:
  competree view career-42 --display ws://localhost:9000/display`,
	Args: cobra.ExactArgs(1),
	RunE: runView,
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark layout, culling and strategy selection on a synthetic tree",
	RunE:  runBench,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Layout cache commands",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show what the persistent cache holds",
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached layout",
	RunE:  runCacheClear,
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge <glob>",
	Short: "Remove cached layouts whose key matches a glob",
	Long: `Remove cached layouts whose key matches a glob.

Keys look like "layout:<tree-id>".

Examples:
  competree cache purge 'layout:career-*'
  competree cache purge '**'`,
	Args: cobra.ExactArgs(1),
	RunE: runCachePurge,
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Access token commands",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store an access token",
	RunE:  runAuthLogin,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored access token state",
	RunE:  runAuthStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "competree %s\n", Version)
	},
}

var (
	configPath string
	serverFlag string
	dataFlag   string
	debugFlag  bool

	treeFile string
	outPath  string

	renderZoom     float64
	renderStrategy string

	displayURL string
	fps        int

	benchNodes   int
	benchAnchors int
	benchFrameMS float64
	benchSeed    int64

	loginToken string
	loginEmail string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (overrides COMPETREE_* environment)")
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "Backend API base URL")
	rootCmd.PersistentFlags().StringVar(&dataFlag, "data", "", "Cache directory (\"-\" for memory only)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Verbose logging")

	layoutCmd.Flags().StringVar(&treeFile, "file", "", "Read the tree from a JSON file instead of the server")
	layoutCmd.Flags().StringVarP(&outPath, "out", "o", "", "Write JSON here instead of stdout")

	renderCmd.Flags().StringVar(&treeFile, "file", "", "Read the tree from a JSON file instead of the server")
	renderCmd.Flags().StringVarP(&outPath, "out", "o", "", "SVG output path (default <tree-id>.svg)")
	renderCmd.Flags().Float64Var(&renderZoom, "zoom", 1, "Zoom level, anchored at the screen centre")
	renderCmd.Flags().StringVar(&renderStrategy, "strategy", "gpu", "Renderer strategy: gpu, simplified or minimal")

	viewCmd.Flags().StringVar(&displayURL, "display", "ws://localhost:9000/display", "Display websocket URL")
	viewCmd.Flags().IntVar(&fps, "fps", 60, "Target frame rate")

	benchCmd.Flags().IntVar(&benchNodes, "nodes", 500, "Number of synthetic nodes")
	benchCmd.Flags().IntVar(&benchAnchors, "anchors", 3, "Number of anchor nodes")
	benchCmd.Flags().Float64Var(&benchFrameMS, "frame-ms", 16.7, "Simulated frame time in milliseconds")
	benchCmd.Flags().Int64Var(&benchSeed, "seed", 1, "Random seed for the synthetic tree")

	authLoginCmd.Flags().StringVar(&loginToken, "token", "", "Access token to store")
	authLoginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email, for display")
	authLoginCmd.MarkFlagRequired("token")

	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd, cachePurgeCmd)
	authCmd.AddCommand(authLoginCmd, authStatusCmd)
	rootCmd.AddCommand(layoutCmd, renderCmd, viewCmd, benchCmd, cacheCmd, authCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads environment and file configuration, then applies
// command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if serverFlag != "" {
		cfg.ServerURL = serverFlag
	}
	switch dataFlag {
	case "":
	case "-":
		cfg.DataDir = ""
	default:
		cfg.DataDir = dataFlag
	}
	if debugFlag {
		cfg.Debug = true
	}
	cfg.Version = Version
	return cfg, nil
}

// backend bundles the stores behind the cache and saved nodes.
type backend struct {
	db    *store.DB
	cache *cache.Cache
	saved view.SavedStore
}

func openBackend(cfg *config.Config) (*backend, error) {
	b := &backend{}
	var persist cache.Store
	if cfg.DataDir != "" {
		db, err := store.OpenDir(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		b.db = db
		persist = db
		b.saved = db
	} else {
		mem := store.NewMemory()
		persist = mem
		b.saved = mem
	}

	c, err := cache.New(persist, cache.Config{
		MaxEntries: cfg.CacheMaxEntries,
		TTL:        cfg.CacheTTL,
	})
	if err != nil {
		b.Close()
		return nil, err
	}
	b.cache = c
	return b, nil
}

func (b *backend) Close() error {
	if b.cache != nil {
		b.cache.Close()
	}
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// fileFetcher serves a single tree read from a JSON file.
type fileFetcher struct {
	path string
}

func (f fileFetcher) FetchTree(ctx context.Context, treeID, token string) (*tree.Data, error) {
	return readTreeFile(f.path)
}

func readTreeFile(path string) (*tree.Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tree: %w", err)
	}
	var d tree.Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("parsing tree %s: %w: %v", path, remote.ErrMalformed, err)
	}
	if d.TreeID == "" {
		d.TreeID = treeIDFromPath(path)
	}
	return &d, nil
}

func treeIDFromPath(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

// staticToken is used for file-backed trees, which need no credentials.
type staticToken string

func (s staticToken) Token() (string, error) { return string(s), nil }

// source resolves where a command reads its tree from.
func source(cfg *config.Config, args []string) (treeID string, fetcher view.Fetcher, completer view.Completer, tokens view.TokenSource, err error) {
	if treeFile != "" {
		d, err := readTreeFile(treeFile)
		if err != nil {
			return "", nil, nil, nil, err
		}
		return d.TreeID, fileFetcher{path: treeFile}, nil, staticToken(""), nil
	}
	if len(args) == 0 {
		return "", nil, nil, nil, fmt.Errorf("a tree id or --file is required")
	}
	client := remote.NewClient(cfg.ServerURL)
	return args[0], client, client, remote.NewTokenProvider(credentialsPath(cfg)), nil
}

func newExecutor(cfg *config.Config) *offload.Executor {
	eng := layout.New(layout.Config{Width: cfg.ViewportWidth, Height: cfg.ViewportHeight})
	return offload.New(offload.Config{
		Timeout: cfg.LayoutTimeout,
		Workers: cfg.LayoutWorkers,
		Layout: func(nodes []tree.Node, edges []tree.Edge, cx, cy float64) []tree.Node {
			return eng.Layout(nodes, edges, cx, cy).Nodes
		},
	})
}

func newGovernor(cfg *config.Config) *governor.Governor {
	return governor.New(governor.Config{
		Window:   cfg.GovernorWindow,
		Interval: cfg.GovernorInterval,
		Caps:     cfg.NodeCaps,
		Debug:    cfg.Debug,
	})
}

func newView(cfg *config.Config, b *backend, surface render.Surface, fetcher view.Fetcher, completer view.Completer, tokens view.TokenSource, gov *governor.Governor) (*view.View, error) {
	return view.New(view.Deps{
		Fetcher:   fetcher,
		Completer: completer,
		Tokens:    tokens,
		Saved:     b.saved,
		Cache:     b.cache,
		Executor:  newExecutor(cfg),
		Governor:  gov,
		Surface:   surface,
	}, view.Options{
		GridSize: cfg.GridSize,
		Limits:   interact.Limits{MinZoom: cfg.MinZoom, MaxZoom: cfg.MaxZoom},
		Throttle: cfg.Throttle,
		Debug:    cfg.Debug,
	})
}

func runLayout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	treeID, fetcher, _, tokens, err := source(cfg, args)
	if err != nil {
		return err
	}
	token, err := tokens.Token()
	if err != nil {
		return err
	}
	data, err := fetcher.FetchTree(ctx, treeID, token)
	if err != nil {
		return err
	}
	if dropped := tree.Sanitize(data); dropped > 0 {
		log.Printf("dropped %d dangling edges", dropped)
	}
	hash, err := tree.Digest(data.Nodes, data.Edges)
	if err != nil {
		return err
	}

	eng := layout.New(layout.Config{Width: cfg.ViewportWidth, Height: cfg.ViewportHeight})
	start := time.Now()
	res := eng.Layout(data.Nodes, data.Edges, cfg.ViewportWidth/2, cfg.ViewportHeight/2)
	if cfg.Debug {
		log.Printf("layout of %d nodes took %v: %d levels, %d orphans",
			len(data.Nodes), time.Since(start), res.Levels, res.Orphans)
	}

	snap := &tree.Snapshot{
		TreeID:    treeID,
		Nodes:     res.Nodes,
		Edges:     data.Edges,
		Hash:      hash,
		NodeCount: len(res.Nodes),
	}
	return writeOutput(cmd, outPath, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	})
}

// writeOutput writes to path, or to the command's output when path is
// empty.
func writeOutput(cmd *cobra.Command, path string, write func(io.Writer) error) error {
	if path == "" {
		return write(cmd.OutOrStdout())
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func parseStrategy(s string) (governor.Strategy, error) {
	switch s {
	case "gpu":
		return governor.StrategyGPU, nil
	case "simplified":
		return governor.StrategySimplified, nil
	case "minimal":
		return governor.StrategyMinimal, nil
	}
	return 0, fmt.Errorf("unknown strategy %q (want gpu, simplified or minimal)", s)
}

// forceStrategy feeds the governor a full window of frames at a rate that
// selects s.
func forceStrategy(gov *governor.Governor, s governor.Strategy, window int) {
	frame := 10 * time.Millisecond
	switch s {
	case governor.StrategySimplified:
		frame = 40 * time.Millisecond
	case governor.StrategyMinimal:
		frame = 100 * time.Millisecond
	}
	for i := 0; i < window; i++ {
		gov.RecordFrame(frame)
	}
	gov.Evaluate()
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	strategy, err := parseStrategy(renderStrategy)
	if err != nil {
		return err
	}
	treeID, fetcher, completer, tokens, err := source(cfg, args)
	if err != nil {
		return err
	}

	b, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	surface := render.NewSVGSurface(cfg.ViewportWidth, cfg.ViewportHeight)
	gov := newGovernor(cfg)
	forceStrategy(gov, strategy, cfg.GovernorWindow)

	v, err := newView(cfg, b, surface, fetcher, completer, tokens, gov)
	if err != nil {
		return err
	}
	defer v.Unmount()

	if err := v.Mount(cmd.Context(), treeID, view.Callbacks{}); err != nil {
		return err
	}
	if renderZoom != 1 {
		v.Controller().Dispatch(interact.Wheel{
			X:     cfg.ViewportWidth / 2,
			Y:     cfg.ViewportHeight / 2,
			Delta: -zoomDelta(renderZoom),
		})
	}
	stats, err := v.Frame(time.Now())
	if err != nil {
		return err
	}

	if outPath == "" {
		outPath = treeID + ".svg"
	}
	if err := writeOutput(cmd, outPath, func(w io.Writer) error {
		_, err := surface.WriteTo(w)
		return err
	}); err != nil {
		return err
	}

	st := v.Status()
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s: %d of %d nodes, %d edges (%s, cached=%v, fallback=%v)\n",
		outPath, stats.Nodes, st.Nodes, stats.Edges, st.Strategy, st.FromCache, st.Fallback)
	return nil
}

// zoomDelta is the wheel delta that multiplies zoom by factor.
func zoomDelta(factor float64) float64 {
	if factor <= 0 {
		return 0
	}
	return math.Log(factor) / interact.WheelSensitivity
}

func runView(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if fps <= 0 {
		return fmt.Errorf("fps must be positive")
	}
	treeID, fetcher, completer, tokens, err := source(cfg, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	surface, err := render.DialSocket(ctx, displayURL, cfg.ViewportWidth, cfg.ViewportHeight, nil)
	if err != nil {
		return err
	}
	defer surface.Close()

	v, err := newView(cfg, b, surface, fetcher, completer, tokens, newGovernor(cfg))
	if err != nil {
		return err
	}
	defer v.Unmount()

	cb := view.Callbacks{
		OnNodeClick: func(id string) {
			log.Printf("selected %s", id)
		},
		OnNodeComplete: func(id string) {
			log.Printf("completed %s", id)
		},
		OnStrategyChange: func(from, to governor.Strategy) {
			log.Printf("renderer %s -> %s", from, to)
		},
	}
	if err := v.Mount(ctx, treeID, cb); err != nil {
		return err
	}
	log.Printf("viewing %s on %s", treeID, displayURL)

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-surface.Events():
			if !ok {
				log.Printf("display disconnected")
				return nil
			}
			if err := v.HandleEvent(ctx, ev); err != nil {
				log.Printf("handling %s: %v", ev.Kind, err)
			}
		case now := <-ticker.C:
			if _, err := v.Frame(now); err != nil {
				return err
			}
		}
	}
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := credentialsPath(cfg)
	creds := &remote.Credentials{
		AccessToken: loginToken,
		Email:       loginEmail,
		ServerURL:   cfg.ServerURL,
	}
	if exp, ok := remote.Expiry(loginToken); ok {
		creds.ExpiresAt = exp.Unix()
	}
	if err := remote.SaveCredentials(path, creds); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved credentials to %s\n", path)
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	path := credentialsPath(cfg)
	creds, err := remote.LoadCredentials(path)
	if err != nil {
		return err
	}
	if creds == nil && os.Getenv(remote.TokenEnv) == "" {
		fmt.Fprintln(out, "Not logged in.")
		fmt.Fprintln(out, "\nUse 'competree auth login --token <token>' to store a token.")
		return nil
	}
	if creds != nil && creds.Email != "" {
		fmt.Fprintf(out, "Logged in as: %s\n", creds.Email)
	}
	fmt.Fprintf(out, "Server:       %s\n", cfg.ServerURL)

	token, err := remote.NewTokenProvider(path).Token()
	if err != nil {
		fmt.Fprintln(out, "Status:       Token invalid or expired")
		return nil
	}
	if exp, ok := remote.Expiry(token); ok {
		fmt.Fprintf(out, "Status:       Authenticated (expires %s)\n", exp.Local().Format(time.RFC1123))
	} else {
		fmt.Fprintln(out, "Status:       Authenticated")
	}
	return nil
}

func credentialsPath(cfg *config.Config) string {
	if cfg.CredentialsPath != "" {
		return cfg.CredentialsPath
	}
	return remote.DefaultCredentialsPath()
}

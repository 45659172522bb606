// Command poiportal is the map overlay daemon: it drives Chrome onto
// the configured listing pages, projects the POI database onto their
// maps, and serves the control API.
//
// Usage:
//
//	poiportal -config poiportal.yaml        # full daemon from YAML config
//	poiportal -url https://www.redfin.com   # quick single-page run (stdout sink)
//	poiportal -hash-token                   # hash an admin token and exit
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/arpentry/poiportal/connectivity"
	"github.com/arpentry/poiportal/dbopen"
	"github.com/arpentry/poiportal/idgen"
	"github.com/arpentry/poiportal/mapwatch"
	"github.com/arpentry/poiportal/observability"
	"github.com/arpentry/poiportal/poistore"
	"github.com/arpentry/poiportal/shield"
	"github.com/arpentry/poiportal/siteconfig"
	"github.com/arpentry/poiportal/uibridge"
)

// env carries the deployment knobs that don't belong in the page
// config file. Prefix: POIPORTAL_.
type env struct {
	Addr           string `default:":8787"`
	DataDir        string `split_words:"true" default:"data"`
	AdminTokenHash string `split_words:"true"`
	SitesFile      string `split_words:"true"`
}

func main() {
	configPath := flag.String("config", "", "path to poiportal.yaml config file")
	singleURL := flag.String("url", "", "observe a single URL (stdout sink)")
	addr := flag.String("addr", "", "control API listen address (overrides POIPORTAL_ADDR)")
	dataDir := flag.String("data-dir", "", "database directory (overrides POIPORTAL_DATA_DIR)")
	sitesFile := flag.String("sites", "", "site profile YAML to import and watch")
	mcpStdio := flag.Bool("mcp", false, "also serve MCP tools over stdio")
	hashToken := flag.Bool("hash-token", false, "read a token from stdin, print its bcrypt hash, exit")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	if *hashToken {
		if err := runHashToken(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	var e env
	if err := envconfig.Process("poiportal", &e); err != nil {
		logger.Error("poiportal: env", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		e.Addr = *addr
	}
	if *dataDir != "" {
		e.DataDir = *dataDir
	}
	if *sitesFile != "" {
		e.SitesFile = *sitesFile
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, e, *configPath, *singleURL, *mcpStdio); err != nil {
		logger.Error("poiportal: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, e env, configPath, singleURL string, mcpStdio bool) error {
	cfg, err := resolveConfig(configPath, singleURL)
	if err != nil {
		return err
	}

	// POI database.
	pois, err := poistore.Open(filepath.Join(e.DataDir, "pois.db"))
	if err != nil {
		return fmt.Errorf("open poi store: %w", err)
	}
	defer pois.Close()

	// Site profiles. Open seeds the builtin domains on first run.
	sites, err := siteconfig.Open(filepath.Join(e.DataDir, "sites.db"),
		siteconfig.WithStoreLogger(logger))
	if err != nil {
		return fmt.Errorf("open site store: %w", err)
	}
	defer sites.Close()

	if e.SitesFile != "" {
		n, err := sites.ImportFile(ctx, e.SitesFile)
		if err != nil {
			logger.Warn("poiportal: site file import failed", "path", e.SitesFile, "error", err)
		} else {
			logger.Info("poiportal: site profiles imported", "path", e.SitesFile, "count", n)
		}
		go func() {
			if err := sites.WatchFile(ctx, e.SitesFile); err != nil && ctx.Err() == nil {
				logger.Warn("poiportal: site file watch stopped", "error", err)
			}
		}()
	}

	// Operational database: metrics, heartbeats, rate limits, routes.
	opsDB, err := dbopen.Open(filepath.Join(e.DataDir, "ops.db"), dbopen.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("open ops db: %w", err)
	}
	defer opsDB.Close()
	if err := observability.Init(opsDB); err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	if err := shield.Init(opsDB); err != nil {
		return fmt.Errorf("init shield: %w", err)
	}
	if err := connectivity.Init(opsDB); err != nil {
		return fmt.Errorf("init connectivity: %w", err)
	}

	metrics := observability.NewMetricsManager(opsDB, 256, 5*time.Second)
	defer metrics.Close()

	hb := observability.NewHeartbeatWriter(opsDB, "poiportal", time.Minute)
	hb.Start(ctx)
	defer hb.Stop()

	rl := shield.NewRateLimiter(opsDB, "/health", "/api/v1/events")
	rl.StartReloader(ctx.Done())

	// Event hub is built ahead of the bridge so the watcher can carry
	// its sink from the first event.
	hub := uibridge.NewHub(logger)
	sinks := mapwatch.BuildSinks(cfg, logger)
	if singleURL != "" && len(sinks) == 0 {
		sinks = append(sinks, mapwatch.NewStdoutSink(nil))
	}
	sinks = append(sinks, hub.Sink())

	watcher := mapwatch.New(cfg, logger,
		mapwatch.WithSiteStore(sites),
		mapwatch.WithPOIStore(pois),
		mapwatch.WithMetrics(metrics),
		mapwatch.WithSinks(sinks...))

	// Connectivity router: local services plus any routes an operator
	// adds to the ops database.
	router := connectivity.New(connectivity.WithLogger(logger))
	defer router.Close()
	watcher.RegisterConnectivity(router)
	go router.Watch(ctx, opsDB, 30*time.Second)

	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer watcher.Stop()

	bridge := uibridge.New(uibridge.Config{
		Watcher:        watcher,
		POIs:           pois,
		Sites:          sites,
		Hub:            hub,
		AdminTokenHash: e.AdminTokenHash,
		RateLimiter:    rl,
		Logger:         logger,
	})
	defer hub.Close()

	if mcpStdio {
		srv := mcp.NewServer(&mcp.Implementation{
			Name:    "poiportal",
			Version: "1.0.0",
		}, nil)
		bridge.RegisterMCP(srv)
		go func() {
			logger.Info("poiportal: MCP serving on stdio")
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("poiportal: MCP stdio", "error", err)
			}
		}()
	}

	httpSrv := &http.Server{
		Addr:              e.Addr,
		Handler:           bridge.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("poiportal: control API listening", "addr", e.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("poiportal: server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("poiportal: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("poiportal: shutdown", "error", err)
	}
	return nil
}

func resolveConfig(configPath, singleURL string) (*mapwatch.Config, error) {
	if configPath != "" {
		return mapwatch.LoadConfigFile(configPath)
	}
	if singleURL != "" {
		return &mapwatch.Config{
			Pages: []mapwatch.PageConfig{{
				ID:  idgen.New(),
				URL: singleURL,
			}},
		}, nil
	}
	fmt.Fprintln(os.Stderr, "usage: poiportal -config <file> | -url <url> | -hash-token")
	os.Exit(1)
	return nil, nil
}

// runHashToken reads one line from stdin and prints its bcrypt hash,
// for POIPORTAL_ADMIN_TOKEN_HASH.
func runHashToken() error {
	sc := bufio.NewScanner(os.Stdin)
	if !sc.Scan() {
		return fmt.Errorf("hash-token: no input")
	}
	token := strings.TrimSpace(sc.Text())
	if token == "" {
		return fmt.Errorf("hash-token: empty token")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	fmt.Println(string(hash))
	return nil
}

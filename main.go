package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"peer-review-matrix/backend"
	"peer-review-matrix/config"
	"peer-review-matrix/loader"
	"peer-review-matrix/store"
	"peer-review-matrix/templates"
	"peer-review-matrix/termview"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "peer-review-matrix",
	Short: "Peer review distribution matrix for a course assignment",
	Long: `peer-review-matrix fetches who-reviewed-whom grades for an assignment from the
peer-review backend and renders them as a matrix with per-team averages and
outlier highlighting, either as a web page (serve) or once to stdout (render).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		logger, err = newLogger(cfg.Logging, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the matrix page over HTTP",
	Long: `Starts the web service. Pages are served at

  /courses/{courseID}/matrix?assignment=N

and the same data as JSON at /api/courses/{courseID}/assignments/{N}/matrix.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	renderCourse     string
	renderAssignment int
	renderFormat     string
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Fetch one matrix and write it to stdout",
	Long: `Fetches the matrix of one assignment and prints it.

Example:
  peer-review-matrix render --course CSC480 --assignment 2 --format text`,
	Args: cobra.NoArgs,
	RunE: runRender,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "peer-review.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	renderCmd.Flags().StringVar(&renderCourse, "course", "", "course identifier")
	renderCmd.Flags().IntVar(&renderAssignment, "assignment", 1, "1-based assignment index")
	renderCmd.Flags().StringVar(&renderFormat, "format", "text", "output format: text, html or json")
	_ = renderCmd.MarkFlagRequired("course")

	rootCmd.AddCommand(serveCmd, renderCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(lc config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	level := zapcore.InfoLevel
	if lc.Level != "" {
		var err error
		level, err = zapcore.ParseLevel(lc.Level)
		if err != nil {
			return nil, err
		}
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// app holds the wired components shared by the commands.
type app struct {
	client *backend.Client
	store  *store.Store
	loader *loader.Loader
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	client, err := backend.New(backend.Options{
		BaseURL:   cfg.APIBaseURL,
		Token:     cfg.Token,
		Timeout:   cfg.GetRequestTimeout(),
		CacheTTL:  cfg.GetCacheTTL(),
		RateLimit: rate.Limit(cfg.RateLimit.RPS),
		Burst:     cfg.RateLimit.Burst,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	l := loader.New(client, client, loader.Options{
		Snapshots:     st,
		ServeStale:    cfg.ServeStaleData,
		KeepSnapshots: cfg.KeepSnapshots,
		Principal:     client.Principal,
		Logger:        logger,
	})
	return &app{client: client, store: st, loader: l}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newServer(a.loader, logger).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("peer-review-matrix listening", zap.String("addr", cfg.ListenAddr), zap.String("api_base_url", cfg.APIBaseURL))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runRender(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	res, err := a.loader.Load(ctx, loader.Request{CourseID: renderCourse, AssignmentIndex: renderAssignment})
	if err != nil {
		return err
	}
	if !res.Ready() {
		return fmt.Errorf("could not load matrix: %w", res.Matrix.Err)
	}
	if res.Matrix.Stale {
		logger.Warn("backend unavailable, rendering stored matrix",
			zap.Time("fetched_at", res.Matrix.FetchedAt), zap.Error(res.Matrix.Err))
	}

	out := cmd.OutOrStdout()
	switch renderFormat {
	case "text":
		_, err = fmt.Fprint(out, termview.Render(*res.Grid))
		return err
	case "html":
		return templates.MatrixPage(pageData(res)).Render(ctx, out)
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(newMatrixResponse(res))
	default:
		return fmt.Errorf("unknown format %q", renderFormat)
	}
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/serroba/codoc/internal/acl"
	"github.com/serroba/codoc/internal/api"
	"github.com/serroba/codoc/internal/collab"
	"github.com/serroba/codoc/internal/storage"
	"github.com/serroba/codoc/internal/undo"
	"github.com/serroba/codoc/internal/ws"
)

const shutdownTimeout = 5 * time.Second

// serveOptions holds the flags of the serve command.
type serveOptions struct {
	addr          string
	historySize   int
	undoDepth     int
	composeWindow time.Duration
	snapshotEvery int
	logLevel      string
}

func (o serveOptions) validate() error {
	if o.addr == "" {
		return errors.New("--addr must not be empty")
	}

	if o.historySize <= 0 {
		return fmt.Errorf("--history-size must be positive, got %d", o.historySize)
	}

	if o.undoDepth <= 0 {
		return fmt.Errorf("--undo-depth must be positive, got %d", o.undoDepth)
	}

	if o.composeWindow <= 0 {
		return fmt.Errorf("--compose-window must be positive, got %s", o.composeWindow)
	}

	if o.snapshotEvery < 0 {
		return fmt.Errorf("--snapshot-every must not be negative, got %d", o.snapshotEvery)
	}

	return nil
}

func newServeCmd() *cobra.Command {
	opts := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the collaboration server",
		Long: `Run the HTTP and WebSocket server.

Documents are kept in memory and lost when the process exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.validate(); err != nil {
				return err
			}

			logger, err := newLogger(cmd.ErrOrStderr(), opts.logLevel)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cmd.OutOrStdout(), opts, logger)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", ":8080", "Address to listen on")
	flags.IntVar(&opts.historySize, "history-size", 100, "Sequenced operations kept for transforming stale edits")
	flags.IntVar(&opts.undoDepth, "undo-depth", undo.DefaultMaxItems, "Undo and redo entries kept per connection")
	flags.DurationVar(&opts.composeWindow, "compose-window", time.Second,
		"Adjacent edits closer together than this undo as one step")
	flags.IntVar(&opts.snapshotEvery, "snapshot-every", 0, "Snapshot a document every N operations (0 disables)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error")

	return cmd
}

// newHTTPServer wires stores, hub, sessions and routes into a server.
// The returned cleanup closes every open session.
func newHTTPServer(opts serveOptions, logger *slog.Logger) (*http.Server, func() error) {
	store := storage.NewMemoryStore()
	permStore := acl.NewMemoryStore()
	hub := ws.NewHub(ws.WithLogger(logger.With("component", "hub")))

	var policy *storage.SnapshotPolicy
	if opts.snapshotEvery > 0 {
		policy = storage.NewSnapshotPolicy(opts.snapshotEvery)
	}

	manager := collab.NewManager(collab.ManagerConfig{
		Store:          store,
		PermStore:      permStore,
		Hub:            hub,
		SnapshotPolicy: policy,
		HistorySize:    opts.historySize,
		UndoDepth:      opts.undoDepth,
		ComposeWindow:  opts.composeWindow,
		Logger:         logger,
	})

	server := api.NewServer(api.ServerConfig{
		Manager:   manager,
		Store:     store,
		PermStore: permStore,
		Hub:       hub,
		Logger:    logger,
	})

	return &http.Server{
		Addr:              opts.addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}, manager.CloseAll
}

// serve runs the server until ctx is cancelled.
func serve(ctx context.Context, out io.Writer, opts serveOptions, logger *slog.Logger) error {
	httpServer, closeSessions := newHTTPServer(opts, logger)

	errCh := make(chan error, 1)

	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	fmt.Fprintf(out, "%s listening on %s\n", bannerColor.Sprint("codoc"), opts.addr)
	logger.Info("server started",
		"addr", opts.addr,
		"undo_depth", opts.undoDepth,
		"compose_window", opts.composeWindow,
	)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}

	return closeSessions()
}

// Command scmcored runs the source-control core as a standalone process:
// it opens the on-disk stores, wires the pushrebase engine, and serves
// metrics/health over HTTP. Repository-facing wire protocols (LFS batch
// API, Mercurial wire protocol) are server-side concerns layered on top of
// the packages here; this binary is the composition root that proves they
// wire together.
package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/scmforge/scmcore/dag"
	"github.com/scmforge/scmcore/internal/config"
	"github.com/scmforge/scmcore/internal/logging"
	"github.com/scmforge/scmcore/internal/metrics"
	"github.com/scmforge/scmcore/lfs/blobstore"
	lfsclient "github.com/scmforge/scmcore/lfs/client"
	"github.com/scmforge/scmcore/lfs/pointerstore"
	"github.com/scmforge/scmcore/pushrebase"
	"github.com/scmforge/scmcore/store"
)

func main() {
	app := &cli.App{
		Name:  "scmcored",
		Usage: "Bonsai-native source control server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "scmcored.toml", Usage: "path to config TOML"},
			&cli.StringFlag{Name: "data-dir", Value: "./data", Usage: "root directory for on-disk state"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
		},
		Commands: []*cli.Command{
			serveCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "open all stores and serve /metrics and /healthz",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Value: ":9200", Usage: "metrics/health listen address"},
		},
		Action: runServe,
	}
}

// server holds every long-lived handle the process keeps open. Its fields
// aren't yet reachable from an external wire protocol handler (that's the
// next layer up); serve exists to prove the full dependency graph opens,
// wires, and closes cleanly.
type server struct {
	logger     *zap.SugaredLogger
	meters     *metrics.Meters
	blobs      blobstore.Store
	pointers   *pointerstore.Store
	graph      *dag.WriteStore
	lfs        *lfsclient.Client
	engine     *pushrebase.Engine
	bookmarks  *store.BookmarkStore
	changesets *store.ChangesetStore
	hg         *store.HgStore
}

func runServe(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.Wrap(err, "loading config")
		}
		cfg = config.Defaults()
	}

	logger, err := logging.New(logging.Options{Debug: c.Bool("debug")})
	if err != nil {
		return errors.Wrap(err, "building logger")
	}
	defer logger.Sync() //nolint:errcheck

	reg := prometheus.NewRegistry()
	meters := metrics.New(reg)

	dataDir := c.String("data-dir")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return errors.Wrap(err, "creating data dir")
	}

	srv, err := buildServer(cfg, dataDir, logger, meters)
	if err != nil {
		return errors.Wrap(err, "building server")
	}
	defer srv.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	addr := c.String("listen")
	logger.Infow("listening", "addr", addr, "data_dir", dataDir)
	return http.ListenAndServe(addr, mux)
}

func buildServer(cfg config.Config, dataDir string, logger *zap.SugaredLogger, meters *metrics.Meters) (*server, error) {
	loose, err := blobstore.NewLoose(filepath.Join(dataDir, "blobs", "loose"), true)
	if err != nil {
		return nil, errors.Wrap(err, "opening loose blob store")
	}
	chunkLog, err := blobstore.OpenChunkLog(filepath.Join(dataDir, "blobs", "chunklog"), uint64(cfg.LFS.BlobsChunkSize))
	if err != nil {
		return nil, errors.Wrap(err, "opening chunk log")
	}
	caching, err := blobstore.NewCaching(chunkLog, 4096)
	if err != nil {
		return nil, errors.Wrap(err, "wrapping chunk log in cache")
	}
	blobs := &blobstore.Union{Writer: loose, Reader: caching}

	pointers, err := pointerstore.Open(filepath.Join(dataDir, "pointers"))
	if err != nil {
		return nil, errors.Wrap(err, "opening pointer store")
	}

	graph, err := dag.OpenWriteStore(filepath.Join(dataDir, "dag"), 100_000, meters)
	if err != nil {
		return nil, errors.Wrap(err, "opening commit graph")
	}

	lfs := lfsclient.New(cfg.LFS, meters)

	bookmarks, err := store.OpenBookmarkStore(filepath.Join(dataDir, "bookmarks.sqlite"))
	if err != nil {
		return nil, errors.Wrap(err, "opening bookmark store")
	}
	changesets, err := store.OpenChangesetStore(filepath.Join(dataDir, "changesets.sqlite"))
	if err != nil {
		return nil, errors.Wrap(err, "opening changeset store")
	}
	hgStore, err := store.OpenHgStore(filepath.Join(dataDir, "hg.sqlite"))
	if err != nil {
		return nil, errors.Wrap(err, "opening hg store")
	}

	engine := &pushrebase.Engine{
		Store:     changesets,
		Bookmarks: bookmarks,
		Cfg: pushrebase.Config{
			RecursionLimit:             cfg.Pushrebase.RecursionLimit,
			CasefoldingCheck:           cfg.Pushrebase.CasefoldingCheck,
			ForbidP2RootRebases:        cfg.Pushrebase.ForbidP2RootRebases,
			RewriteDates:               cfg.Pushrebase.RewriteDates,
			NotGeneratedFilenodesLimit: cfg.Pushrebase.NotGeneratedFilenodesLimit,
		},
		Meters: meters,
	}

	return &server{
		logger:     logger,
		meters:     meters,
		blobs:      blobs,
		pointers:   pointers,
		graph:      graph,
		lfs:        lfs,
		engine:     engine,
		bookmarks:  bookmarks,
		changesets: changesets,
		hg:         hgStore,
	}, nil
}

func (s *server) Close() {
	if err := s.graph.Close(); err != nil {
		s.logger.Warnw("closing commit graph", "error", err)
	}
	if err := s.pointers.Close(); err != nil {
		s.logger.Warnw("closing pointer store", "error", err)
	}
	if err := s.bookmarks.Close(); err != nil {
		s.logger.Warnw("closing bookmark store", "error", err)
	}
	if err := s.changesets.Close(); err != nil {
		s.logger.Warnw("closing changeset store", "error", err)
	}
	if err := s.hg.Close(); err != nil {
		s.logger.Warnw("closing hg store", "error", err)
	}
}

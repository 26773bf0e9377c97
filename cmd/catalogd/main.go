// Command catalogd serves read-only schema information about one database
// over HTTP, through a single resilient session and its metadata cache.
// Only the sqlserver driver is accepted.
//
// Run with:
//
//	catalogd -config /etc/tessera/catalogd.yaml
//
// Endpoints:
//
//	GET  /healthz
//	GET  /engine
//	GET  /user-options
//	GET  /recovery-model
//	GET  /tables/{table}
//	GET  /tables/{table}/exists
//	GET  /tables/{table}/columns/{column}/exists
//	GET  /tables/{table}/comment?column=name
//	POST /tables/{table}/invalidate
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koustreak/tessera/internal/catalog"
	"github.com/koustreak/tessera/internal/config"
	"github.com/koustreak/tessera/internal/database"
	"github.com/koustreak/tessera/internal/logger"
	"github.com/koustreak/tessera/internal/session"
)

func main() {
	path := flag.String("config", "catalogd.yaml", "path to the YAML config file")
	flag.Parse()

	if err := run(*path); err != nil {
		logger.New(nil).ErrorWith("catalogd stopped", err, nil)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	log := logger.New(cfg.LoggerConfig())
	if err := catalog.Supports(database.Driver(cfg.Database.Driver)); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := cfg.OpenBackend(ctx)
	if err != nil {
		return err
	}
	defer closeBackend()

	conn, err := cfg.Connect(ctx)
	if err != nil {
		return err
	}
	sessCfg, err := cfg.SessionConfig(log, backend)
	if err != nil {
		return err
	}
	sess := session.New(conn, sessCfg)
	defer sess.Close(context.Background())

	cat, err := catalog.New(sess)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           newServer(cat, log).routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("catalogd listening on %s", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

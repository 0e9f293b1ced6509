// Command duxnetd runs a single duxnet marketplace node: it loads
// configuration, wires every component via internal/node, and serves the
// HTTP command surface until interrupted.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"duxnet.io/node/internal/config"
	"duxnet.io/node/internal/httpapi"
	"duxnet.io/node/internal/node"
)

func main() {
	logger := log.New()
	if lvl, err := log.ParseLevel(os.Getenv("DUXNET_LOG_LEVEL")); err == nil {
		logger.SetLevel(lvl)
	}

	env := os.Getenv("DUXNET_ENV")
	cfg, err := config.Load(env)
	if err != nil {
		logger.WithError(err).Fatal("load config")
	}

	n, err := node.New(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("wire node")
	}
	defer n.Close()

	logger.WithField("did", string(n.Identity.LocalDID())).Info("node started")

	srv := &http.Server{
		Addr:    cfg.HTTP.ListenAddr,
		Handler: httpapi.NewRouter(n),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("http server")
		}
	}()
	logger.WithField("addr", cfg.HTTP.ListenAddr).Info("http command surface listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

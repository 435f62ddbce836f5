// Command marpd is the MARP authoritative/recursive server. It takes
// no arguments, reading its configuration cascade and cache snapshot
// from fixed paths under config/, per spec.md §6. Adapted from
// app/main.go's minimal flag-free bootstrap shape.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ethgordon/marp/internal/config"
	"github.com/ethgordon/marp/internal/peerset"
	"github.com/ethgordon/marp/internal/server"

	respcache "github.com/ethgordon/marp/internal/cache"
)

const (
	configPath = "config/marp.conf"
	cachePath  = "config/cache.dat"
	peersPath  = "config/peers.txt"
	listenAddr = ":5001"
	cacheSize  = 4096
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	loaded, err := config.LoadAll(configPath)
	if err != nil {
		fail(logger, "loading configuration", err)
	}
	logger.Info("marpd: configuration loaded", slog.Int("records", loaded.Store.Len()))

	respCache, err := respcache.Load(cachePath, cacheSize, logger)
	if err != nil {
		fail(logger, "loading response cache", err)
	}
	logger.Info("marpd: cache loaded", slog.Int("entries", respCache.Len()))

	peers, n, err := peerset.Load(peersPath)
	if err != nil {
		fail(logger, "loading peer set", err)
	}
	logger.Info("marpd: peers loaded", slog.Int("count", n))

	srv, err := server.New(listenAddr, loaded.Store, respCache, peers, cachePath, logger)
	if err != nil {
		fail(logger, "starting server", err)
	}

	if err := srv.Run(); err != nil {
		fail(logger, "server exited", err)
	}
	logger.Info("marpd: clean shutdown")
}

func fail(logger *slog.Logger, stage string, err error) {
	logger.Error("marpd: "+stage, slog.Any("error", err))
	fmt.Fprintf(os.Stderr, "%s: %s: %v\n", os.Args[0], stage, err)
	os.Exit(1)
}

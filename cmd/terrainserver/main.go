package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voxelterrain/internal/config"
	terrainserver "voxelterrain/internal/server"
)

func main() {
	var (
		cfgPath   string
		cfgURL    string
		mapOutput string
	)
	flag.StringVar(&cfgPath, "config", "", "path to terrain configuration file (JSON or YAML)")
	flag.StringVar(&cfgURL, "config-url", "", "remote configuration source, fetched before startup")
	flag.StringVar(&mapOutput, "map-out", "", "write an overview PNG here whenever the world becomes steady")
	flag.Parse()

	logger := log.New(log.Writer(), "terrain ", log.LstdFlags|log.Lmicroseconds)

	if cfgURL != "" {
		dir, err := os.MkdirTemp("", "terrain-config-")
		if err != nil {
			log.Fatalf("create config directory: %v", err)
		}
		defer os.RemoveAll(dir)
		path, err := fetchConfig(cfgURL, dir)
		if err != nil {
			log.Fatalf("fetch config: %v", err)
		}
		cfgPath = path
	}

	if wrote, err := writeConfigFromEnv(cfgPath); err != nil {
		log.Fatalf("sync config: %v", err)
	} else if wrote {
		logger.Printf("configuration written to %s from environment", cfgPath)
	}

	var srv *terrainserver.Server
	cfg, err := config.Load(cfgPath)
	if err != nil {
		srv = terrainserver.NewDegraded(config.Default(), err, logger)
	} else {
		srv, err = terrainserver.New(cfg, logger)
		if err != nil {
			log.Fatalf("initialise terrain server: %v", err)
		}
	}
	srv.SetMapOutput(mapOutput)

	ctx, cancel := signalContext()
	defer cancel()

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server exited with error: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}

		time.AfterFunc(10*time.Second, func() {
			log.Printf("forced shutdown after timeout")
			os.Exit(1)
		})
	}()

	return ctx, cancel
}

// Command agrinode runs one agricultural mesh coordinator node.
//
// A node joins the UDP mesh fabric, announces itself on the mesh and
// on the cross-subnet UDP discovery channel, answers relayed API calls
// from peers, and polls its mesh neighbors for sensor snapshots. The
// HTTP front door serves the same operations locally and forwards
// /api/remote/{nodeID}/... calls over the mesh relay.
//
// # Configuration
//
// Runtime knobs come from an optional YAML file (--config) with flag
// overrides for the common ones. Without a --node-id, a random id is
// generated for the boot session, matching how field devices derive
// theirs per boot.
//
// # Usage
//
//	go run ./cmd/agrinode --listen-addr=:8080 --mesh-port=4211 --name=field-north
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IsuHapu/smart-agri-project-sub000/api/httpserver"
	"github.com/IsuHapu/smart-agri-project-sub000/meshnet"
	"github.com/IsuHapu/smart-agri-project-sub000/node"
	"github.com/IsuHapu/smart-agri-project-sub000/protocol"
	"github.com/IsuHapu/smart-agri-project-sub000/store"
)

func main() {
	var (
		configPath  = flag.String("config", "", "YAML config file path")
		nodeID      = flag.String("node-id", "", "Mesh node id (random per boot if empty)")
		deviceName  = flag.String("name", "", "Human-readable device name")
		listenAddr  = flag.String("listen-addr", ":8080", "HTTP listen address")
		metricsAddr = flag.String("metrics-addr", "", "Metrics listen address (disabled if empty)")
		enablePprof = flag.Bool("pprof", false, "Enable pprof debugging API")
		meshPort    = flag.Int("mesh-port", 4211, "UDP port for the mesh fabric")
		broadcast   = flag.String("broadcast", "", "Comma-separated broadcast addresses")
		dataDir     = flag.String("data-dir", "", "Directory for readings logs")
		logJSON     = flag.Bool("log-json", false, "Log in JSON format")

		pgHost = flag.String("pg-host", "", "PostgreSQL host for the readings archive (disabled if empty)")
		pgPort = flag.Int("pg-port", 5432, "PostgreSQL port")
		pgUser = flag.String("pg-user", "agrimesh", "PostgreSQL user")
		pgPass = flag.String("pg-pass", "", "PostgreSQL password")
		pgName = flag.String("pg-db", "agrimesh", "PostgreSQL database name")
	)
	flag.Parse()

	log := newLogger(*logJSON)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	if *deviceName != "" {
		cfg.DeviceName = *deviceName
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *broadcast != "" {
		cfg.BroadcastAddrs = strings.Split(*broadcast, ",")
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}

	id := *nodeID
	if id == "" {
		id = protocol.NewNodeID()
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = id
	}

	transport, err := meshnet.NewUDPMesh(meshnet.UDPMeshConfig{
		SelfID:         id,
		Port:           *meshPort,
		BroadcastAddrs: cfg.BroadcastAddrs,
		Log:            log,
	})
	if err != nil {
		fmt.Printf("Mesh transport error: %v\n", err)
		os.Exit(1)
	}

	var archive node.ReadingsArchiver
	if *pgHost != "" {
		pg, err := store.NewPostgresStore(&store.PostgresConfig{
			Host:     *pgHost,
			Port:     *pgPort,
			User:     *pgUser,
			Password: *pgPass,
			Database: *pgName,
		})
		if err != nil {
			fmt.Printf("PostgreSQL error: %v\n", err)
			os.Exit(1)
		}
		defer pg.Close()
		archive = pg
	}

	n, err := node.New(node.Options{
		Config:    cfg,
		NodeID:    id,
		Transport: transport,
		Archive:   archive,
		Log:       log,
	})
	if err != nil {
		fmt.Printf("Node error: %v\n", err)
		os.Exit(1)
	}

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               *listenAddr,
		MetricsAddr:              *metricsAddr,
		EnablePprof:              *enablePprof,
		Log:                      log,
		DrainDuration:            5 * time.Second,
		GracefulShutdownDuration: 10 * time.Second,
		ReadTimeout:              30 * time.Second,
		WriteTimeout:             30 * time.Second,
	}, node.NewAPIHandler(n))
	if err != nil {
		fmt.Printf("HTTP server error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n.Run(ctx)
	srv.RunInBackground()
	log.Info("node running", "nodeId", id, "name", cfg.DeviceName, "listenAddr", *listenAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	cancel()
	srv.Shutdown()
	if err := n.Close(); err != nil {
		log.Warn("close error", "err", err)
	}
}

func loadConfig(path string) (*protocol.MeshConfig, error) {
	if path == "" {
		return protocol.DefaultConfig(), nil
	}
	return protocol.LoadConfig(path)
}

func newLogger(jsonFormat bool) *slog.Logger {
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

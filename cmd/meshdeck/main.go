package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/MatusOllah/slogcolor"

	"github.com/jdenoy/meshdeck/internal/tui"
	"github.com/jdenoy/meshdeck/pkg/bridge"
	"github.com/jdenoy/meshdeck/pkg/config"
	"github.com/jdenoy/meshdeck/pkg/radio"
	"github.com/jdenoy/meshdeck/pkg/radio/radiosim"
	"github.com/jdenoy/meshdeck/pkg/store"
)

func main() {
	configPath := flag.String("config", "", "Path to a config file (default: search for meshdeck.yaml)")
	host := flag.String("host", "", "Node address to connect to on startup")
	port := flag.Int("port", 0, "Node TCP port (default from config)")
	dbPath := flag.String("db", "", "Path to the sqlite cache (default from config)")
	simulate := flag.Bool("simulate", false, "Use a built-in simulated node instead of a real radio")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	logOpts := *slogcolor.DefaultOptions
	if *verbose {
		logOpts.Level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slogcolor.NewHandler(os.Stderr, &logOpts)))

	if err := run(*configPath, *host, *port, *dbPath, *simulate); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath, host string, port int, dbPath string, simulate bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if host == "" {
		host = cfg.DefaultHost
	}
	if port == 0 {
		port = cfg.DefaultPort
	}
	if dbPath == "" {
		dbPath = cfg.DatabasePath
	}

	stores, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer stores.Close()

	dialer := radio.DefaultDialer
	var stopChatter context.CancelFunc
	if simulate {
		sim := radiosim.NewDemo()
		dialer = sim
		var ctx context.Context
		ctx, stopChatter = context.WithCancel(context.Background())
		sim.StartChatter(ctx, 15*time.Second)
		defer stopChatter()
		if host == "" {
			host = "sim"
		}
	}
	if dialer == nil {
		return fmt.Errorf("no radio transport is registered; run with -simulate or link a transport")
	}

	b := bridge.New(bridge.Options{
		Dialer:               dialer,
		ConnectTimeout:       cfg.ConnectTimeout,
		SurfaceCommandErrors: cfg.SurfaceCommandErrors,
		Logger:               slog.Default(),
	})
	b.Start()
	defer b.Close()

	return tui.Run(tui.Options{
		Bridge:          b,
		Stores:          stores,
		HistoryLimit:    cfg.HistoryLimit,
		RefreshInterval: cfg.RefreshInterval,
		Host:            host,
		Port:            port,
		Log:             slog.Default(),
	})
}

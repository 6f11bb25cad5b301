// Command routetrackd runs the route-following engine behind its HTTP and
// websocket surface.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dispatchgrid/routetrack/internal/api"
	"github.com/dispatchgrid/routetrack/internal/config"
	"github.com/dispatchgrid/routetrack/internal/history"
	"github.com/dispatchgrid/routetrack/internal/track"
)

var (
	configPath = flag.String("config", "", "Path to YAML app config (optional)")
	tuningPath = flag.String("tuning", "", "Path to JSON engine tuning file (optional)")
	listen     = flag.String("listen", "", "Listen address override")
	dbPath     = flag.String("db", "", "History sqlite path override (\"off\" disables history)")
)

func main() {
	flag.Parse()

	appCfg := config.DefaultAppConfig()
	if *configPath != "" {
		var err error
		appCfg, err = config.LoadAppConfig(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	if *listen != "" {
		appCfg.Server.Listen = *listen
	}
	if *dbPath != "" {
		appCfg.History.Path = *dbPath
		if *dbPath == "off" {
			appCfg.History.Path = ""
		}
	}
	if *tuningPath != "" {
		appCfg.TuningPath = *tuningPath
	}

	engineCfg := track.DefaultConfig()
	if appCfg.TuningPath != "" {
		tuning, err := config.LoadTuningConfig(appCfg.TuningPath)
		if err != nil {
			log.Fatalf("load tuning: %v", err)
		}
		tuning.ApplyTo(&engineCfg)
	}

	var store *history.Store
	if appCfg.History.Path != "" {
		var err error
		store, err = history.Open(appCfg.History.Path)
		if err != nil {
			log.Fatalf("open history store: %v", err)
		}
		defer store.Close()
		engineCfg.Recorder = store
	}

	registry := track.New(engineCfg)
	defer registry.Close()

	server := api.NewServer(api.Config{
		Listen:   appCfg.Server.Listen,
		Registry: registry,
		History:  store,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(ctx); err != nil {
			log.Printf("api server shutdown: %v", err)
		}
	}()

	<-ctx.Done()
	wg.Wait()
}

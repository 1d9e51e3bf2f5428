package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/groupchat/internal/config"
	"github.com/matheus3301/groupchat/internal/daemon"
	"github.com/matheus3301/groupchat/internal/session"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	configFlag := flag.String("config", "", "config file (default ~/.groupchat/config.toml)")
	listenFlag := flag.String("listen", "", "listen address (overrides daemon.listen)")
	dataFlag := flag.String("data-dir", "", "data directory (overrides daemon.data_dir)")
	flag.Parse()

	path := *configFlag
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.Resolve(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *listenFlag != "" {
		cfg.Daemon.Listen = *listenFlag
	}
	if *dataFlag != "" {
		cfg.Daemon.DataDir = *dataFlag
	}

	app := fx.New(
		daemon.Module(daemon.Params{Config: cfg}),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
	)
	app.Run()
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/groupchat/internal/config"
	"github.com/matheus3301/groupchat/internal/logging"
	"github.com/matheus3301/groupchat/internal/session"
	intsync "github.com/matheus3301/groupchat/internal/sync"
	"github.com/matheus3301/groupchat/internal/tui"
	"go.uber.org/zap"
)

func main() {
	configFlag := flag.String("config", "", "config file (default ~/.groupchat/config.toml)")
	clientIDFlag := flag.String("client-id", "", "participant id (overrides config)")
	modeFlag := flag.String("mode", "", "transport: push or poll (overrides config)")
	serverFlag := flag.String("server", "", "server base URL (overrides config)")
	flag.Parse()

	if err := run(*configFlag, *clientIDFlag, *modeFlag, *serverFlag); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, clientIDFlag, mode, server string) error {
	if configPath == "" {
		configPath = session.ConfigPath()
	}
	cfg, err := config.Resolve(configPath)
	if err != nil {
		return err
	}
	if mode != "" {
		cfg.Transport.Mode = mode
	}
	if server != "" {
		cfg.Server.URL = server
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	clientID, err := session.ResolveClientID(clientIDFlag, cfg)
	if err != nil {
		return err
	}

	// The terminal belongs to tview, so logs only go to the file.
	logPath := cfg.Log.Path
	if logPath == "" {
		logPath = session.LogPath("chattui")
	}
	logger, err := logging.New(logging.Options{
		Path:      logPath,
		Level:     cfg.Log.Level,
		Component: "chattui",
		ClientID:  clientID,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	engine, err := intsync.NewFromConfig(cfg, clientID, intsync.Deps{Logger: logger})
	if err != nil {
		return err
	}
	if err := engine.Start(context.Background()); err != nil {
		return err
	}
	defer engine.Stop()

	logger.Info("chattui starting",
		zap.String("server", cfg.Server.URL),
		zap.String("mode", cfg.Transport.Mode))
	return tui.NewApp(engine).Run()
}

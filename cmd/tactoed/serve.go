package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/tactoed/tactoed/internal/bus"
	"github.com/tactoed/tactoed/internal/config"
	"github.com/tactoed/tactoed/internal/host"
	"github.com/tactoed/tactoed/internal/logging"
	"github.com/tactoed/tactoed/internal/server"
	"github.com/tactoed/tactoed/internal/storage"
)

const defaultConfigPath = "/etc/tactoed/config.yml"

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	port := fs.Int("port", 0, "override the configured listen port")
	fs.Parse(args)

	cfgPath := *configPath
	if cfgPath == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			cfgPath = defaultConfigPath
		} else if _, err := os.Stat("./config.yml"); err == nil {
			cfgPath = "./config.yml"
		}
	}

	var cfg *config.Config
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			log.Fatalf("Failed to load config from %s: %v", cfgPath, err)
		}
		cfg = loaded
	} else {
		log.Printf("No config file found; using defaults")
		cfg = config.Default()
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	serverLog := logging.New("server")
	serverLog.Printf("tactoed %s starting...", version)

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()
	serverLog.Printf("database ready at %s", cfg.Database.Path)

	b, err := bus.Start(cfg.Bus.PendingMsgLimit, cfg.Bus.PendingByteLimit)
	if err != nil {
		log.Fatalf("Failed to start internal message bus: %v", err)
	}
	defer b.Close()

	transcript, err := logging.OpenTranscript(cfg.Host.TranscriptPath, int64(cfg.Host.TranscriptMaxKB)*1024)
	if err != nil {
		log.Fatalf("Failed to open host transcript: %v", err)
	}
	defer transcript.Close()

	srv := server.New(cfg, store, b, serverLog)

	console := host.New(srv.Registry(), store, b, logging.New("host"), transcript, os.Stdout)
	srv.Console(console)

	go func() {
		if err := console.Run(bufio.NewReader(os.Stdin)); err != nil {
			serverLog.Printf("host console stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve()
	}()

	select {
	case sig := <-sigCh:
		serverLog.Printf("received signal %v, shutting down...", sig)
	case err := <-serveErr:
		if err != nil {
			serverLog.Printf("server error: %v", err)
		}
	}

	srv.Shutdown()
	serverLog.Println("shutdown complete")
	fmt.Fprintln(os.Stdout, "tactoed stopped.")
}

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/akamensky/argparse"
	"github.com/buddywatch/buddywatch/server"
	"github.com/buddywatch/buddywatch/server/config"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/logs"
	"github.com/joho/godotenv"
)

func main() {
	parser := argparse.NewParser("buddywatch", "Home surveillance client for a remote person detection service")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Config file path", Default: "buddywatch.json"})
	hotReloadWWW := parser.Flag("", "hot", &argparse.Options{Help: "Hot reload www instead of embedding into binary", Default: false})
	demo := parser.Flag("", "demo", &argparse.Options{Help: "Use a synthetic camera instead of the configured one", Default: false})
	surveil := parser.Flag("", "surveil", &argparse.Options{Help: "Start surveillance immediately (requires credentials in the config)", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	// A .env file is optional. Its variables don't override the real environment.
	if err := godotenv.Load(); err == nil {
		logger.Infof("Loaded environment from .env")
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if *demo {
		cfg.Camera.Kind = config.CameraKindDemo
	}

	srv, err := server.NewServer(logger, cfg, *hotReloadWWW)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	srv.ListenForKillSignals()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	srv.LoginAtStartup(ctx)
	cancel()
	if *surveil {
		srv.StartSurveillance()
	}

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := srv.ListenHTTP(cfg.Listen); err != nil {
		logger.Errorf("ListenHTTP returned: %v", err)
		srv.Shutdown()
		os.Exit(1)
	}
	<-srv.ShutdownDone
}

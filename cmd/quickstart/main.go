// Command quickstart runs the quickstart against an app, or against an
// in-process fake backend with -fake.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	realm "github.com/takameyer/realm.go"
	"github.com/takameyer/realm.go/example/quickstart"
	"github.com/takameyer/realm.go/internal/fakeapp"
	"github.com/takameyer/realm.go/pkg/logger"
)

func main() {
	os.Exit(realMain(os.Args[1:], os.Stdout, os.Stderr))
}

// realMain returns the exit code so that deferred cleanup runs before exit.
func realMain(args []string, stdout, stderr io.Writer) int {
	appCfg := realm.AppConfigFromEnv()
	qsCfg := quickstart.NewConfig()

	var (
		fake    bool
		logFile string
		timeout time.Duration
	)
	fs := flag.NewFlagSet("quickstart", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&appCfg.AppID, "app-id", appCfg.AppID, "App services app id (default $"+realm.EnvAppID+")")
	fs.StringVar(&appCfg.BaseURL, "base-url", appCfg.BaseURL, "App services base URL")
	fs.StringVar(&appCfg.Engine, "engine", appCfg.Engine, "WebSocket engine: gorillaws or gws")
	fs.StringVar(&qsCfg.Partition, "partition", qsCfg.Partition, "Partition value to sync")
	fs.BoolVar(&qsCfg.JSON, "json", false, "Print one JSON object per step")
	fs.BoolVar(&fake, "fake", false, "Start an in-process fake backend and run against it")
	fs.StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
	fs.DurationVar(&timeout, "timeout", time.Minute, "Give up after this long")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	build := logger.NewBuild().FromBuffer(stderr)
	if logFile != "" {
		build = build.FromPath(logFile)
	}
	logs, err := build.Make()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer logs.Close()
	appCfg.Logger = logs.Adapter()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if fake {
		srvCfg := fakeapp.NewConfig()
		srvCfg.Logger = appCfg.Logger
		srv, err := fakeapp.NewServer(srvCfg)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if err := srv.Start(); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer func() { _ = srv.Stop(context.Background()) }()
		appCfg.AppID = srv.AppID()
		appCfg.BaseURL = srv.URL()
	}

	if err := run(ctx, appCfg, qsCfg, stdout); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, appCfg *realm.AppConfig, qsCfg *quickstart.Config, out io.Writer) error {
	app, err := realm.NewApp(ctx, appCfg)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.Background()) }()

	return quickstart.Run(ctx, app, out, qsCfg)
}

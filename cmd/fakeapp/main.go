// Command fakeapp serves a fake app services backend until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/takameyer/realm.go/internal/fakeapp"
	"github.com/takameyer/realm.go/pkg/logger"
)

type userFlags map[string]string

func (u userFlags) String() string {
	parts := make([]string, 0, len(u))
	for email := range u {
		parts = append(parts, email)
	}
	return strings.Join(parts, ",")
}

func (u userFlags) Set(v string) error {
	email, password, ok := strings.Cut(v, ":")
	if !ok {
		return fmt.Errorf("want email:password, got %q", v)
	}
	u[email] = password
	return nil
}

type keyFlags []string

func (k *keyFlags) String() string { return strings.Join(*k, ",") }

func (k *keyFlags) Set(v string) error {
	*k = append(*k, v)
	return nil
}

func main() {
	os.Exit(realMain(os.Args[1:], os.Stderr))
}

// realMain returns the exit code so that deferred cleanup runs before exit.
func realMain(args []string, stderr io.Writer) int {
	cfg := fakeapp.NewConfig()
	cfg.Addr = "127.0.0.1:9090"

	var (
		keys    keyFlags
		verbose bool
	)
	fs := flag.NewFlagSet("fakeapp", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "Address to listen on")
	fs.StringVar(&cfg.AppID, "app-id", cfg.AppID, "App id served by the backend")
	fs.StringVar(&cfg.SyncDatabase, "sync-db", cfg.SyncDatabase, "Database holding synced classes")
	fs.DurationVar(&cfg.AccessTokenTTL, "token-ttl", cfg.AccessTokenTTL, "Access token lifetime")
	fs.Var(userFlags(cfg.Users), "user", "Email/password user as email:password (repeatable)")
	fs.Var(&keys, "api-key", "Accepted server API key (repeatable)")
	fs.BoolVar(&verbose, "verbose", false, "Log every request")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	cfg.APIKeys = keys

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logs, err := logger.NewBuild().FromBuffer(stderr).Level(level).Make()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer logs.Close()
	cfg.Logger = logs.Adapter()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fs.Usage()
		return 1
	}

	srv, err := fakeapp.NewServer(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

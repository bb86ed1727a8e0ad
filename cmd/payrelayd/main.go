// Command payrelayd receives signed payment webhooks, delivers them durably
// and guards outbound payment API calls with rate limiting, circuit breaking
// and retries.
//
// Usage:
//
//	payrelayd [-config payrelay.yaml]
//	payrelayd token [-config payrelay.yaml] -sub NAME [-roles admin] [-ttl 1h]
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

	"github.com/jonwraymond/payrelay/auth"
	"github.com/jonwraymond/payrelay/internal/config"
	"github.com/jonwraymond/payrelay/observe"
	"github.com/jonwraymond/payrelay/secret"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "payrelayd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) > 0 && args[0] == "token" {
		return runToken(ctx, args[1:], stdout)
	}
	return runServe(ctx, args)
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("payrelayd", flag.ContinueOnError)
	configPath := fs.String("config", "payrelay.yaml", "path to the YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(ctx, *configPath)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	a.logger.Info(ctx, "payrelayd starting",
		observe.F("addr", cfg.Server.Addr),
		observe.F("store_driver", cfg.Store.Driver))

	runErr := a.run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(runErr, a.close(shutdownCtx))
}

// runToken prints a signed admin token.
func runToken(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("payrelayd token", flag.ContinueOnError)
	configPath := fs.String("config", "payrelay.yaml", "path to the YAML config file")
	subject := fs.String("sub", "", "token subject")
	roles := fs.String("roles", auth.RoleAdmin, "comma separated roles")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(ctx, *configPath)
	if err != nil {
		return err
	}
	if !cfg.Auth.Enabled() {
		return errors.New("auth.jwt_key is not set")
	}

	var roleList []string
	for r := range strings.SplitSeq(*roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roleList = append(roleList, r)
		}
	}
	token, err := auth.NewSigner(cfg.Auth.JWT(), []byte(cfg.Auth.JWTKey)).Sign(*subject, roleList, *ttl)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	_, err = fmt.Fprintln(stdout, token)
	return err
}

// loadConfig loads the configuration and resolves its secret references.
func loadConfig(ctx context.Context, path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	resolver, err := secret.NewDefaultResolver()
	if err != nil {
		return config.Config{}, err
	}
	defer func() { _ = resolver.Close() }()

	if err := cfg.ResolveSecrets(ctx, resolver); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

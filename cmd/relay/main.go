package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/astromechza/comanda-relay/pkg/audit"
	"github.com/astromechza/comanda-relay/pkg/auth"
	"github.com/astromechza/comanda-relay/pkg/config"
	"github.com/astromechza/comanda-relay/pkg/httplog"
	"github.com/astromechza/comanda-relay/pkg/relay"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	cfg := config.Relay{}
	if err := config.Load(&cfg); err != nil {
		return err
	}
	slog.SetDefault(cfg.Logger(os.Stderr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		exit := make(chan os.Signal, 1)
		signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
		sig := <-exit
		slog.Info("Signal caught", "sig", sig)
		cancel()
	}()

	app := &cli.App{
		Name:  "relay",
		Usage: "websocket relays for the kitchen and bar channels",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "kitchen-addr", Value: cfg.KitchenAddr, Usage: "the address the kitchen relay listens on"},
			&cli.StringFlag{Name: "bar-addr", Value: cfg.BarAddr, Usage: "the address the bar relay listens on"},
		},
		Commands: []*cli.Command{
			{
				Name:  "kitchen",
				Usage: "run the kitchen relay and the login endpoint",
				Action: func(c *cli.Context) error {
					return runRelays(c.Context, cfg, map[relay.Channel]string{relay.Kitchen: c.String("kitchen-addr")})
				},
			},
			{
				Name:  "bar",
				Usage: "run the bar relay",
				Action: func(c *cli.Context) error {
					return runRelays(c.Context, cfg, map[relay.Channel]string{relay.Bar: c.String("bar-addr")})
				},
			},
			{
				Name:  "all",
				Usage: "run both relays in one process",
				Action: func(c *cli.Context) error {
					return runRelays(c.Context, cfg, map[relay.Channel]string{
						relay.Kitchen: c.String("kitchen-addr"),
						relay.Bar:     c.String("bar-addr"),
					})
				},
			},
		},
	}
	return app.RunContext(ctx, os.Args)
}

func runRelays(ctx context.Context, cfg config.Relay, addrs map[relay.Channel]string) error {
	var authn *auth.Service
	if cfg.JWTSecret != "" {
		users, err := auth.ParseUsers(cfg.Users)
		if err != nil {
			return fmt.Errorf("failed to parse users: %w", err)
		}
		if authn, err = auth.NewService(cfg.JWTSecret, users); err != nil {
			return fmt.Errorf("failed to setup auth: %w", err)
		}
	} else if cfg.RequireAdmin {
		return fmt.Errorf("JWT_SECRET must be set while REQUIRE_ADMIN_TOKEN is on")
	} else {
		slog.Warn("admin:update is accepted without a token")
	}

	sink := audit.Sink(audit.LogSink{})
	if cfg.AMQPURL != "" {
		amqpSink, err := audit.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return fmt.Errorf("failed to connect audit broker: %w", err)
		}
		defer amqpSink.Close()
		sink = audit.Multi{audit.LogSink{}, amqpSink}
	}

	eg, ctx := errgroup.WithContext(ctx)
	for channel, addr := range addrs {
		opts := relay.Options{Audit: sink, SendBuffer: cfg.SendBuffer}
		if authn != nil {
			opts.Authorizer = authn
		}
		r := relay.New(channel, opts)

		router := mux.NewRouter()
		router.Use(httplog.Middleware(string(channel)))
		if channel == relay.Kitchen && authn != nil {
			router.Methods(http.MethodPost).Path("/login").HandlerFunc(authn.LoginHandler)
		}
		r.Register(router)

		eg.Go(func() error {
			r.Run(ctx)
			return nil
		})
		eg.Go(func() error {
			return serve(ctx, string(channel), &http.Server{Addr: addr, Handler: router})
		})
	}
	return eg.Wait()
}

// serve runs the server until ctx is cancelled.
func serve(ctx context.Context, name string, httpServer *http.Server) error {
	errs := make(chan error, 1)
	go func() {
		slog.Info("listening", "server", name, "addr", httpServer.Addr)
		errs <- httpServer.ListenAndServe()
	}()
	select {
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server listen failed: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		// hijacked websocket connections are not tracked by Shutdown
		_ = httpServer.Close()
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gorilla/mux"

	"github.com/astromechza/comanda-relay/pkg/catalog"
	"github.com/astromechza/comanda-relay/pkg/config"
	"github.com/astromechza/comanda-relay/pkg/httplog"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	cfg := config.Catalog{}
	if err := config.Load(&cfg); err != nil {
		return err
	}
	slog.SetDefault(cfg.Logger(os.Stderr))

	addrVar := flag.String("addr", cfg.Addr, "the address to listen on")
	driverVar := flag.String("driver", cfg.Driver, "the database driver: sqlite3 or pgx")
	dsnVar := flag.String("dsn", cfg.DSN, "the database connection string")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("Opening database", "driver", *driverVar)
	store, err := catalog.Open(ctx, *driverVar, *dsnVar)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer store.Close()

	r := mux.NewRouter()
	r.Use(httplog.Middleware("catalog"))
	catalog.NewServer(store).Register(r)

	httpServer := &http.Server{Addr: *addrVar, Handler: r}

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", *addrVar)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
			cancel()
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
	case <-ctx.Done():
	}
	_ = httpServer.Close()
	wg.Wait()
	return nil
}

// Package config reads process configuration from the environment, with an optional .env file.
package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

type Log struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"text"`
}

type Relay struct {
	Log
	KitchenAddr  string `envconfig:"KITCHEN_ADDR" default:":8080"`
	BarAddr      string `envconfig:"BAR_ADDR" default:":8090"`
	JWTSecret    string `envconfig:"JWT_SECRET"`
	Users        string `envconfig:"USERS"`
	AMQPURL      string `envconfig:"AMQP_URL"`
	AMQPExchange string `envconfig:"AMQP_EXCHANGE" default:"relay.audit"`
	RequireAdmin bool   `envconfig:"REQUIRE_ADMIN_TOKEN" default:"true"`
	SendBuffer   int    `envconfig:"PEER_SEND_BUFFER" default:"64"`
}

type Catalog struct {
	Log
	Addr   string `envconfig:"CATALOG_ADDR" default:":3001"`
	Driver string `envconfig:"CATALOG_DRIVER" default:"sqlite3"`
	DSN    string `envconfig:"CATALOG_DSN" default:"catalog.db"`
}

type Station struct {
	Log
	KitchenURL   string        `envconfig:"KITCHEN_URL" default:"ws://localhost:8080/ws"`
	BarURL       string        `envconfig:"BAR_URL" default:"ws://localhost:8090/ws"`
	CatalogURL   string        `envconfig:"CATALOG_URL" default:"http://localhost:3001"`
	CachePath    string        `envconfig:"CACHE_PATH" default:"station.db"`
	Origin       string        `envconfig:"STATION_ORIGIN"`
	BackoffBase  time.Duration `envconfig:"BACKOFF_BASE" default:"1s"`
	BackoffMax   time.Duration `envconfig:"BACKOFF_MAX" default:"30s"`
	PollInterval time.Duration `envconfig:"CACHE_POLL_INTERVAL" default:"500ms"`
}

// Load fills cfg from the environment after loading .env from the working directory, if present.
func Load(cfg interface{}) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to load .env")
	}
	if err := envconfig.Process("", cfg); err != nil {
		return errors.Wrap(err, "failed to read environment")
	}
	return nil
}

// Logger builds the process logger from the configured level and format.
func (l Log) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/astromechza/comanda-relay/pkg/account"
	"github.com/astromechza/comanda-relay/pkg/cache"
	"github.com/astromechza/comanda-relay/pkg/catalog"
	"github.com/astromechza/comanda-relay/pkg/config"
	"github.com/astromechza/comanda-relay/pkg/order"
	"github.com/astromechza/comanda-relay/pkg/station"
	"github.com/astromechza/comanda-relay/pkg/wsconn"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	cfg := config.Station{}
	if err := config.Load(&cfg); err != nil {
		return err
	}
	slog.SetDefault(cfg.Logger(os.Stderr))
	if cfg.Origin == "" {
		cfg.Origin = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		exit := make(chan os.Signal, 1)
		signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
		sig := <-exit
		slog.Info("Signal caught", "sig", sig)
		cancel()
	}()

	s := &stationApp{cfg: cfg}
	channelFlag := &cli.StringFlag{Name: "channel", Value: string(order.SourceKitchen), Usage: "kitchen or bar"}
	app := &cli.App{
		Name:  "station",
		Usage: "run a kitchen or bar station against the relays",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "kitchen-url", Value: cfg.KitchenURL, Destination: &s.cfg.KitchenURL},
			&cli.StringFlag{Name: "bar-url", Value: cfg.BarURL, Destination: &s.cfg.BarURL},
			&cli.StringFlag{Name: "catalog-url", Value: cfg.CatalogURL, Destination: &s.cfg.CatalogURL},
			&cli.StringFlag{Name: "cache", Value: cfg.CachePath, Destination: &s.cfg.CachePath, Usage: "the local cache file"},
		},
		Commands: []*cli.Command{
			{Name: "bartender", Usage: "follow the bar channel and keep the sales ledger", Action: s.bartender},
			{Name: "kitchen", Usage: "follow the kitchen channel", Action: s.kitchen},
			{
				Name:      "order",
				Usage:     "place one order",
				ArgsUsage: "ITEM[:size[:quantity]]...",
				Flags: []cli.Flag{
					channelFlag,
					&cli.StringFlag{Name: "table", Required: true},
					&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second, Usage: "how long to wait for the relay"},
				},
				Action: s.order,
			},
			{Name: "accounts", Usage: "print the open accounts", Flags: []cli.Flag{channelFlag}, Action: s.accounts},
			{
				Name:   "close-table",
				Usage:  "delete every stored order of a table",
				Flags:  []cli.Flag{channelFlag, &cli.StringFlag{Name: "table", Required: true}},
				Action: s.closeTable,
			},
		},
	}
	return app.RunContext(ctx, os.Args)
}

type stationApp struct {
	cfg config.Station
}

func (s *stationApp) conn(source order.Source) *wsconn.Conn {
	url := s.cfg.KitchenURL
	if source == order.SourceBar {
		url = s.cfg.BarURL
	}
	return wsconn.New(wsconn.Config{
		Name:    string(source),
		URL:     url,
		Backoff: wsconn.Policy{Base: s.cfg.BackoffBase, Max: s.cfg.BackoffMax},
	})
}

func (s *stationApp) openCache(ctx context.Context) (*cache.Store, error) {
	store, err := cache.Open(s.cfg.CachePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	// other station processes may share the file
	go store.Watch(ctx, s.cfg.PollInterval)
	return store, nil
}

func parseSource(c *cli.Context) (order.Source, error) {
	switch src := order.Source(c.String("channel")); src {
	case order.SourceKitchen, order.SourceBar:
		return src, nil
	default:
		return "", fmt.Errorf("unknown channel %q", src)
	}
}

func (s *stationApp) bartender(c *cli.Context) error {
	store, err := s.openCache(c.Context)
	if err != nil {
		return err
	}
	defer store.Close()

	b := station.NewBartender(store.Tab(s.cfg.Origin), s.conn(order.SourceBar))
	if err := b.Start(c.Context); err != nil {
		return err
	}
	defer b.Close()
	return every(c.Context, 10*time.Second, func() {
		ledger := b.Engine().Ledger()
		live := b.Engine().Live()
		slog.Info("bar",
			"open", len(b.Engine().Orders()),
			"live_amount", live.Amount,
			"simples", ledger.Totals.Simple,
			"dobles", ledger.Totals.Double,
			"triples", ledger.Totals.Triple,
			"botellas", ledger.Totals.Bottle,
			"amount", ledger.Totals.Amount,
		)
	})
}

func (s *stationApp) kitchen(c *cli.Context) error {
	store, err := s.openCache(c.Context)
	if err != nil {
		return err
	}
	defer store.Close()

	k := station.NewKitchen(store.Tab(s.cfg.Origin), s.conn(order.SourceKitchen))
	if err := k.Start(c.Context); err != nil {
		return err
	}
	defer k.Close()
	return every(c.Context, 10*time.Second, func() {
		for _, o := range k.View().Pending() {
			slog.Info("pending", "id", o.ID, "table", o.Table.String(), "items", len(o.Items), "timestamp", o.Timestamp)
		}
		slog.Info("kitchen", "pending", len(k.View().Pending()), "completed", len(k.View().Completed()))
	})
}

func every(ctx context.Context, interval time.Duration, fn func()) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			fn()
		case <-ctx.Done():
			return nil
		}
	}
}

func parseTable(s string) order.Table {
	if n, err := strconv.Atoi(s); err == nil {
		return order.NumericTable(n)
	}
	return order.NamedTable(s)
}

func (s *stationApp) order(c *cli.Context) error {
	source, err := parseSource(c)
	if err != nil {
		return err
	}
	if c.NArg() == 0 {
		return fmt.Errorf("expected at least one item")
	}
	store, err := s.openCache(c.Context)
	if err != nil {
		return err
	}
	defer store.Close()

	client := catalog.NewClient(s.cfg.CatalogURL)
	conn := s.conn(source)
	w := station.NewWaiter(source, store.Tab(s.cfg.Origin), conn, client.Accounts(catalog.AccountsFor(source)), client)
	if err := w.Start(c.Context); err != nil {
		return err
	}
	defer w.Close()

	menu := make(map[string]catalog.Item)
	for _, it := range w.Menu() {
		menu[strings.ToLower(it.Name)] = it
	}
	var items []order.Item
	for _, arg := range c.Args().Slice() {
		parts := strings.SplitN(arg, ":", 3)
		it, ok := menu[strings.ToLower(parts[0])]
		if !ok {
			return fmt.Errorf("%q is not on the menu", parts[0])
		}
		if source == order.SourceKitchen {
			items = append(items, it.Dish(nil))
			continue
		}
		size, qty := "", 1
		if len(parts) > 1 {
			size = parts[1]
		}
		if len(parts) > 2 {
			if qty, err = strconv.Atoi(parts[2]); err != nil {
				return fmt.Errorf("bad quantity in %q: %w", arg, err)
			}
		}
		items = append(items, it.Drink(size, qty))
	}

	deadline := time.Now().Add(c.Duration("timeout"))
	for !conn.Connected() && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	placed, err := w.PlaceOrder(c.Context, parseTable(c.String("table")), items)
	if err != nil {
		return fmt.Errorf("order %s: %w", placed.ID, err)
	}
	fmt.Println(placed.ID)
	return nil
}

func (s *stationApp) accounts(c *cli.Context) error {
	source, err := parseSource(c)
	if err != nil {
		return err
	}
	orders, err := catalog.NewClient(s.cfg.CatalogURL).ListAccounts(c.Context, catalog.AccountsFor(source))
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tORDERS\tITEMS\tTOTAL")
	for _, a := range account.Group(orders) {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", a.Table.String(), len(a.Orders), len(a.Items), a.Total.StringFixed(2))
	}
	return tw.Flush()
}

func (s *stationApp) closeTable(c *cli.Context) error {
	source, err := parseSource(c)
	if err != nil {
		return err
	}
	accounts := catalog.NewClient(s.cfg.CatalogURL).Accounts(catalog.AccountsFor(source))
	orders, err := accounts.List(c.Context)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}
	remaining, err := account.Close(c.Context, accounts, orders, c.String("table"))
	if err != nil {
		return fmt.Errorf("failed to close table: %w", err)
	}
	slog.Info("closed table", "table", c.String("table"), "removed", len(orders)-len(remaining))
	return nil
}

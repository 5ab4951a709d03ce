package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/astromechza/comanda-relay/pkg/cache"
	"github.com/astromechza/comanda-relay/pkg/order"
	"github.com/astromechza/comanda-relay/pkg/reconcile"
	"github.com/astromechza/comanda-relay/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	channelVar := flag.String("channel", string(order.SourceBar), "the channel whose tombstones to render")
	svgVar := flag.String("svg", "", "write the tombstone history as svg to this path")
	flag.Parse()
	if flag.NArg() != 1 {
		return fmt.Errorf("expected one position argument: the cache file to read")
	}
	if _, err := os.Stat(flag.Arg(0)); err != nil {
		return fmt.Errorf("failed to open cache file: %w", err)
	}
	store, err := cache.Open(flag.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	keys, err := store.Keys(ctx)
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}
	slog.Info("loaded cache", "keys", keys)

	tab := store.Tab("")
	for _, source := range []order.Source{order.SourceKitchen, order.SourceBar} {
		orders, err := tab.Orders(ctx, source)
		if err != nil {
			return fmt.Errorf("failed to read %s orders: %w", source, err)
		}
		for _, o := range orders {
			slog.Info("order", "channel", source, "id", o.ID, "table", o.Table.String(), "items", len(o.Items), "completed", o.IsCompleted(), "signature", order.Signature(o)[:12])
		}
	}

	ledger := reconcile.NewLedger()
	if _, err := tab.GetJSON(ctx, cache.LedgerKey, &ledger); err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}
	slog.Info("ledger",
		"processed", len(ledger.ProcessedOrderIDs),
		"entries", len(ledger.Entries),
		"simples", ledger.Totals.Simple,
		"dobles", ledger.Totals.Double,
		"triples", ledger.Totals.Triple,
		"botellas", ledger.Totals.Bottle,
		"amount", ledger.Totals.Amount,
	)

	doc, err := store.TombstoneDoc(ctx, order.Source(*channelVar))
	if err != nil {
		return err
	}
	slog.Info("loaded tombstones", "channel", *channelVar, "heads", doc.Heads())
	steps, err := viz.History(doc)
	if err != nil {
		return err
	}
	for i, s := range steps {
		slog.Info("change", "i", fmt.Sprintf("%4d", i), "hash", s.Hash, "actor", s.Actor, "seq", s.Seq, "signatures", s.Signatures, "dep", s.Dependencies)
	}

	if *svgVar != "" {
		if err := viz.RenderToFile(doc, *svgVar); err != nil {
			return fmt.Errorf("failed to render: %w", err)
		}
		slog.Info("rendered", "path", "file://"+*svgVar)
	}
	return nil
}

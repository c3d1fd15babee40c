package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	domain "github.com/hanko-field/quickorder/internal/domain"
	"github.com/hanko-field/quickorder/internal/di"
	"github.com/hanko-field/quickorder/internal/platform/config"
	"github.com/hanko-field/quickorder/internal/repositories"
	"github.com/hanko-field/quickorder/internal/services"
)

const defaultCartID = "quickorderctl"

type configLoader func(ctx context.Context) (config.Config, error)

type cli struct {
	out      io.Writer
	load     configLoader
	seedPath string
	cartID   string
	lang     string
	asJSON   bool
	verbose  bool
}

func newRootCmd(out io.Writer, load configLoader) *cobra.Command {
	c := &cli{out: out, load: load}

	root := &cobra.Command{
		Use:           "quickorderctl",
		Short:         "Add quick order batches to a cart and inspect stock",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&c.seedPath, "seed", "", "YAML catalog seed loaded before the command runs")
	root.PersistentFlags().StringVar(&c.lang, "lang", "", "language for messages (defaults to QUICKORDER_DEFAULT_LOCALE)")
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "print JSON instead of text")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log service events to stderr")

	add := &cobra.Command{
		Use:   "add",
		Short: "Add a batch of comma separated SKUs and quantities to a cart",
		Example: `  quickorderctl add --sku "STAMP-12, INK-RED" --qty "2, 1"
  quickorderctl add --seed catalog.yaml --cart demo --sku A --qty 3`,
		Args: cobra.NoArgs,
		RunE: c.runAdd,
	}
	add.Flags().StringVar(&c.cartID, "cart", defaultCartID, "cart id to add to")
	add.Flags().String("sku", "", "SKUs separated by \", \"")
	add.Flags().String("qty", "", "quantities separated by \", \"")

	stock := &cobra.Command{
		Use:   "stock SKU...",
		Short: "Show availability for one or more SKUs",
		Args:  cobra.MinimumNArgs(1),
		RunE:  c.runStock,
	}

	root.AddCommand(add, stock)
	return root
}

func (c *cli) open(ctx context.Context) (*di.Container, error) {
	cfg, err := c.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logger := zap.NewNop()
	if c.verbose {
		if dev, err := zap.NewDevelopment(); err == nil {
			logger = dev
		}
	}
	container, err := di.NewContainer(ctx, cfg, di.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if c.seedPath == "" {
		return container, nil
	}
	if err := c.seed(ctx, container); err != nil {
		_ = container.Close(ctx)
		return nil, err
	}
	return container, nil
}

func (c *cli) seed(ctx context.Context, container *di.Container) error {
	seeder := container.Repositories.Seeder()
	if seeder == nil {
		return fmt.Errorf("backend %q does not support seeding", container.Config.Backend)
	}
	f, err := os.Open(c.seedPath)
	if err != nil {
		return fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()
	products, err := repositories.LoadSeed(f)
	if err != nil {
		return err
	}
	return seeder.UpsertProducts(ctx, products)
}

func (c *cli) runAdd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	skus, _ := cmd.Flags().GetString("sku")
	qtys, _ := cmd.Flags().GetString("qty")

	container, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer container.Close(context.WithoutCancel(ctx))

	collector := &services.MessageCollector{}
	result, err := container.Services.QuickOrder.AddBatch(services.WithMessageSink(ctx, collector), services.AddBatchCommand{
		CartID:      c.cartID,
		Identifiers: skus,
		Quantities:  qtys,
	})
	if err != nil {
		return err
	}

	lang := c.lang
	if lang == "" {
		lang = container.Config.QuickOrder.DefaultLocale
	}
	messages := container.I18n.LocalizeAll(lang, collector.Messages())

	if c.asJSON {
		return writeJSON(c.out, map[string]any{
			"cartId":   c.cartID,
			"messages": messages,
			"items":    addRows(result.Items),
		})
	}
	for _, msg := range messages {
		if msg.Subject != "" {
			fmt.Fprintf(c.out, "%-7s %s: %s\n", msg.Kind, msg.Subject, msg.Text)
			continue
		}
		fmt.Fprintf(c.out, "%-7s %s\n", msg.Kind, msg.Text)
	}
	if result.ShapeError != nil {
		return errors.New("nothing was added")
	}
	return nil
}

type addRow struct {
	Position   int    `json:"position"`
	Identifier string `json:"identifier"`
	Outcome    string `json:"outcome"`
	Added      int    `json:"added"`
}

func addRows(items []services.ItemResult) []addRow {
	rows := make([]addRow, 0, len(items))
	for _, item := range items {
		row := addRow{
			Position:   item.Item.Position,
			Identifier: item.Item.Identifier,
			Outcome:    string(item.Outcome.Kind),
		}
		if item.Outcome.Accepted() {
			row.Added = item.Outcome.Qty
		}
		rows = append(rows, row)
	}
	return rows
}

type stockRow struct {
	SKU       string `json:"sku"`
	ProductID string `json:"productId,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Available int    `json:"available"`
	Exists    bool   `json:"exists"`
}

func (c *cli) runStock(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	container, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer container.Close(context.WithoutCancel(ctx))

	identifiers := make([]string, 0, len(args))
	for _, arg := range args {
		if arg = strings.TrimSpace(arg); arg != "" {
			identifiers = append(identifiers, arg)
		}
	}
	snapshots, err := container.Services.Stock.LookupMany(ctx, identifiers)
	if err != nil {
		return err
	}

	rows := make([]stockRow, 0, len(snapshots))
	for _, snap := range snapshots {
		rows = append(rows, stockRow{
			SKU:       snap.Identifier,
			ProductID: snap.ProductID,
			Kind:      string(snap.Kind),
			Available: snap.AvailableQty,
			Exists:    snap.Exists,
		})
	}
	if c.asJSON {
		return writeJSON(c.out, rows)
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SKU\tKIND\tAVAILABLE")
	for _, row := range rows {
		if !row.Exists {
			fmt.Fprintf(tw, "%s\t-\tnot found\n", row.SKU)
			continue
		}
		kind := row.Kind
		if kind == "" {
			kind = string(domain.ProductKindSimple)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\n", row.SKU, kind, row.Available)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, payload any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

// planctl inspects the bot offline: it loads the same config and stored
// state as the bot and prints a plan preview, the pullback schedule, or the
// activity log. It never places or cancels orders.
//
// Usage:
//
//	planctl [-config path] plan [-orders]
//	planctl [-config path] pullback <exposure_pct>...
//	planctl [-config path] activity [-limit n]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"liquidity-mm/internal/app"
	"liquidity-mm/internal/config"
	"liquidity-mm/internal/planner"
	"liquidity-mm/internal/risk"
	"liquidity-mm/pkg/types"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "log at debug level")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(*configPath, flag.Args(), os.Stdout, logger); err != nil {
		fmt.Fprintln(os.Stderr, "planctl:", err)
		os.Exit(1)
	}
}

func run(cfgPath string, args []string, out io.Writer, logger *slog.Logger) error {
	cmd := "plan"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	a, err := app.Open(ctx, *cfg, app.Options{}, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	switch cmd {
	case "plan":
		fs := flag.NewFlagSet("plan", flag.ContinueOnError)
		orders := fs.Bool("orders", false, "list every planned order")
		if err := fs.Parse(args); err != nil {
			return err
		}
		plan, err := a.Engine.Preview(ctx)
		if err != nil {
			return err
		}
		renderPlan(out, plan, *orders)

	case "pullback":
		if len(args) == 0 {
			return fmt.Errorf("pullback: at least one exposure percentage required")
		}
		pcts := make([]float64, 0, len(args))
		for _, arg := range args {
			v, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				return fmt.Errorf("pullback: %q is not a number", arg)
			}
			pcts = append(pcts, v)
		}
		return renderPullback(out, a.Engine.State().Thresholds, pcts)

	case "activity":
		fs := flag.NewFlagSet("activity", flag.ContinueOnError)
		limit := fs.Int("limit", 20, "entries to show")
		if err := fs.Parse(args); err != nil {
			return err
		}
		entries, err := a.DB.ListActivity(ctx, *limit)
		if err != nil {
			return err
		}
		renderActivity(out, entries)

	default:
		return fmt.Errorf("unknown command %q (want plan, pullback or activity)", cmd)
	}
	return nil
}

func renderPlan(out io.Writer, plan planner.Plan, showOrders bool) {
	fmt.Fprintf(out, "status %s | effective balance %d | max budget %s | displayed %s\n",
		plan.Status, plan.EffectiveBalance, plan.MaxBudget.StringFixed(0), plan.DisplayedLiquidity.StringFixed(0))
	fmt.Fprintf(out, "exposure %.2f%% | pullback x%.4f | deployable %s | total liquidity %d\n\n",
		plan.ExposurePct, plan.PullbackMultiplier, plan.DeployableBudget.StringFixed(0), plan.TotalLiquidity)

	table := tablewriter.NewWriter(out)
	table.Header("Market", "Weight", "Mode", "Budget", "Orders", "Amount", "Cost", "Dropped", "Match")
	for _, m := range plan.Markets {
		table.Append(
			m.MarketID,
			fmt.Sprintf("%.4f", m.Weight),
			string(m.Mode),
			m.Budget.StringFixed(0),
			strconv.Itoa(len(m.Orders)),
			strconv.FormatInt(m.TotalAmount, 10),
			strconv.FormatInt(m.TotalCost, 10),
			strconv.Itoa(m.Dropped),
			strconv.FormatInt(m.AutoMatch.Amount, 10),
		)
	}
	table.Render()

	if showOrders {
		orders := tablewriter.NewWriter(out)
		orders.Header("Market", "Side", "Price", "Amount", "Cost")
		for _, o := range plan.Orders() {
			orders.Append(
				o.MarketID,
				string(o.Side),
				strconv.Itoa(o.Price),
				strconv.FormatInt(o.Amount, 10),
				strconv.FormatInt(o.Cost, 10),
			)
		}
		orders.Render()
	}

	fmt.Fprintf(out, "\ntotal: %d orders on %d markets, amount %d, cost %d\n",
		plan.TotalOrders, plan.TotalMarkets, plan.TotalAmount, plan.TotalCost)
	if !plan.HasSufficientBalance {
		fmt.Fprintf(out, "INSUFFICIENT BALANCE: shortfall %d\n", plan.Shortfall)
	}
	for _, w := range plan.Warnings {
		fmt.Fprintln(out, "warning:", w)
	}
}

func renderPullback(out io.Writer, thresholds []risk.Threshold, pcts []float64) error {
	if len(thresholds) == 0 {
		fmt.Fprintln(out, "no thresholds configured: linear pullback")
	}

	table := tablewriter.NewWriter(out)
	table.Header("Exposure %", "Multiplier")
	for _, pct := range pcts {
		m, err := risk.Multiplier(thresholds, pct)
		if err != nil {
			return err
		}
		table.Append(fmt.Sprintf("%.2f", pct), fmt.Sprintf("%.4f", m))
	}
	table.Render()
	return nil
}

func renderActivity(out io.Writer, entries []types.Activity) {
	table := tablewriter.NewWriter(out)
	table.Header("Time", "Action", "Exposure Before", "Exposure After", "Details")
	for _, a := range entries {
		table.Append(
			a.Timestamp.Format(time.RFC3339),
			string(a.Action),
			strconv.FormatInt(a.ExposureBefore, 10),
			strconv.FormatInt(a.ExposureAfter, 10),
			a.Details,
		)
	}
	table.Render()
}

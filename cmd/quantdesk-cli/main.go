package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"quantdesk/internal/api"
	"quantdesk/internal/domain"
)

const version = "0.1.0"

var (
	host    string
	timeout time.Duration
	asJSON  bool
)

func main() {
	app := cli.NewApp()
	app.Name = "quantdesk-cli"
	app.Version = version
	app.Usage = "command line interface for the quantdesk backtest server"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "rpchost",
			Value:       "localhost:9090",
			Usage:       "the gRPC host to connect to",
			EnvVars:     []string{"QUANTDESK_RPCHOST"},
			Destination: &host,
		},
		&cli.DurationFlag{
			Name:        "timeout",
			Value:       5 * time.Minute,
			Usage:       "the context timeout for each request",
			Destination: &timeout,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "print raw JSON responses",
			Destination: &asJSON,
		},
	}
	app.Commands = []*cli.Command{
		strategiesCommand,
		runCommand,
		resultCommand,
		listRunsCommand,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func withClient(c *cli.Context, fn func(ctx context.Context, client *api.Client) error) error {
	client, err := api.Dial(host)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(c.Context, timeout)
	defer cancel()
	return fn(ctx, client)
}

func jsonOutput(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

var strategiesCommand = &cli.Command{
	Name:  "strategies",
	Usage: "list the available strategies and their parameters",
	Action: func(c *cli.Context) error {
		return withClient(c, func(ctx context.Context, client *api.Client) error {
			defs, err := client.ListStrategies(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return jsonOutput(defs)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, d := range defs {
				fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, d.DisplayName, d.Description)
				for _, p := range d.Parameters {
					fmt.Fprintf(w, "  %s\t%s\tdefault %v, range [%v, %v]\n", p.Name, p.Type, p.Default, p.Min, p.Max)
				}
			}
			return w.Flush()
		})
	},
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "run a backtest and print its metrics",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "strategy", Usage: "strategy name", Required: true},
		&cli.StringFlag{Name: "symbol", Usage: "instrument symbol", Required: true},
		&cli.StringFlag{Name: "exchange", Usage: "exchange of the stored bars"},
		&cli.StringFlag{Name: "start", Usage: "first date, YYYY-MM-DD", Required: true},
		&cli.StringFlag{Name: "end", Usage: "last date, YYYY-MM-DD (default today)"},
		&cli.Float64Flag{Name: "capital", Usage: "initial capital (server default when unset)"},
		&cli.StringFlag{Name: "name", Usage: "label stored with the run"},
		&cli.StringSliceFlag{Name: "param", Aliases: []string{"p"}, Usage: "strategy parameter as key=value, repeatable"},
	},
	Action: func(c *cli.Context) error {
		req, err := buildRequest(
			c.String("strategy"), c.String("symbol"), c.String("exchange"),
			c.String("start"), c.String("end"), c.Float64("capital"), c.StringSlice("param"),
		)
		if err != nil {
			return err
		}
		req.Name = c.String("name")

		return withClient(c, func(ctx context.Context, client *api.Client) error {
			run, err := client.RunBacktest(ctx, req)
			if err != nil {
				return err
			}
			return printRun(run)
		})
	},
}

var resultCommand = &cli.Command{
	Name:      "result",
	Usage:     "show a stored backtest run",
	ArgsUsage: "<run-id>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.ShowSubcommandHelp(c)
		}
		return withClient(c, func(ctx context.Context, client *api.Client) error {
			run, err := client.GetRun(ctx, c.Args().First())
			if err != nil {
				return err
			}
			return printRun(run)
		})
	},
}

var listRunsCommand = &cli.Command{
	Name:  "runs",
	Usage: "list stored backtest runs, newest first",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "limit", Value: 20},
		&cli.IntFlag{Name: "offset"},
	},
	Action: func(c *cli.Context) error {
		return withClient(c, func(ctx context.Context, client *api.Client) error {
			runs, err := client.ListRuns(ctx, c.Int("limit"), c.Int("offset"))
			if err != nil {
				return err
			}
			if asJSON {
				return jsonOutput(runs)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTRATEGY\tSYMBOL\tSTATUS\tCREATED")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.StrategyName, r.Symbol, r.Status, r.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		})
	},
}

func printRun(run *domain.BacktestRun) error {
	if asJSON {
		return jsonOutput(run)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "run\t%s\n", run.ID)
	fmt.Fprintf(w, "strategy\t%s %v\n", run.StrategyName, run.Parameters)
	fmt.Fprintf(w, "symbol\t%s (%s)\n", run.Symbol, run.Exchange)
	fmt.Fprintf(w, "period\t%s to %s\n", run.Start.Format(engineDate), run.End.Format(engineDate))
	fmt.Fprintf(w, "status\t%s\n", run.Status)
	if run.Error != "" {
		fmt.Fprintf(w, "error\t%s\n", run.Error)
	}
	if res := run.Result; res != nil {
		fmt.Fprintf(w, "capital\t%.2f -> %.2f\n", res.InitialCapital, res.FinalCapital)
		fmt.Fprintf(w, "return\t%.2f%%\n", res.TotalReturnPct)
		fmt.Fprintf(w, "trades\t%d (%d won, %d lost, win rate %.2f%%)\n",
			res.TotalTrades, res.WinningTrades, res.LosingTrades, res.WinRatePct)
		fmt.Fprintf(w, "max drawdown\t%.2f%%\n", res.MaxDrawdownPct)
		fmt.Fprintf(w, "sharpe\t%.2f\n", res.SharpeRatio)
		fmt.Fprintf(w, "profit factor\t%.2f\n", res.ProfitFactor)
	}
	return w.Flush()
}

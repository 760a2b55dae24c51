package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/okian/safescore/internal/adapters/postgres"
	"github.com/okian/safescore/internal/adapters/sink"
	service "github.com/okian/safescore/internal/app"
	"github.com/okian/safescore/internal/config"
	"github.com/okian/safescore/internal/domain/model"
	"github.com/okian/safescore/pkg/logger"
	"github.com/okian/safescore/pkg/metrics"
	"github.com/urfave/cli/v2"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "scan recent blocks and score their transactions",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "rpc-url", Usage: "RPC endpoint, repeatable, tried in order"},
			&cli.IntFlag{Name: "blocks-back", Usage: "blocks to scan below the latest"},
			&cli.IntFlag{Name: "max-tx", Usage: "stop after this many transactions"},
			&cli.BoolFlag{Name: "only-erc20", Usage: "keep only transfer and approve calls"},
			&cli.IntFlag{Name: "concurrency", Usage: "blocks fetched in parallel"},
			&cli.BoolFlag{Name: "no-fallback", Usage: "do not use synthetic data when the chain is unreachable"},
			&cli.StringFlag{Name: "data-dir", Usage: "lists, token cache and CSV output directory"},
			&cli.StringFlag{Name: "metrics-file", Usage: "write Prometheus metrics to this textfile"},
			&cli.BoolFlag{Name: "json", Usage: "print the result as JSON"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			applyRunFlags(c, cfg)

			svc, closer := buildService(c.Context, cfg, true)
			defer closer()

			res, err := svc.Run(c.Context)
			if err != nil {
				return err
			}
			if res.Metadata.Failed() {
				logger.Get().Warn(c.Context, "collector failed",
					logger.String("run_id", res.Metadata.RunID),
					logger.String("error", res.Metadata.Error),
					logger.String("source", res.Source),
				)
			}
			exportMetrics(c, cfg)
			return printResult(c.App.Writer, res, cfg.AlertThreshold, c.Bool("json"))
		},
	}
}

func scoreCommand() *cli.Command {
	return &cli.Command{
		Name:  "score",
		Usage: "score transactions from a CSV file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "in", Usage: "CSV with tx_id,timestamp,from_address,to_address,amount,token,method,chain", Required: true},
			&cli.StringFlag{Name: "data-dir", Usage: "lists and CSV output directory"},
			&cli.BoolFlag{Name: "dry-run", Usage: "do not write to sinks or alert"},
			&cli.BoolFlag{Name: "json", Usage: "print the result as JSON"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if c.IsSet("data-dir") {
				cfg.DataDir = c.String("data-dir")
			}

			recs, err := sink.ReadCSV(c.String("in"))
			if err != nil {
				return fmt.Errorf("read %s: %w", c.String("in"), err)
			}
			txs := make([]model.Transaction, 0, len(recs))
			for _, r := range recs {
				txs = append(txs, r.Transaction)
			}

			svc, closer := buildService(c.Context, cfg, !c.Bool("dry-run"))
			defer closer()

			res, err := svc.Score(c.Context, txs)
			if err != nil {
				return err
			}
			exportMetrics(c, cfg)
			return printResult(c.App.Writer, res, cfg.AlertThreshold, c.Bool("json"))
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply database migrations",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "status", Usage: "only show migration status"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			store, err := postgres.Open(c.Context, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer store.Close()

			if c.Bool("status") {
				return store.MigrationStatus(c.Context)
			}
			if err := store.Migrate(c.Context); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, "migrations applied")
			return nil
		},
	}
}

// loadConfig loads configuration and sets up logging from it. Global flags
// override the loaded values.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		if err := os.Setenv(config.EnvConfig, path); err != nil {
			return nil, err
		}
	}
	if err := logger.InitWithWriter(c.App.ErrWriter, "text"); err != nil {
		return nil, err
	}

	cfg, err := config.Load(c.Context)
	if err != nil {
		return nil, err
	}
	if c.IsSet("log-format") {
		cfg.LogFormat = c.String("log-format")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if err := logger.InitWithWriter(c.App.ErrWriter, cfg.LogFormat); err != nil {
		_ = logger.InitWithWriter(c.App.ErrWriter, config.DefaultLogFormat)
		logger.Get().Warn(c.Context, "invalid log_format; falling back to text", logger.String("log_format", cfg.LogFormat))
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(c.Context, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	for _, w := range cfg.Warnings {
		logger.Get().Warn(c.Context, "config value replaced by default",
			logger.String("key", w.Key),
			logger.String("value", w.Value),
			logger.String("default", w.Default),
			logger.String("reason", w.Reason),
		)
	}
	return cfg, nil
}

func applyRunFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("rpc-url") {
		cfg.RPCURLs = c.StringSlice("rpc-url")
	}
	if c.IsSet("blocks-back") && c.Int("blocks-back") > 0 {
		cfg.BlocksBack = c.Int("blocks-back")
	}
	if c.IsSet("max-tx") && c.Int("max-tx") > 0 {
		cfg.MaxTx = c.Int("max-tx")
	}
	if c.IsSet("only-erc20") {
		cfg.OnlyERC20 = c.Bool("only-erc20")
	}
	if c.IsSet("concurrency") && c.Int("concurrency") > 0 {
		cfg.FetchConcurrency = c.Int("concurrency")
	}
	if c.Bool("no-fallback") {
		cfg.FallbackMock = false
	}
	if c.IsSet("data-dir") {
		cfg.DataDir = c.String("data-dir")
	}
	if c.IsSet("metrics-file") {
		cfg.MetricsFile = c.String("metrics-file")
	}
}

func exportMetrics(c *cli.Context, cfg *config.Config) {
	if cfg.MetricsFile == "" {
		return
	}
	if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
		logger.Get().Warn(c.Context, "metrics not exported", logger.String("path", cfg.MetricsFile), logger.Error(err))
	}
}

type summary struct {
	RunID        string   `json:"run_id"`
	Source       string   `json:"source"`
	Chain        string   `json:"chain"`
	Error        string   `json:"error,omitempty"`
	Records      int      `json:"records"`
	Critical     int      `json:"critical"`
	NewAddresses []string `json:"new_addresses"`
}

func printResult(w io.Writer, res *service.RunResult, threshold int, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Summary  summary `json:"summary"`
			Metadata any     `json:"metadata"`
			Records  any     `json:"records"`
		}{
			Summary:  newSummary(res),
			Metadata: res.Metadata,
			Records:  res.Records,
		})
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TX_ID\tSCORE\tMETHOD\tTOKEN\tAMOUNT\tREASONS")
	for _, r := range res.Records {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			r.TxID, r.Score, r.Method, r.Token, r.Amount.String(), strings.Join(r.Reasons, sink.ReasonSeparator))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nrun %s (%s): %d records, %d below %d\n",
		res.Metadata.RunID, res.Source, len(res.Records), res.Critical, threshold)
	if res.Alert != nil {
		fmt.Fprintln(w, res.Alert.Message)
	}
	return nil
}

func newSummary(res *service.RunResult) summary {
	newAddrs := res.NewAddresses
	if newAddrs == nil {
		newAddrs = []string{}
	}
	return summary{
		RunID:        res.Metadata.RunID,
		Source:       res.Source,
		Chain:        res.Metadata.Chain,
		Error:        res.Metadata.Error,
		Records:      len(res.Records),
		Critical:     res.Critical,
		NewAddresses: newAddrs,
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cosmo-local-credit/counterdeploy/publish"
	"github.com/cosmo-local-credit/counterdeploy/publish/batch"
	"github.com/cosmo-local-credit/counterdeploy/publish/console"
	"github.com/cosmo-local-credit/counterdeploy/publish/contracts/counter"
	"github.com/cosmo-local-credit/counterdeploy/publish/journal"
	"github.com/cosmo-local-credit/counterdeploy/publish/solc"
)

// Version is set at build time.
var Version = "dev"

const bannerTitle = "COUNTER DEPLOYER"

type chainClient interface {
	batch.Chain
	counter.Caller
	CodeAt(ctx context.Context, addr common.Address) ([]byte, error)
	Close() error
}

type dialFunc func(ctx context.Context, cfg config) (chainClient, error)

// app holds the process boundary: streams and the constructors for the
// network and compiler collaborators.
type app struct {
	v      *viper.Viper
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	dial        dialFunc
	newCompiler func(path string) batch.Compiler
}

func dialDeployer(ctx context.Context, cfg config) (chainClient, error) {
	return publish.NewDeployer(ctx, cfg.RPCURL, cfg.PrivateKey, publish.Options{
		ChainID:   cfg.ChainID,
		GasLimit:  cfg.GasLimit,
		GasFeeCap: cfg.GasFeeCap,
		GasTipCap: cfg.GasTipCap,
	})
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{
		v:      newViper(),
		in:     in,
		out:    out,
		errOut: errOut,
		dial:   dialDeployer,
		newCompiler: func(path string) batch.Compiler {
			return solc.New(path)
		},
	}
}

func (a *app) rootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:   "counter-deploy",
		Short: "Compile the Counter contract and deploy it N times",
		Long: `counter-deploy compiles the bundled Counter contract once with solc and
deploys it to an EVM network as many times as requested, one transaction at a
time from a single key.

Configuration (in order of priority):
  1. Command-line flags
  2. Environment variables (PRIVATE_KEY, RPC_URL, CHAIN_ID, COUNT, ...)
  3. A .env file in the working directory (or --env-file)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return readEnvFile(a.v, envFile, cmd.Flags().Changed("env-file"))
		},
		RunE: a.runDeploy,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&envFile, "env-file", defaultEnvFile, "dotenv file to load")
	pf.String("log-level", defaultLogLevel, "log level (or LOG_LEVEL)")
	pf.String("log-format", "text", "text|json (or LOG_FORMAT)")
	pf.String("journal", "", "bbolt file recording every run (or JOURNAL_PATH)")
	pf.Bool("no-color", false, "disable colored output (or NO_COLOR)")
	pf.String("solc", solc.DefaultPath, "solc binary (or SOLC_PATH)")

	f := root.Flags()
	f.String("rpc-url", "", "RPC URL (or RPC_URL)")
	f.String("private-key", "", "private key hex (or PRIVATE_KEY)")
	f.String("public-address", "", "public address for validation (or PUBLIC_ADDRESS)")
	f.Int64("chain-id", 0, "chain id, 0 asks the node (or CHAIN_ID)")
	f.String("count", "", "number of deployments, prompts when empty (or COUNT)")
	f.Uint64("gas-limit", 0, "gas limit per deployment, 0 estimates (or GAS_LIMIT)")
	f.Int64("gas-fee-cap", 0, "EIP-1559 fee cap in wei, 0 asks the node (or GAS_FEE_CAP)")
	f.Int64("gas-tip-cap", 0, "EIP-1559 tip cap in wei, 0 asks the node (or GAS_TIP_CAP)")
	f.Int("timeout-seconds", defaultTimeoutSeconds, "confirmation timeout per deployment (or TIMEOUT_SECONDS)")
	f.Bool("verify-code", false, "require code and a zero getCount() at the new address (or VERIFY_CODE)")
	f.Bool("json", false, "print the run summary as JSON")

	for key, flag := range map[string]string{
		"log_level":       "log-level",
		"log_format":      "log-format",
		"journal_path":    "journal",
		"no_color":        "no-color",
		"rpc_url":         "rpc-url",
		"private_key":     "private-key",
		"public_address":  "public-address",
		"chain_id":        "chain-id",
		"count":           "count",
		"gas_limit":       "gas-limit",
		"gas_fee_cap":     "gas-fee-cap",
		"gas_tip_cap":     "gas-tip-cap",
		"timeout_seconds": "timeout-seconds",
		"solc_path":       "solc",
		"verify_code":     "verify-code",
		"json":            "json",
	} {
		fl := f.Lookup(flag)
		if fl == nil {
			fl = pf.Lookup(flag)
		}
		_ = a.v.BindPFlag(key, fl)
	}

	root.AddCommand(a.historyCmd(), a.versionCmd())
	return root
}

func (a *app) runDeploy(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(a.v)
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel, cfg.LogFormat, a.errOut)

	con := console.New(a.out, cfg.NoColor)
	con.Banner(bannerTitle)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chain, err := a.dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer chain.Close()
	log.WithFields(logrus.Fields{"deployer": cfg.Address.Hex(), "rpc_url": cfg.RPCURL}).Info("connected")

	var reporter batch.Reporter = con
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer j.Close()
		reporter = batch.MultiReporter(con, j.Reporter(log))
	}

	opts := []batch.Option{
		batch.WithReporter(reporter),
		batch.WithLogger(log),
		batch.WithAttemptTimeout(cfg.Timeout),
	}
	if cfg.VerifyCode {
		opts = append(opts,
			batch.WithCodeCheck(true),
			batch.WithVerifier(func(ctx context.Context, addr common.Address) error {
				return counter.CheckDeployed(ctx, chain, addr)
			}),
		)
	}
	runner := batch.New(a.newCompiler(cfg.SolcPath), chain, opts...)

	var counts batch.CountSource = batch.Prompt{In: a.in, Out: a.out}
	if cfg.Count != "" {
		counts = flagCount(cfg.Count)
	}

	summary, err := runner.Run(ctx, counts, counter.Source())
	if err != nil {
		return err
	}

	if cfg.JSON {
		return printJSON(a.out, summary)
	}
	return nil
}

// flagCount is a count given on the command line or in the environment.
type flagCount string

func (c flagCount) Count() (int, error) {
	return batch.ParseCount(string(c))
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.out, "counter-deploy version %s\n", Version)
			fmt.Fprintf(a.out, "contract %s %s (solidity %s, %s)\n",
				counter.Name(), counter.Version(), counter.SolidityVersion(), counter.License())

			c := solc.New(a.v.GetString("solc_path"))
			if v, err := c.Version(cmd.Context()); err == nil {
				fmt.Fprintf(a.out, "solc %s (%s)\n", v, c.Path())
			} else {
				fmt.Fprintf(a.out, "solc not available: %v\n", err)
			}
		},
	}
}

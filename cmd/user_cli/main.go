package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"bridge-runner/pkg/accounts"
	"bridge-runner/pkg/config"
	"bridge-runner/pkg/transactor"
	"bridge-runner/pkg/transfer"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

var (
	optionConfig = &cli.StringFlag{
		Name:    "config",
		Usage:   "path to CLI config file",
		EnvVars: []string{"BRIDGE_RUNNER_CONFIG"},
	}
	optionPrivateKeyFile = &cli.StringFlag{
		Name:     "private-key-file",
		Usage:    "file holding a single hex private key",
		Required: true,
		EnvVars:  []string{"PRIVATE_KEY_FILE"},
	}
)

func main() {
	app := &cli.App{
		Name:  "bridge-cli",
		Usage: "CLI for bridging a single account between the source and bridge chains",
		Commands: []*cli.Command{
			{
				Name:  "deposit",
				Usage: "Deposit a random amount from the source chain to the bridge chain",
				Flags: []cli.Flag{optionConfig, optionPrivateKeyFile},
				Action: func(c *cli.Context) error {
					return withBridge(c, func(ctx context.Context, b *transfer.Bridge, s transactor.Signer) (transactor.Result, error) {
						return b.Deposit(ctx, s)
					})
				},
			},
			{
				Name:  "withdraw",
				Usage: "Withdraw a random amount from the bridge chain and claim it",
				Flags: []cli.Flag{optionConfig, optionPrivateKeyFile},
				Action: func(c *cli.Context) error {
					return withBridge(c, func(ctx context.Context, b *transfer.Bridge, s transactor.Signer) (transactor.Result, error) {
						return b.Withdraw(ctx, s)
					})
				},
			},
			{
				Name:  "claim",
				Usage: "Claim an already confirmed withdrawal",
				Flags: []cli.Flag{
					optionConfig,
					optionPrivateKeyFile,
					&cli.StringFlag{
						Name:     "tx-hash",
						Usage:    "hash of the withdrawal transaction",
						Required: true,
					},
				},
				Action: func(c *cli.Context) error {
					raw := c.String("tx-hash")
					if len(strings.TrimPrefix(raw, "0x")) != 64 {
						return fmt.Errorf("tx-hash must be a 32 byte hex hash")
					}
					txHash := common.HexToHash(raw)
					return withBridge(c, func(ctx context.Context, b *transfer.Bridge, s transactor.Signer) (transactor.Result, error) {
						return b.Claim(ctx, s, txHash)
					})
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(app.Writer, "Exited with error: %v\n", err)
		os.Exit(1)
	}
}

type action func(ctx context.Context, b *transfer.Bridge, s transactor.Signer) (transactor.Result, error)

func withBridge(c *cli.Context, act action) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	cfg, err := config.Load(c.String(optionConfig.Name))
	if err != nil {
		return err
	}
	cfg.ApplyEnv(os.Getenv)
	// Single commands run regardless of the batch module toggles.
	cfg.Deposit.Enabled = true
	cfg.Withdraw.Enabled = true
	if err := cfg.Check(); err != nil {
		return err
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	keyFile, err := accounts.ExpandHome(c.String(optionPrivateKeyFile.Name))
	if err != nil {
		return err
	}
	buf, err := os.ReadFile(keyFile)
	if err != nil {
		return fmt.Errorf("failed to read private key file: %w", err)
	}
	acct, err := accounts.ParseAccount(string(buf))
	if err != nil {
		return err
	}
	log.Info().Msg("Signing address: " + acct.Address.Hex())

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	clients, err := transfer.Dial(ctx, cfg.Source.RPCUrl, cfg.Bridge.RPCUrl)
	if err != nil {
		return err
	}
	defer clients.Close()

	b, err := cfg.NewBridge(clients)
	if err != nil {
		return err
	}
	res, err := act(ctx, b, transactor.NewLocalSigner(acct.PrivateKey))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "tx %s confirmed in block %s\n", res.TxHash.Hex(), blockOf(res))
	return nil
}

func blockOf(res transactor.Result) string {
	if res.Receipt == nil || res.Receipt.BlockNumber == nil {
		return "unknown"
	}
	return res.Receipt.BlockNumber.String()
}

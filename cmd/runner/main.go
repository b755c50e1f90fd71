package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bridge-runner/pkg/accounts"
	"bridge-runner/pkg/config"
	"bridge-runner/pkg/metrics"
	"bridge-runner/pkg/runner"
	"bridge-runner/pkg/transfer"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

var (
	optionConfig = &cli.StringFlag{
		Name:     "config",
		Usage:    "path to runner config file",
		Required: false, // Defaults are used when unset
		EnvVars:  []string{"BRIDGE_RUNNER_CONFIG"},
	}
	optionEnvFile = &cli.StringFlag{
		Name:  "env-file",
		Usage: "optional .env file loaded before reading the environment",
		Value: ".env",
	}
)

func main() {
	app := &cli.App{
		Name:  "bridge-runner",
		Usage: "Bridges funds for every account in a keys file between the source and bridge chains",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Process every account once",
				Flags: []cli.Flag{
					optionConfig,
					optionEnvFile,
				},
				Action: func(c *cli.Context) error {
					return run(c)
				},
			},
			{
				Name:  "check-config",
				Usage: "Validate the config and exit",
				Flags: []cli.Flag{
					optionConfig,
					optionEnvFile,
				},
				Action: func(c *cli.Context) error {
					_, err := loadConfig(c)
					if err == nil {
						fmt.Fprintln(c.App.Writer, "config ok")
					}
					return err
				},
			},
		}}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(app.Writer, "exited with error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	envFile := c.String(optionEnvFile.Name)
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config.Config{}, fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}

	configFilePath := c.String(optionConfig.Name)
	if configFilePath == "" {
		log.Info().Msg("default config will be used")
	} else {
		log.Info().Str("config_file", configFilePath).Msg("loading config file")
	}
	cfg, err := config.Load(configFilePath)
	if err != nil {
		return config.Config{}, err
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Check(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func setupLogging(logLevel string) error {
	lvl, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	return nil
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg.LogLevel); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := accounts.Load(cfg.PrivateKeysFile, cfg.ShuffleWallets, rand.New(rand.NewSource(time.Now().UnixNano())))
	if err != nil {
		return err
	}
	if cfg.ShuffleWallets {
		log.Info().Msg("Wallets shuffled")
	}
	recorder, err := accounts.NewRecorder(cfg.CompletedFile, cfg.UncompletedFile)
	if err != nil {
		return err
	}

	clients, err := transfer.Dial(ctx, cfg.Source.RPCUrl, cfg.Bridge.RPCUrl)
	if err != nil {
		return err
	}
	defer clients.Close()

	bridge, err := cfg.NewBridge(clients)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	var reporter metrics.Reporter = metrics.Nop{}
	if cfg.Metrics.Enabled {
		reporter = metrics.NewDatadog(cfg.Metrics.APIKey, cfg.Metrics.AppKey, cfg.Metrics.Environment, runID)
	}

	r := runner.NewRunner(source, bridge, recorder, runner.Options{
		AccountDelay: cfg.Delays.Account.Range(),
		Reporter:     reporter,
		RunID:        runID,
	})
	summary, err := r.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintf(c.App.Writer, "shutting down...\n")
			return nil
		}
		return err
	}
	fmt.Fprintf(c.App.Writer, "run %s finished: %d completed, %d uncompleted\n",
		summary.RunID, summary.Completed, summary.Uncompleted)
	return nil
}

package config

import (
	"fmt"
	"math/big"

	"bridge-runner/pkg/amount"
	"bridge-runner/pkg/claim"
	"bridge-runner/pkg/shared"
	"bridge-runner/pkg/transactor"
	"bridge-runner/pkg/transfer"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

// NewBridge builds the lifecycle controller on top of dialed clients.
func (c *Config) NewBridge(clients *transfer.Clients) (*transfer.Bridge, error) {
	pipelineOpts := func(chainID *big.Int) transactor.Options {
		return transactor.Options{
			ChainID:             chainID,
			ReceiptPollInterval: c.Receipt.PollInterval,
			ReceiptPollAttempts: c.Receipt.PollAttempts,
		}
	}
	sourcePipeline, err := transactor.NewPipeline(clients.Source, shared.Source, pipelineOpts(clients.SourceChainID))
	if err != nil {
		return nil, err
	}
	bridgePipeline, err := transactor.NewPipeline(clients.Bridge, shared.Bridge, pipelineOpts(clients.BridgeChainID))
	if err != nil {
		return nil, err
	}

	source := transfer.Endpoint{
		Chain:       shared.Source,
		Executor:    sourcePipeline,
		Balance:     transactor.NativeBalance{Backend: clients.Source},
		Contract:    common.HexToAddress(c.Source.BridgeContract),
		ExplorerURL: c.Source.ExplorerURL,
		Pending:     shared.NewCanceller(clients.Source, clients.SourceChainID),
	}
	bridge := transfer.Endpoint{
		Chain:       shared.Bridge,
		Executor:    bridgePipeline,
		Balance:     transactor.NativeBalance{Backend: clients.Bridge},
		Contract:    common.HexToAddress(c.Bridge.BridgeContract),
		ExplorerURL: c.Bridge.ExplorerURL,
		Pending:     shared.NewCanceller(clients.Bridge, clients.BridgeChainID),
	}

	var withdrawBalance transfer.BalanceReader
	if c.Bridge.BalanceToken != "" {
		withdrawBalance = transactor.TokenBalance{Backend: clients.Bridge, Token: common.HexToAddress(c.Bridge.BalanceToken)}
		log.Debug().Msgf("Withdraw balance read from token %s", c.Bridge.BalanceToken)
	}

	resolver, err := c.NewResolver()
	if err != nil {
		return nil, err
	}

	selector := amount.NewSelector(c.RetryCount, c.Delays.Action.Range())
	return transfer.NewBridge(source, bridge, selector, resolver, c.BridgeOptions(withdrawBalance))
}

func (c *Config) NewResolver() (*claim.Resolver, error) {
	opts := []claim.Option{
		claim.WithPageSize(c.Claim.PageSize),
		claim.WithMaxPages(c.Claim.MaxPages),
		claim.WithRateLimit(c.Claim.RequestsPerSecond, 1),
	}
	if c.Claim.Origin != "" {
		opts = append(opts, claim.WithOrigin(c.Claim.Origin))
	}
	r, err := claim.NewResolver(c.Claim.APIURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create claims resolver: %w", err)
	}
	return r, nil
}

func (c *Config) BridgeOptions(withdrawBalance transfer.BalanceReader) transfer.Options {
	module := func(m Module) transfer.Module {
		return transfer.Module{Enabled: m.Enabled, Range: m.Range, Fixed: m.Fixed, Mode: m.AmountMode()}
	}
	return transfer.Options{
		RetryCount:          c.RetryCount,
		ActionDelay:         c.Delays.Action.Range(),
		ModuleDelay:         c.Delays.Module.Range(),
		Deposit:             module(c.Deposit.Module),
		Withdraw:            module(c.Withdraw),
		SelfTransfer:        module(c.SelfTransfer),
		DepositL2GasLimit:   new(big.Int).SetUint64(c.Deposit.L2GasLimit),
		ClaimGasLimit:       c.Claim.GasLimit,
		ClaimLookupAttempts: c.Claim.LookupAttempts,
		WithdrawBalance:     withdrawBalance,
		CancelPending:       c.CancelPendingTxes,
	}
}

// Package transfer drives one account through the deposit, withdraw and claim lifecycle.
package transfer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"bridge-runner/pkg/accounts"
	"bridge-runner/pkg/amount"
	"bridge-runner/pkg/bridgeabi"
	"bridge-runner/pkg/claim"
	"bridge-runner/pkg/delay"
	"bridge-runner/pkg/shared"
	"bridge-runner/pkg/transactor"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

const (
	DefaultClaimGasLimit   = 3_000_000
	DefaultDepositL2Gas    = 3_000_000
	depositGasLimitPercent = 130
	gasPricePercent        = 120
)

var (
	ErrInvalidOptions = errors.New("transfer: invalid options")
	ErrInvalidAccount = errors.New("transfer: account has no usable key")
)

type State int

const (
	SelectingAmount State = iota
	Submitting
	Confirmed
	ClaimLookup
	ClaimSubmitting
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case SelectingAmount:
		return "selecting_amount"
	case Submitting:
		return "submitting"
	case Confirmed:
		return "confirmed"
	case ClaimLookup:
		return "claim_lookup"
	case ClaimSubmitting:
		return "claim_submitting"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type Executor interface {
	Execute(ctx context.Context, signer transactor.Signer, req transactor.Request) (transactor.Result, error)
}

type BalanceReader interface {
	Balance(ctx context.Context, owner common.Address) (*big.Int, error)
}

type AmountSelector interface {
	Select(ctx context.Context, balance *big.Int, r amount.Range, f amount.FixedRange, mode amount.Mode) (*big.Int, error)
}

type ClaimResolver interface {
	ResolveWithRetry(ctx context.Context, address common.Address, txHash common.Hash, attempts int, wait delay.Range, sleep delay.Sleeper) (claim.Withdrawal, error)
}

type PendingCanceller interface {
	CancelPending(ctx context.Context, privateKey *ecdsa.PrivateKey) error
}

// Endpoint bundles what the controller needs from one chain.
type Endpoint struct {
	Chain       shared.Chain
	Executor    Executor
	Balance     BalanceReader
	Contract    common.Address
	ExplorerURL string
	// Pending is optional and only used when Options.CancelPending is set.
	Pending PendingCanceller
}

type Module struct {
	Enabled bool
	Range   amount.Range
	Fixed   amount.FixedRange
	Mode    amount.Mode
}

type Options struct {
	RetryCount  int
	ActionDelay delay.Range
	ModuleDelay delay.Range
	Sleep       delay.Sleeper

	Deposit      Module
	Withdraw     Module
	SelfTransfer Module

	DepositL2GasLimit   *big.Int
	ClaimGasLimit       uint64
	ClaimLookupAttempts int

	// WithdrawBalance reads the amount available to withdraw. Defaults to the bridge endpoint's Balance.
	WithdrawBalance BalanceReader
	CancelPending   bool
}

type Bridge struct {
	source   Endpoint
	bridge   Endpoint
	selector AmountSelector
	resolver ClaimResolver
	opts     Options
}

func NewBridge(source, bridge Endpoint, selector AmountSelector, resolver ClaimResolver, opts Options) (*Bridge, error) {
	if source.Executor == nil || source.Balance == nil || bridge.Executor == nil || bridge.Balance == nil {
		return nil, fmt.Errorf("%w: both endpoints need an executor and a balance reader", ErrInvalidOptions)
	}
	if selector == nil {
		return nil, fmt.Errorf("%w: nil amount selector", ErrInvalidOptions)
	}
	if opts.Withdraw.Enabled && resolver == nil {
		return nil, fmt.Errorf("%w: withdraw needs a claim resolver", ErrInvalidOptions)
	}
	if opts.RetryCount < 1 {
		return nil, fmt.Errorf("%w: retry count must be >= 1", ErrInvalidOptions)
	}
	for name, m := range map[string]Module{"deposit": opts.Deposit, "withdraw": opts.Withdraw, "self_transfer": opts.SelfTransfer} {
		if !m.Enabled {
			continue
		}
		if err := m.Range.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidOptions, name, err)
		}
		if err := m.Fixed.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidOptions, name, err)
		}
	}
	if opts.Sleep == nil {
		opts.Sleep = delay.Sleep
	}
	if opts.DepositL2GasLimit == nil || opts.DepositL2GasLimit.Sign() <= 0 {
		opts.DepositL2GasLimit = big.NewInt(DefaultDepositL2Gas)
	}
	if opts.ClaimGasLimit == 0 {
		opts.ClaimGasLimit = DefaultClaimGasLimit
	}
	if opts.ClaimLookupAttempts < 1 {
		opts.ClaimLookupAttempts = 1
	}
	if opts.WithdrawBalance == nil {
		opts.WithdrawBalance = bridge.Balance
	}
	return &Bridge{source: source, bridge: bridge, selector: selector, resolver: resolver, opts: opts}, nil
}

// Process runs every enabled module for acct in order deposit, withdraw, self-transfer, pausing
// for the module delay between them. Any failure ends the account in Failed.
func (b *Bridge) Process(ctx context.Context, acct accounts.Account) (State, error) {
	if acct.PrivateKey == nil {
		err := acct.Err
		if err == nil {
			err = ErrInvalidAccount
		}
		return Failed, err
	}
	signer := transactor.NewLocalSigner(acct.PrivateKey)

	if b.opts.CancelPending {
		for _, ep := range []Endpoint{b.source, b.bridge} {
			if ep.Pending == nil {
				continue
			}
			if err := ep.Pending.CancelPending(ctx, acct.PrivateKey); err != nil {
				return Failed, fmt.Errorf("failed to cancel pending txes on %s: %w", ep.Chain, err)
			}
		}
	}

	type step struct {
		name string
		run  func(context.Context, transactor.Signer) error
	}
	var steps []step
	if b.opts.Deposit.Enabled {
		steps = append(steps, step{"deposit", func(ctx context.Context, s transactor.Signer) error {
			_, err := b.Deposit(ctx, s)
			return err
		}})
	}
	if b.opts.Withdraw.Enabled {
		steps = append(steps, step{"withdraw", func(ctx context.Context, s transactor.Signer) error {
			_, err := b.Withdraw(ctx, s)
			return err
		}})
	}
	if b.opts.SelfTransfer.Enabled {
		steps = append(steps, step{"self_transfer", func(ctx context.Context, s transactor.Signer) error {
			_, err := b.SelfTransfer(ctx, s)
			return err
		}})
	}

	for i, st := range steps {
		if i > 0 {
			if err := b.opts.ModuleDelay.Wait(ctx, b.opts.Sleep); err != nil {
				b.transition(signer.Address(), Failed)
				return Failed, err
			}
		}
		if err := st.run(ctx, signer); err != nil {
			b.transition(signer.Address(), Failed)
			return Failed, fmt.Errorf("%s: %w", st.name, err)
		}
	}
	b.transition(signer.Address(), Done)
	return Done, nil
}

// Deposit bridges a random amount of the source chain's native currency to the same address on
// the bridge chain.
func (b *Bridge) Deposit(ctx context.Context, signer transactor.Signer) (transactor.Result, error) {
	owner := signer.Address()
	log.Info().Str("address", owner.Hex()).Msg("Starting deposit")

	value, err := b.selectAmount(ctx, owner, b.source.Balance, b.opts.Deposit, "deposit")
	if err != nil {
		return transactor.Result{}, err
	}
	data, err := bridgeabi.PackDepositETH(owner, value, b.opts.DepositL2GasLimit)
	if err != nil {
		return transactor.Result{}, err
	}

	b.transition(owner, Submitting)
	log.Info().Str("address", owner.Hex()).Msgf("Depositing %s ETH", amount.Format(value, b.opts.Deposit.Mode.Decimals()))
	res, err := b.source.Executor.Execute(ctx, signer, transactor.Request{
		To:              b.source.Contract,
		Data:            data,
		Value:           value,
		GasLimitPercent: depositGasLimitPercent,
		GasPricePercent: gasPricePercent,
	})
	if err != nil {
		return transactor.Result{}, err
	}
	b.transition(owner, Confirmed)
	b.logSuccess(owner, "Deposit", b.source, res)
	return res, nil
}

// Withdraw burns a random amount on the bridge chain, then claims it once the withdrawal shows up
// in the claims API. The returned result is the claim transaction's.
func (b *Bridge) Withdraw(ctx context.Context, signer transactor.Signer) (transactor.Result, error) {
	owner := signer.Address()
	log.Info().Str("address", owner.Hex()).Msg("Starting withdraw")

	value, err := b.selectAmount(ctx, owner, b.opts.WithdrawBalance, b.opts.Withdraw, "withdraw")
	if err != nil {
		return transactor.Result{}, err
	}
	data, err := bridgeabi.PackWithdrawETH(owner, value)
	if err != nil {
		return transactor.Result{}, err
	}

	b.transition(owner, Submitting)
	log.Info().Str("address", owner.Hex()).Msgf("Withdrawing %s ETH", amount.Format(value, b.opts.Withdraw.Mode.Decimals()))
	res, err := b.bridge.Executor.Execute(ctx, signer, transactor.Request{
		To:   b.bridge.Contract,
		Data: data,
	})
	if err != nil {
		return transactor.Result{}, err
	}
	b.transition(owner, Confirmed)
	b.logSuccess(owner, "Withdraw", b.bridge, res)

	if err := b.opts.ModuleDelay.Wait(ctx, b.opts.Sleep); err != nil {
		return transactor.Result{}, err
	}
	return b.Claim(ctx, signer, res.TxHash)
}

// Claim finalizes the withdrawal made in txHash.
func (b *Bridge) Claim(ctx context.Context, signer transactor.Signer, txHash common.Hash) (transactor.Result, error) {
	if b.resolver == nil {
		return transactor.Result{}, fmt.Errorf("%w: no claim resolver", ErrInvalidOptions)
	}
	owner := signer.Address()

	b.transition(owner, ClaimLookup)
	w, err := b.resolver.ResolveWithRetry(ctx, owner, txHash, b.opts.ClaimLookupAttempts, b.opts.ActionDelay, b.opts.Sleep)
	if err != nil {
		return transactor.Result{}, err
	}
	msg, err := w.Message()
	if err != nil {
		return transactor.Result{}, err
	}
	proof, err := w.Proof()
	if err != nil {
		return transactor.Result{}, err
	}
	data, err := bridgeabi.PackReceiveUpwardMessages([]bridgeabi.UpwardMessage{msg}, [][]byte{proof})
	if err != nil {
		return transactor.Result{}, err
	}

	b.transition(owner, ClaimSubmitting)
	log.Info().Str("address", owner.Hex()).Msgf("Claiming withdrawal %s, message hash: %s", txHash.Hex(), w.MessageHash)
	res, err := b.bridge.Executor.Execute(ctx, signer, transactor.Request{
		To:              b.bridge.Contract,
		Data:            data,
		GasLimit:        b.opts.ClaimGasLimit,
		GasPricePercent: gasPricePercent,
	})
	if err != nil {
		return transactor.Result{}, err
	}
	b.logSuccess(owner, "Claim", b.bridge, res)
	return res, nil
}

// SelfTransfer sends a random amount of the bridge chain's native currency back to the account.
func (b *Bridge) SelfTransfer(ctx context.Context, signer transactor.Signer) (transactor.Result, error) {
	owner := signer.Address()
	log.Info().Str("address", owner.Hex()).Msg("Starting self transfer")

	value, err := b.selectAmount(ctx, owner, b.bridge.Balance, b.opts.SelfTransfer, "self transfer")
	if err != nil {
		return transactor.Result{}, err
	}

	b.transition(owner, Submitting)
	log.Info().Str("address", owner.Hex()).Msgf("Transferring %s to self", amount.Format(value, b.opts.SelfTransfer.Mode.Decimals()))
	res, err := b.bridge.Executor.Execute(ctx, signer, transactor.Request{
		To:    owner,
		Value: value,
	})
	if err != nil {
		return transactor.Result{}, err
	}
	b.transition(owner, Confirmed)
	b.logSuccess(owner, "Self transfer", b.bridge, res)
	return res, nil
}

// selectAmount re-reads the balance and asks the selector again until it yields an amount or
// RetryCount rounds are used up, pausing for the action delay between rounds.
func (b *Bridge) selectAmount(ctx context.Context, owner common.Address, balance BalanceReader, m Module, label string) (*big.Int, error) {
	b.transition(owner, SelectingAmount)

	var lastErr error
	for attempt := 1; attempt <= b.opts.RetryCount; attempt++ {
		log.Info().Str("address", owner.Hex()).Msgf("Calculating %s amount [%d/%d]", label, attempt, b.opts.RetryCount)

		bal, err := balance.Balance(ctx, owner)
		if err != nil {
			return nil, err
		}
		value, err := b.selector.Select(ctx, bal, m.Range, m.Fixed, m.Mode)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, amount.ErrInsufficientBalance) {
			return nil, err
		}
		lastErr = err

		if attempt < b.opts.RetryCount {
			if err := b.opts.ActionDelay.Wait(ctx, b.opts.Sleep); err != nil {
				return nil, err
			}
		}
	}
	log.Error().Str("address", owner.Hex()).Msgf("Could not find a %s amount, attempts exhausted [%d/%d]",
		label, b.opts.RetryCount, b.opts.RetryCount)
	return nil, lastErr
}

func (b *Bridge) transition(owner common.Address, to State) {
	log.Debug().Str("address", owner.Hex()).Str("state", to.String()).Msg("State transition")
}

func (b *Bridge) logSuccess(owner common.Address, what string, ep Endpoint, res transactor.Result) {
	log.Info().
		Str("address", owner.Hex()).
		Str("status", "success").
		Uint64("nonce", res.Nonce).
		Msgf("%s tx confirmed on %s: %s", what, ep.Chain, shared.TxURL(ep.ExplorerURL, res.TxHash))
}

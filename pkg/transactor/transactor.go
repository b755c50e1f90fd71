package transactor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"bridge-runner/pkg/delay"
	"bridge-runner/pkg/shared"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"
)

// Stage errors. Every error returned by Execute matches exactly one of them via errors.Is.
var (
	ErrPrepare   = errors.New("transactor: prepare failed")
	ErrSign      = errors.New("transactor: sign failed")
	ErrBroadcast = errors.New("transactor: broadcast failed")
	ErrConfirm   = errors.New("transactor: confirmation failed")

	// ErrReverted is wrapped together with ErrConfirm when the receipt reports failure.
	ErrReverted = errors.New("transactor: transaction reverted")

	ErrInvalidOptions = errors.New("transactor: invalid options")
)

// Backend is the subset of *ethclient.Client used by the pipeline.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Request describes one transaction. Zero percents mean 100 (no adjustment).
type Request struct {
	To    common.Address
	Data  []byte
	Value *big.Int

	// GasLimit skips estimation when non-zero.
	GasLimit        uint64
	GasLimitPercent uint64
	GasPricePercent uint64
}

type Result struct {
	From    common.Address
	Nonce   uint64
	TxHash  common.Hash
	Receipt *types.Receipt
}

type Options struct {
	ChainID             *big.Int
	ReceiptPollInterval time.Duration
	ReceiptPollAttempts int
	Sleep               delay.Sleeper
}

// Pipeline runs prepare, sign, broadcast and wait for one chain. It never retries.
type Pipeline struct {
	backend Backend
	chain   shared.Chain
	opts    Options
}

func NewPipeline(backend Backend, chain shared.Chain, opts Options) (*Pipeline, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: nil backend", ErrInvalidOptions)
	}
	if opts.ChainID == nil || opts.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: chain id must be > 0", ErrInvalidOptions)
	}
	if opts.ReceiptPollInterval <= 0 || opts.ReceiptPollAttempts <= 0 {
		return nil, fmt.Errorf("%w: receipt polling must be positive", ErrInvalidOptions)
	}
	if opts.Sleep == nil {
		opts.Sleep = delay.Sleep
	}
	return &Pipeline{backend: backend, chain: chain, opts: opts}, nil
}

func (p *Pipeline) Chain() shared.Chain { return p.chain }

func (p *Pipeline) Execute(ctx context.Context, signer Signer, req Request) (Result, error) {
	from := signer.Address()

	tx, err := p.prepare(ctx, from, req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrPrepare, err)
	}

	signed, err := signer.SignTx(tx, p.opts.ChainID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrSign, err)
	}

	if err := p.backend.SendTransaction(ctx, signed); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrBroadcast, err)
	}
	log.Debug().Msgf("Tx sent on %s, hash: %s, nonce: %d, gas: %d, gas price: %s wei",
		p.chain, signed.Hash().Hex(), signed.Nonce(), signed.Gas(), signed.GasPrice())

	receipt, err := p.waitMined(ctx, signed.Hash())
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrConfirm, err)
	}

	return Result{
		From:    from,
		Nonce:   signed.Nonce(),
		TxHash:  signed.Hash(),
		Receipt: receipt,
	}, nil
}

func (p *Pipeline) prepare(ctx context.Context, from common.Address, req Request) (*types.Transaction, error) {
	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}

	nonce, err := p.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending nonce: %w", err)
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		est, err := p.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:  from,
			To:    &req.To,
			Value: value,
			Data:  req.Data,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to estimate gas: %w", err)
		}
		gasLimit = applyPercent(new(big.Int).SetUint64(est), req.GasLimitPercent).Uint64()
	}

	gasPrice, err := p.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	gasPrice = applyPercent(gasPrice, req.GasPricePercent)

	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &req.To,
		Value:    value,
		Data:     req.Data,
	}), nil
}

func (p *Pipeline) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	for idx := 0; idx < p.opts.ReceiptPollAttempts; idx++ {
		receipt, err := p.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("%w: hash %s, block %s", ErrReverted, hash.Hex(), receipt.BlockNumber)
			}
			log.Debug().Msgf("Tx included in block %s on %s, hash: %s", receipt.BlockNumber, p.chain, hash.Hex())
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("failed to get transaction receipt: %w", err)
		}
		if err := p.opts.Sleep(ctx, p.opts.ReceiptPollInterval); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("tx %s not included in block after %d attempts", hash.Hex(), p.opts.ReceiptPollAttempts)
}

func applyPercent(v *big.Int, percent uint64) *big.Int {
	if percent == 0 || percent == 100 {
		return new(big.Int).Set(v)
	}
	out := new(big.Int).Mul(v, new(big.Int).SetUint64(percent))
	return out.Div(out, big.NewInt(100))
}

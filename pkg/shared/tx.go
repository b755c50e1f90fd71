package shared

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
)

// PendingBackend is the subset of *ethclient.Client needed to detect and replace stuck transactions.
type PendingBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Canceller replaces every pending transaction of an account with a zero-value self transfer.
type Canceller struct {
	Backend      PendingBackend
	ChainID      *big.Int
	PollInterval time.Duration
	PollAttempts int
}

func NewCanceller(backend PendingBackend, chainID *big.Int) *Canceller {
	return &Canceller{
		Backend:      backend,
		ChainID:      chainID,
		PollInterval: time.Second,
		PollAttempts: 60,
	}
}

func (c *Canceller) CancelPending(ctx context.Context, privateKey *ecdsa.PrivateKey) error {
	if err := c.cancelAllPendingTransactions(ctx, privateKey); err != nil {
		return err
	}
	for idx := 0; idx < c.PollAttempts; idx++ {
		exist, err := PendingTransactionsExist(ctx, crypto.PubkeyToAddress(privateKey.PublicKey), c.Backend)
		if err != nil {
			return fmt.Errorf("failed to check pending transactions: %w", err)
		}
		if !exist {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.PollInterval):
		}
	}
	return fmt.Errorf("timeout: failed to cancel all pending transactions")
}

func (c *Canceller) cancelAllPendingTransactions(ctx context.Context, privateKey *ecdsa.PrivateKey) error {
	fromAddress := crypto.PubkeyToAddress(privateKey.PublicKey)
	currentNonce, err := c.Backend.PendingNonceAt(ctx, fromAddress)
	if err != nil {
		return fmt.Errorf("failed to get current pending nonce: %w", err)
	}
	latestNonce, err := c.Backend.NonceAt(ctx, fromAddress, nil)
	if err != nil {
		return fmt.Errorf("failed to get latest nonce: %w", err)
	}
	if currentNonce <= latestNonce {
		log.Debug().Str("address", fromAddress.Hex()).Msg("No pending transactions to cancel")
		return nil
	}

	suggestedGasPrice, err := c.Backend.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get suggested gas price: %w", err)
	}

	for nonce := latestNonce; nonce < currentNonce; nonce++ {
		gasPrice := new(big.Int).Set(suggestedGasPrice)
		const maxRetries = 5
		for retry := 0; retry < maxRetries; retry++ {
			if retry > 0 {
				increase := new(big.Int).Div(gasPrice, big.NewInt(10))
				gasPrice = gasPrice.Add(gasPrice, increase)
				gasPrice = gasPrice.Add(gasPrice, big.NewInt(1))
			}

			tx := types.NewTransaction(nonce, fromAddress, big.NewInt(0), 21000, gasPrice, nil)
			signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.ChainID), privateKey)
			if err != nil {
				return fmt.Errorf("failed to sign cancellation transaction for nonce %d: %w", nonce, err)
			}

			err = c.Backend.SendTransaction(ctx, signedTx)
			if err != nil {
				msg := err.Error()
				if strings.Contains(msg, "replacement transaction underpriced") || strings.Contains(msg, "already known") {
					log.Warn().Err(err).Msgf("Retry %d: cancellation for nonce %d rejected, increasing gas price", retry+1, nonce)
					continue
				}
				return fmt.Errorf("failed to send cancellation transaction for nonce %d: %w", nonce, err)
			}
			log.Info().Msgf("Sent cancel transaction for nonce %d with tx hash: %s, gas price: %s wei",
				nonce, signedTx.Hash().Hex(), gasPrice.String())
			break
		}
	}
	return nil
}

func PendingTransactionsExist(ctx context.Context, address common.Address, backend PendingBackend) (bool, error) {
	currentNonce, err := backend.PendingNonceAt(ctx, address)
	if err != nil {
		return false, fmt.Errorf("failed to get current pending nonce: %w", err)
	}
	latestNonce, err := backend.NonceAt(ctx, address, nil)
	if err != nil {
		return false, fmt.Errorf("failed to get latest nonce: %w", err)
	}
	return currentNonce > latestNonce, nil
}

package transactor

import (
	"context"
	"fmt"
	"math/big"

	"bridge-runner/pkg/bridgeabi"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

type BalanceBackend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

type CallBackend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// NativeBalance reads the chain's native currency balance.
type NativeBalance struct {
	Backend BalanceBackend
}

func (b NativeBalance) Balance(ctx context.Context, owner common.Address) (*big.Int, error) {
	balance, err := b.Backend.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance of %s: %w", owner.Hex(), err)
	}
	return balance, nil
}

// TokenBalance reads an ERC20 balance with balanceOf.
type TokenBalance struct {
	Backend CallBackend
	Token   common.Address
}

func (b TokenBalance) Balance(ctx context.Context, owner common.Address) (*big.Int, error) {
	data, err := bridgeabi.PackBalanceOf(owner)
	if err != nil {
		return nil, err
	}
	out, err := b.Backend.CallContract(ctx, ethereum.CallMsg{To: &b.Token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call balanceOf on %s: %w", b.Token.Hex(), err)
	}
	return bridgeabi.UnpackBalanceOf(out)
}

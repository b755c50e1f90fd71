package transfer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
)

// Clients holds the dialed RPC clients of both chains and their chain ids.
type Clients struct {
	Source        *ethclient.Client
	SourceChainID *big.Int
	Bridge        *ethclient.Client
	BridgeChainID *big.Int
}

func Dial(ctx context.Context, sourceRPCUrl, bridgeRPCUrl string) (*Clients, error) {
	sourceClient, err := ethclient.DialContext(ctx, sourceRPCUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to dial source rpc: %w", err)
	}
	sourceChainID, err := sourceClient.ChainID(ctx)
	if err != nil {
		sourceClient.Close()
		return nil, fmt.Errorf("failed to get source chain id: %w", err)
	}
	log.Debug().Msg("Source chain id: " + sourceChainID.String())

	bridgeClient, err := ethclient.DialContext(ctx, bridgeRPCUrl)
	if err != nil {
		sourceClient.Close()
		return nil, fmt.Errorf("failed to dial bridge rpc: %w", err)
	}
	bridgeChainID, err := bridgeClient.ChainID(ctx)
	if err != nil {
		sourceClient.Close()
		bridgeClient.Close()
		return nil, fmt.Errorf("failed to get bridge chain id: %w", err)
	}
	log.Debug().Msg("Bridge chain id: " + bridgeChainID.String())

	return &Clients{
		Source:        sourceClient,
		SourceChainID: sourceChainID,
		Bridge:        bridgeClient,
		BridgeChainID: bridgeChainID,
	}, nil
}

func (c *Clients) Close() {
	c.Source.Close()
	c.Bridge.Close()
}

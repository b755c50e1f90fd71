package bridgeabi

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var ErrInvalidInput = errors.New("bridgeabi: invalid input")

// UpwardMessage mirrors the MessageStruct accepted by receiveUpwardMessages.
type UpwardMessage struct {
	PayloadType uint32
	Payload     []byte
	Nonce       *big.Int
}

const bridgeABIJSON = `[
  {"type":"function","name":"depositETH","stateMutability":"payable","inputs":[
    {"name":"_to","type":"address"},
    {"name":"_amount","type":"uint256"},
    {"name":"_gasLimit","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"withdrawETH","stateMutability":"payable","inputs":[
    {"name":"_to","type":"address"},
    {"name":"_amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"receiveUpwardMessages","stateMutability":"nonpayable","inputs":[
    {"name":"msgs","type":"tuple[]","components":[
      {"name":"payloadType","type":"uint32"},
      {"name":"payload","type":"bytes"},
      {"name":"nonce","type":"uint256"}]},
    {"name":"signaturesArray","type":"bytes[]"}],"outputs":[]}
]`

const erc20ABIJSON = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
    {"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	initOnce sync.Once
	initErr  error

	bridgeABI abi.ABI
	erc20ABI  abi.ABI
)

func initABI() error {
	initOnce.Do(func() {
		var err error
		bridgeABI, err = abi.JSON(strings.NewReader(bridgeABIJSON))
		if err != nil {
			initErr = fmt.Errorf("bridgeabi: parse bridge ABI: %w", err)
			return
		}
		erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON))
		if err != nil {
			initErr = fmt.Errorf("bridgeabi: parse erc20 ABI: %w", err)
		}
	})
	return initErr
}

// PackDepositETH encodes depositETH(to, amount, gasLimit). gasLimit is the execution gas on the
// bridge chain, not the gas of the deposit transaction itself.
func PackDepositETH(to common.Address, amount, gasLimit *big.Int) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	if gasLimit == nil || gasLimit.Sign() <= 0 {
		return nil, fmt.Errorf("%w: gas limit must be > 0", ErrInvalidInput)
	}
	return bridgeABI.Pack("depositETH", to, amount, gasLimit)
}

func PackWithdrawETH(to common.Address, amount *big.Int) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	return bridgeABI.Pack("withdrawETH", to, amount)
}

// PackReceiveUpwardMessages encodes the claim call. msgs and proofs are matched by index.
func PackReceiveUpwardMessages(msgs []UpwardMessage, proofs [][]byte) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	if len(msgs) == 0 || len(msgs) != len(proofs) {
		return nil, fmt.Errorf("%w: %d messages with %d proofs", ErrInvalidInput, len(msgs), len(proofs))
	}
	for i := range msgs {
		if msgs[i].Nonce == nil || msgs[i].Nonce.Sign() < 0 {
			return nil, fmt.Errorf("%w: message %d nonce", ErrInvalidInput, i)
		}
		if len(proofs[i]) == 0 {
			return nil, fmt.Errorf("%w: message %d has empty proof", ErrInvalidInput, i)
		}
	}
	return bridgeABI.Pack("receiveUpwardMessages", msgs, proofs)
}

func PackBalanceOf(account common.Address) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	return erc20ABI.Pack("balanceOf", account)
}

func UnpackBalanceOf(data []byte) (*big.Int, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	out, err := erc20ABI.Unpack("balanceOf", data)
	if err != nil {
		return nil, fmt.Errorf("bridgeabi: unpack balanceOf: %w", err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("bridgeabi: unexpected balanceOf output")
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("bridgeabi: unexpected balanceOf type %T", out[0])
	}
	return balance, nil
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be > 0", ErrInvalidInput)
	}
	return nil
}

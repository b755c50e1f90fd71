package transfer

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bridge-runner/pkg/accounts"
	"bridge-runner/pkg/amount"
	"bridge-runner/pkg/claim"
	"bridge-runner/pkg/delay"
	"bridge-runner/pkg/shared"
	"bridge-runner/pkg/transactor"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sourceContract = common.HexToAddress("0xB74D5Dba3081bCaDb5D4e1CC77Cc4807E1c4ecf8")
	bridgeContract = common.HexToAddress("0xA3ED8915aE346bF85E56B6BB6b723091716f58b4")
	ether          = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

type fakeExecutor struct {
	requests []transactor.Request
	results  []transactor.Result
	errs     []error
}

func (f *fakeExecutor) Execute(_ context.Context, signer transactor.Signer, req transactor.Request) (transactor.Result, error) {
	i := len(f.requests)
	f.requests = append(f.requests, req)
	if i < len(f.errs) && f.errs[i] != nil {
		return transactor.Result{}, f.errs[i]
	}
	res := transactor.Result{From: signer.Address(), Nonce: uint64(i)}
	if i < len(f.results) {
		res = f.results[i]
	}
	return res, nil
}

type fakeBalance struct {
	values []*big.Int
	calls  int
}

func (f *fakeBalance) Balance(context.Context, common.Address) (*big.Int, error) {
	v := f.values[len(f.values)-1]
	if f.calls < len(f.values) {
		v = f.values[f.calls]
	}
	f.calls++
	return v, nil
}

type constRand float64

func (c constRand) Float64() float64 { return float64(c) }

type fakeCanceller struct{ calls int }

func (f *fakeCanceller) CancelPending(context.Context, *ecdsa.PrivateKey) error {
	f.calls++
	return nil
}

type harness struct {
	source, bridge       *fakeExecutor
	sourceBal, bridgeBal *fakeBalance
	acct                 accounts.Account
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &harness{
		source:    &fakeExecutor{},
		bridge:    &fakeExecutor{},
		sourceBal: &fakeBalance{values: []*big.Int{ether}},
		bridgeBal: &fakeBalance{values: []*big.Int{ether}},
		acct:      accounts.Account{Line: "k", Address: crypto.PubkeyToAddress(key.PublicKey), PrivateKey: key},
	}
}

func (h *harness) build(t *testing.T, resolver ClaimResolver, opts Options) *Bridge {
	t.Helper()
	if opts.RetryCount == 0 {
		opts.RetryCount = 3
	}
	opts.Sleep = delay.NoSleep
	sel := amount.NewSelector(opts.RetryCount, delay.Range{},
		amount.WithRand(constRand(0.5)), amount.WithSleeper(delay.NoSleep))

	b, err := NewBridge(
		Endpoint{Chain: shared.Source, Executor: h.source, Balance: h.sourceBal, Contract: sourceContract},
		Endpoint{Chain: shared.Bridge, Executor: h.bridge, Balance: h.bridgeBal, Contract: bridgeContract},
		sel, resolver, opts)
	require.NoError(t, err)
	return b
}

func depositModule() Module {
	return Module{Enabled: true, Range: amount.Range{Min: 0.0001, Max: 0.0001}, Fixed: amount.FixedRange{Min: 4, Max: 5}}
}

func withdrawModule() Module {
	return Module{Enabled: true, Range: amount.Range{Min: 0.005, Max: 0.007}, Fixed: amount.FixedRange{Min: 3, Max: 3}}
}

func claimsServer(t *testing.T, hashes ...string) *claim.Resolver {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		results := []map[string]any{}
		for _, h := range hashes {
			results = append(results, map[string]any{
				"hash":         h,
				"message_hash": "0x01",
				"claim_info": map[string]any{
					"from":    "0x90f8bf6a479f320ead074411a4b0e7944ea8c9c1",
					"to":      "0x90f8bf6a479f320ead074411a4b0e7944ea8c9c1",
					"value":   "6000000000000000",
					"message": map[string]any{"nonce": "3"},
					"proof":   map[string]any{"multisign_proof": "0x0102"},
				},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"results": results}})
	}))
	t.Cleanup(srv.Close)
	r, err := claim.NewResolver(srv.URL, claim.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return r
}

func TestProcess_ZeroBalanceNeverSubmits(t *testing.T) {
	h := newHarness(t)
	h.sourceBal.values = []*big.Int{big.NewInt(0)}
	b := h.build(t, nil, Options{Deposit: depositModule()})

	state, err := b.Process(context.Background(), h.acct)
	assert.Equal(t, Failed, state)
	require.ErrorIs(t, err, amount.ErrInsufficientBalance)
	assert.Empty(t, h.source.requests)
	assert.Equal(t, 3, h.sourceBal.calls)
}

func TestProcess_Deposit(t *testing.T) {
	h := newHarness(t)
	b := h.build(t, nil, Options{Deposit: depositModule()})

	state, err := b.Process(context.Background(), h.acct)
	require.NoError(t, err)
	assert.Equal(t, Done, state)
	require.Len(t, h.source.requests, 1)

	req := h.source.requests[0]
	assert.Equal(t, sourceContract, req.To)
	assert.Equal(t, "100000000000000", req.Value.String())
	assert.Equal(t, uint64(130), req.GasLimitPercent)
	assert.Equal(t, uint64(120), req.GasPricePercent)
	assert.Equal(t, crypto.Keccak256([]byte("depositETH(address,uint256,uint256)"))[:4], req.Data[:4])
	assert.Empty(t, h.bridge.requests)
}

func TestProcess_WithdrawAndClaim(t *testing.T) {
	h := newHarness(t)
	withdrawHash := common.HexToHash("0xabcdef00000000000000000000000000000000000000000000000000000000ff")
	h.bridge.results = []transactor.Result{{TxHash: withdrawHash}, {TxHash: common.HexToHash("0x02")}}

	resolver := claimsServer(t, "0x"+strings.ToUpper(withdrawHash.Hex()[2:]))
	b := h.build(t, resolver, Options{Withdraw: withdrawModule()})

	state, err := b.Process(context.Background(), h.acct)
	require.NoError(t, err)
	assert.Equal(t, Done, state)
	require.Len(t, h.bridge.requests, 2)

	withdraw := h.bridge.requests[0]
	assert.Equal(t, crypto.Keccak256([]byte("withdrawETH(address,uint256)"))[:4], withdraw.Data[:4])
	assert.Equal(t, common.LeftPadBytes(big.NewInt(6_000_000_000_000_000).Bytes(), 32), withdraw.Data[36:68])

	claimReq := h.bridge.requests[1]
	assert.Equal(t, bridgeContract, claimReq.To)
	assert.Equal(t, uint64(DefaultClaimGasLimit), claimReq.GasLimit)
	assert.Equal(t, uint64(120), claimReq.GasPricePercent)
	assert.Equal(t, crypto.Keccak256([]byte("receiveUpwardMessages((uint32,bytes,uint256)[],bytes[])"))[:4], claimReq.Data[:4])
	assert.Empty(t, h.source.requests)
}

func TestProcess_ClaimNotFoundFailsWithoutClaimTx(t *testing.T) {
	h := newHarness(t)
	h.bridge.results = []transactor.Result{{TxHash: common.HexToHash("0xaa")}}

	resolver := claimsServer(t, common.HexToHash("0xbb").Hex())
	b := h.build(t, resolver, Options{Withdraw: withdrawModule()})

	state, err := b.Process(context.Background(), h.acct)
	assert.Equal(t, Failed, state)
	require.ErrorIs(t, err, claim.ErrClaimNotFound)
	assert.Len(t, h.bridge.requests, 1)
}

func TestProcess_PipelineFailureStopsAccount(t *testing.T) {
	h := newHarness(t)
	h.source.errs = []error{transactor.ErrBroadcast}
	b := h.build(t, claimsServer(t), Options{Deposit: depositModule(), Withdraw: withdrawModule()})

	state, err := b.Process(context.Background(), h.acct)
	assert.Equal(t, Failed, state)
	require.ErrorIs(t, err, transactor.ErrBroadcast)
	assert.Empty(t, h.bridge.requests)
}

func TestProcess_ModuleDelayCancelledLogsFailure(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf).Level(zerolog.DebugLevel)
	t.Cleanup(func() { log.Logger = prev })

	h := newHarness(t)
	b := h.build(t, claimsServer(t), Options{
		Deposit:     depositModule(),
		Withdraw:    withdrawModule(),
		ModuleDelay: delay.Range{Min: time.Millisecond, Max: time.Millisecond},
	})
	b.opts.Sleep = func(context.Context, time.Duration) error { return context.Canceled }

	state, err := b.Process(context.Background(), h.acct)
	assert.Equal(t, Failed, state)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, h.source.requests, 1)
	assert.Empty(t, h.bridge.requests)
	assert.Contains(t, buf.String(), `"state":"failed"`)
}

func TestProcess_InvalidAccount(t *testing.T) {
	h := newHarness(t)
	b := h.build(t, nil, Options{Deposit: depositModule()})

	state, err := b.Process(context.Background(), accounts.Account{Line: "junk", Err: accounts.ErrInvalidKey})
	assert.Equal(t, Failed, state)
	require.ErrorIs(t, err, accounts.ErrInvalidKey)
}

func TestProcess_CancelsPendingFirst(t *testing.T) {
	h := newHarness(t)
	sel := amount.NewSelector(1, delay.Range{}, amount.WithRand(constRand(0.5)), amount.WithSleeper(delay.NoSleep))
	src, dst := &fakeCanceller{}, &fakeCanceller{}

	b, err := NewBridge(
		Endpoint{Chain: shared.Source, Executor: h.source, Balance: h.sourceBal, Pending: src},
		Endpoint{Chain: shared.Bridge, Executor: h.bridge, Balance: h.bridgeBal, Pending: dst},
		sel, nil, Options{RetryCount: 1, Deposit: depositModule(), CancelPending: true, Sleep: delay.NoSleep})
	require.NoError(t, err)

	_, err = b.Process(context.Background(), h.acct)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, 1, dst.calls)
}

type scriptedSelector struct {
	calls    int
	balances []string
	succeed  int
}

func (s *scriptedSelector) Select(_ context.Context, balance *big.Int, _ amount.Range, _ amount.FixedRange, _ amount.Mode) (*big.Int, error) {
	s.calls++
	s.balances = append(s.balances, balance.String())
	if s.calls == s.succeed {
		return big.NewInt(1), nil
	}
	return nil, amount.ErrInsufficientBalance
}

func TestSelectAmount_RereadsBalanceEachRound(t *testing.T) {
	h := newHarness(t)
	h.sourceBal.values = []*big.Int{big.NewInt(0), big.NewInt(5)}
	sel := &scriptedSelector{succeed: 2}

	b, err := NewBridge(
		Endpoint{Executor: h.source, Balance: h.sourceBal},
		Endpoint{Executor: h.bridge, Balance: h.bridgeBal},
		sel, nil, Options{RetryCount: 3, Sleep: delay.NoSleep})
	require.NoError(t, err)

	v, err := b.selectAmount(context.Background(), h.acct.Address, h.sourceBal, depositModule(), "deposit")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Int64())
	assert.Equal(t, []string{"0", "5"}, sel.balances)
}

func TestSelectAmount_StopsOnOtherErrors(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("boom")
	sel := selectorFunc(func() (*big.Int, error) { return nil, boom })

	b, err := NewBridge(
		Endpoint{Executor: h.source, Balance: h.sourceBal},
		Endpoint{Executor: h.bridge, Balance: h.bridgeBal},
		sel, nil, Options{RetryCount: 3, Sleep: delay.NoSleep})
	require.NoError(t, err)

	_, err = b.selectAmount(context.Background(), h.acct.Address, h.sourceBal, depositModule(), "deposit")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, h.sourceBal.calls)
}

type selectorFunc func() (*big.Int, error)

func (f selectorFunc) Select(context.Context, *big.Int, amount.Range, amount.FixedRange, amount.Mode) (*big.Int, error) {
	return f()
}

func TestNewBridge_Validates(t *testing.T) {
	h := newHarness(t)
	sel := selectorFunc(func() (*big.Int, error) { return nil, nil })
	src := Endpoint{Executor: h.source, Balance: h.sourceBal}
	dst := Endpoint{Executor: h.bridge, Balance: h.bridgeBal}

	_, err := NewBridge(src, dst, sel, nil, Options{})
	require.ErrorIs(t, err, ErrInvalidOptions)
	_, err = NewBridge(src, dst, sel, nil, Options{RetryCount: 1, Withdraw: withdrawModule()})
	require.ErrorIs(t, err, ErrInvalidOptions)
	_, err = NewBridge(src, Endpoint{}, sel, nil, Options{RetryCount: 1})
	require.ErrorIs(t, err, ErrInvalidOptions)

	bad := depositModule()
	bad.Range = amount.Range{Min: 2, Max: 1}
	_, err = NewBridge(src, dst, sel, nil, Options{RetryCount: 1, Deposit: bad})
	require.ErrorIs(t, err, ErrInvalidOptions)
}

package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"bridge-runner/pkg/accounts"

	datadog "github.com/DataDog/datadog-api-client-go/api/v2/datadog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatadog_AccountOutcome(t *testing.T) {
	addr := common.HexToAddress("0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1")

	var got []datadog.MetricPayload
	var keys any
	d := NewDatadog("api", "app", "test", "run-1")
	d.now = func() time.Time { return time.Unix(1700000000, 0) }
	d.submit = func(ctx context.Context, p datadog.MetricPayload) error {
		keys = ctx.Value(datadog.ContextAPIKeys)
		got = append(got, p)
		return nil
	}

	d.AccountOutcome(context.Background(), addr, accounts.Uncompleted, 90*time.Second)

	require.Len(t, got, 1)
	require.Len(t, got[0].Series, 1)
	s := got[0].Series[0]
	assert.Equal(t, "bridge.account.uncompleted", s.Metric)
	assert.Equal(t, datadog.METRICINTAKETYPE_GAUGE, *s.Type)
	assert.Equal(t, int64(1700000000), *s.Points[0].Timestamp)
	assert.Equal(t, 90.0, *s.Points[0].Value)
	assert.Equal(t, []string{"environment:test", "account_addr:" + addr.Hex(), "run_id:run-1"}, s.Tags)

	m, ok := keys.(map[string]datadog.APIKey)
	require.True(t, ok)
	assert.Equal(t, "api", m["apiKeyAuth"].Key)
}

func TestDatadog_SubmitErrorIsSwallowed(t *testing.T) {
	d := NewDatadog("", "", "test", "run")
	calls := 0
	d.submit = func(context.Context, datadog.MetricPayload) error {
		calls++
		return errors.New("403")
	}
	d.AccountOutcome(context.Background(), common.Address{}, accounts.Completed, time.Second)
	assert.Equal(t, 1, calls)
}

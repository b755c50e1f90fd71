// Package metrics reports per-account outcomes to Datadog.
package metrics

import (
	"context"
	"time"

	"bridge-runner/pkg/accounts"

	datadog "github.com/DataDog/datadog-api-client-go/api/v2/datadog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

type Reporter interface {
	AccountOutcome(ctx context.Context, address common.Address, outcome accounts.Outcome, elapsed time.Duration)
}

type Nop struct{}

func (Nop) AccountOutcome(context.Context, common.Address, accounts.Outcome, time.Duration) {}

type submitFunc func(ctx context.Context, payload datadog.MetricPayload) error

// Datadog submits one gauge per processed account. Submission errors are logged, never returned.
type Datadog struct {
	keys        map[string]datadog.APIKey
	environment string
	runID       string
	now         func() time.Time
	submit      submitFunc
}

func NewDatadog(apiKey, appKey, environment, runID string) *Datadog {
	apiClient := datadog.NewAPIClient(datadog.NewConfiguration())
	return &Datadog{
		keys: map[string]datadog.APIKey{
			"apiKeyAuth": {Key: apiKey},
			"appKeyAuth": {Key: appKey},
		},
		environment: environment,
		runID:       runID,
		now:         time.Now,
		submit: func(ctx context.Context, payload datadog.MetricPayload) error {
			_, _, err := apiClient.MetricsApi.SubmitMetrics(ctx, payload)
			return err
		},
	}
}

func (d *Datadog) AccountOutcome(ctx context.Context, address common.Address, outcome accounts.Outcome, elapsed time.Duration) {
	ctx = context.WithValue(ctx, datadog.ContextAPIKeys, d.keys)
	payload := d.outcomePayload(address, outcome, elapsed)
	if err := d.submit(ctx, payload); err != nil {
		log.Warn().Err(err).Msgf("Failed to post metric %s to Datadog", payload.Series[0].Metric)
		return
	}
	log.Debug().Msgf("Metric %s posted successfully", payload.Series[0].Metric)
}

func (d *Datadog) outcomePayload(address common.Address, outcome accounts.Outcome, elapsed time.Duration) datadog.MetricPayload {
	point := datadog.MetricPoint{
		Timestamp: datadog.PtrInt64(d.now().Unix()),
		Value:     datadog.PtrFloat64(elapsed.Seconds()),
	}
	series := datadog.MetricSeries{
		Metric: "bridge.account." + outcome.String(),
		Type:   datadog.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadog.MetricPoint{point},
		Tags: []string{
			"environment:" + d.environment,
			"account_addr:" + address.Hex(),
			"run_id:" + d.runID,
		},
	}
	return datadog.MetricPayload{Series: []datadog.MetricSeries{series}}
}

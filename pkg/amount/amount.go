// Package amount picks bridge transfer amounts inside a configured range without exceeding the
// live balance of the account.
package amount

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"math/rand"
	"strings"
	"time"

	"bridge-runner/pkg/delay"

	"github.com/cockroachdb/apd/v3"
	"github.com/rs/zerolog/log"
)

// ErrInsufficientBalance is returned when no amount can be selected: the balance is zero or every
// sample exceeded it. It is the selector's only "no value" result; returned amounts are always > 0.
var ErrInsufficientBalance = errors.New("amount: insufficient balance")

type Mode int

const (
	// Native amounts use 18 decimals.
	Native Mode = iota
	// Token amounts use 6 decimals.
	Token
)

func (m Mode) Decimals() int32 {
	if m == Token {
		return 6
	}
	return 18
}

func (m Mode) String() string {
	if m == Token {
		return "token"
	}
	return "native"
}

// Range bounds the magnitude of a transfer, in whole units.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

func (r Range) Validate() error {
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || r.Min < 0 || r.Max < r.Min {
		return fmt.Errorf("amount: invalid range [%v, %v]", r.Min, r.Max)
	}
	return nil
}

// MaxPrecision is the largest number of fractional digits a FixedRange may ask for.
const MaxPrecision = 36

// FixedRange bounds the number of fractional digits kept in a sampled amount.
type FixedRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

func (f FixedRange) Validate() error {
	if f.Min < 0 || f.Max < f.Min || f.Max > MaxPrecision {
		return fmt.Errorf("amount: invalid fixed range [%d, %d]", f.Min, f.Max)
	}
	return nil
}

// RandSource yields uniform samples in [0, 1). *rand.Rand satisfies it.
type RandSource interface {
	Float64() float64
}

type Selector struct {
	retryCount  int
	rand        RandSource
	actionDelay delay.Range
	sleep       delay.Sleeper
}

type Option func(*Selector)

func WithRand(r RandSource) Option {
	return func(s *Selector) { s.rand = r }
}

func WithSleeper(sleep delay.Sleeper) Option {
	return func(s *Selector) { s.sleep = sleep }
}

func NewSelector(retryCount int, actionDelay delay.Range, opts ...Option) *Selector {
	s := &Selector{
		retryCount:  retryCount,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
		actionDelay: actionDelay,
		sleep:       delay.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select samples an amount from r rounded to a precision drawn from f, in the smallest unit of mode.
// Samples above balance are rejected and resampled up to the retry count; they are never clamped.
func (s *Selector) Select(ctx context.Context, balance *big.Int, r Range, f FixedRange, mode Mode) (*big.Int, error) {
	if balance == nil || balance.Sign() <= 0 {
		return nil, fmt.Errorf("%w: balance is zero", ErrInsufficientBalance)
	}
	decimals := mode.Decimals()

	for attempt := 1; attempt <= s.retryCount; attempt++ {
		magnitude := r.Min + s.rand.Float64()*(r.Max-r.Min)
		precision := int(math.Floor(float64(f.Min) + s.rand.Float64()*float64(f.Max-f.Min)))

		value, err := Round(magnitude, precision, decimals)
		if err != nil {
			return nil, err
		}

		switch {
		case value.Sign() <= 0:
			log.Info().Msgf("Sampled amount %.*f rounds to zero [%d/%d]", precision, magnitude, attempt, s.retryCount)
		case value.Cmp(balance) > 0:
			log.Info().Msgf("Sampled %s amount %s is greater than balance %s [%d/%d]",
				mode, Format(value, decimals), Format(balance, decimals), attempt, s.retryCount)
		default:
			return value, nil
		}

		if attempt < s.retryCount {
			if err := s.actionDelay.Wait(ctx, s.sleep); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("%w: no amount within balance %s after %d attempts",
		ErrInsufficientBalance, Format(balance, decimals), s.retryCount)
}

// Round rounds magnitude half-up to precision fractional digits and converts it to an integer
// amount with the given number of decimals. Digits below the smallest unit are truncated.
func Round(magnitude float64, precision int, decimals int32) (*big.Int, error) {
	if precision < 0 {
		return nil, fmt.Errorf("amount: negative precision %d", precision)
	}
	ctx := apd.BaseContext.WithPrecision(100)
	ctx.Rounding = apd.RoundHalfUp

	d, err := new(apd.Decimal).SetFloat64(magnitude)
	if err != nil {
		return nil, fmt.Errorf("amount: invalid magnitude %v: %w", magnitude, err)
	}
	if _, err := ctx.Quantize(d, d, -int32(precision)); err != nil {
		return nil, fmt.Errorf("amount: round %v to %d digits: %w", magnitude, precision, err)
	}

	scaled := new(apd.Decimal)
	if _, err := ctx.Mul(scaled, d, apd.New(1, decimals)); err != nil {
		return nil, fmt.Errorf("amount: scale %s: %w", d, err)
	}
	ctx.Rounding = apd.RoundDown
	if _, err := ctx.Quantize(scaled, scaled, 0); err != nil {
		return nil, fmt.Errorf("amount: truncate %s: %w", scaled, err)
	}

	out, ok := new(big.Int).SetString(scaled.Text('f'), 10)
	if !ok {
		return nil, fmt.Errorf("amount: cannot convert %s to integer", scaled.Text('f'))
	}
	return out, nil
}

// Format renders a smallest-unit amount as a decimal string with trailing zeros removed.
func Format(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	d, _, err := apd.NewFromString(v.String())
	if err != nil {
		return v.String()
	}
	d.Exponent -= decimals
	out := d.Text('f')
	if strings.Contains(out, ".") {
		out = strings.TrimRight(strings.TrimRight(out, "0"), ".")
	}
	return out
}

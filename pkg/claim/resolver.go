package claim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"bridge-runner/pkg/delay"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	ErrClaimNotFound       = errors.New("claim: withdrawal not found")
	ErrMalformedRecord     = errors.New("claim: malformed withdrawal record")
	ErrInvalidResolverConf = errors.New("claim: invalid resolver config")
)

const (
	DefaultOrigin   = "https://testnet-bridge.reddio.com"
	DefaultPageSize = 100

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	secChUA   = `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`
)

type Option func(*Resolver) error

func WithHTTPClient(hc *http.Client) Option {
	return func(r *Resolver) error {
		if hc == nil {
			return fmt.Errorf("%w: nil http client", ErrInvalidResolverConf)
		}
		r.hc = hc
		return nil
	}
}

// WithOrigin sets the origin and referer headers.
func WithOrigin(origin string) Option {
	return func(r *Resolver) error {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "" {
			return fmt.Errorf("%w: empty origin", ErrInvalidResolverConf)
		}
		r.origin = origin
		return nil
	}
}

func WithPageSize(n int) Option {
	return func(r *Resolver) error {
		if n <= 0 {
			return fmt.Errorf("%w: page size must be > 0", ErrInvalidResolverConf)
		}
		r.pageSize = n
		return nil
	}
}

func WithMaxPages(n int) Option {
	return func(r *Resolver) error {
		if n <= 0 {
			return fmt.Errorf("%w: max pages must be > 0", ErrInvalidResolverConf)
		}
		r.maxPages = n
		return nil
	}
}

// WithRateLimit caps requests per second. Zero disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(r *Resolver) error {
		if rps < 0 || (rps > 0 && burst <= 0) {
			return fmt.Errorf("%w: bad rate limit %v/%d", ErrInvalidResolverConf, rps, burst)
		}
		if rps == 0 {
			r.limiter = nil
			return nil
		}
		r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		return nil
	}
}

// Resolver looks up withdrawal records in the bridge's withdrawals API.
type Resolver struct {
	endpoint     *url.URL
	origin       string
	hc           *http.Client
	pageSize     int
	maxPages     int
	limiter      *rate.Limiter
	maxRespBytes int64
}

func NewResolver(baseURL string, opts ...Option) (*Resolver, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("%w: missing api url", ErrInvalidResolverConf)
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse api url: %v", ErrInvalidResolverConf, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidResolverConf, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidResolverConf)
	}
	basePath := u.Path
	if basePath == "" {
		basePath = "/"
	}
	u.Path = path.Join(basePath, "/bridge/withdrawals")

	r := &Resolver{
		endpoint:     u,
		origin:       DefaultOrigin,
		hc:           &http.Client{Timeout: 30 * time.Second},
		pageSize:     DefaultPageSize,
		maxPages:     1,
		maxRespBytes: 8 << 20,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Resolve returns the withdrawal whose hash equals txHash, ignoring hex case.
func (r *Resolver) Resolve(ctx context.Context, address common.Address, txHash common.Hash) (Withdrawal, error) {
	want := strings.ToLower(txHash.Hex())
	for page := 1; page <= r.maxPages; page++ {
		results, err := r.fetchPage(ctx, address, page)
		if err != nil {
			return Withdrawal{}, err
		}
		for _, raw := range results {
			var h entryHash
			if err := json.Unmarshal(raw, &h); err != nil {
				log.Debug().Err(err).Msgf("Skipping unreadable withdrawal on page %d", page)
				continue
			}
			if strings.ToLower(strings.TrimSpace(h.Hash)) != want {
				continue
			}
			var w Withdrawal
			if err := json.Unmarshal(raw, &w); err != nil {
				return Withdrawal{}, fmt.Errorf("%w: withdrawal %s: %v", ErrMalformedRecord, txHash.Hex(), err)
			}
			log.Debug().Msgf("Found withdrawal %s on page %d, message hash: %s", txHash.Hex(), page, w.MessageHash)
			return w, nil
		}
		if len(results) < r.pageSize {
			break
		}
	}
	return Withdrawal{}, fmt.Errorf("%w: %s for %s", ErrClaimNotFound, txHash.Hex(), address.Hex())
}

// ResolveWithRetry repeats Resolve while the record is missing, waiting between attempts.
// Any other error is returned at once.
func (r *Resolver) ResolveWithRetry(ctx context.Context, address common.Address, txHash common.Hash, attempts int, wait delay.Range, sleep delay.Sleeper) (Withdrawal, error) {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		var w Withdrawal
		w, err = r.Resolve(ctx, address, txHash)
		if err == nil || !errors.Is(err, ErrClaimNotFound) {
			return w, err
		}
		if i == attempts {
			break
		}
		log.Info().Msgf("Withdrawal %s not indexed yet, attempt %d/%d", txHash.Hex(), i, attempts)
		if err := wait.Wait(ctx, sleep); err != nil {
			return Withdrawal{}, err
		}
	}
	return Withdrawal{}, err
}

func (r *Resolver) fetchPage(ctx context.Context, address common.Address, page int) ([]json.RawMessage, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("claim: rate limiter: %w", err)
		}
	}

	b, err := json.Marshal(listRequest{Address: address.Hex(), Page: page, PageSize: r.pageSize})
	if err != nil {
		return nil, fmt.Errorf("claim: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint.String(), bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("claim: build request: %w", err)
	}
	r.setHeaders(req)

	resp, err := r.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("claim: http do: %w", err)
	}
	defer resp.Body.Close()

	body, err := readAllLimited(resp.Body, r.maxRespBytes)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("claim: status %d: %s", resp.StatusCode, msg)
	}

	var out listResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("claim: unmarshal response: %w", err)
	}
	return out.Data.Results, nil
}

func (r *Resolver) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Origin", r.origin)
	req.Header.Set("Referer", r.origin+"/")
	req.Header.Set("Priority", "u=1, i")
	req.Header.Set("Sec-Ch-Ua", secChUA)
	req.Header.Set("Sec-Ch-Ua-Mobile", "?0")
	req.Header.Set("Sec-Ch-Ua-Platform", `"Windows"`)
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Site", "same-site")
	req.Header.Set("User-Agent", userAgent)
}

func readAllLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("claim: read response: %w", err)
	}
	if int64(len(b)) > maxBytes {
		return nil, fmt.Errorf("claim: response too large")
	}
	return b, nil
}

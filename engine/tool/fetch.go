package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/CairnAI/cairn-engine/engine/domain"
	"github.com/CairnAI/cairn-engine/pkg/resilience"
)

// FetchResult is the parsed body of one fetched source.
type FetchResult struct {
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	FetchedAt   time.Time `json:"fetched_at"`
	// Body is decoded JSON for JSON responses, a string otherwise.
	Body any `json:"body"`
}

// FetchOptions configures the fetch tool.
type FetchOptions struct {
	// RequestsPerSecond throttles outbound calls across all requests.
	RequestsPerSecond float64
	Burst             int
	MaxBodyBytes      int64
	Timeout           time.Duration
	CacheTTL          time.Duration
}

// DefaultFetchOptions returns polite defaults for external sources.
func DefaultFetchOptions() FetchOptions {
	return FetchOptions{
		RequestsPerSecond: 2,
		Burst:             4,
		MaxBodyBytes:      1 << 20,
		Timeout:           10 * time.Second,
		CacheTTL:          24 * time.Hour,
	}
}

// FetchTool retrieves external sources over HTTP. A shared rate limiter
// keeps the engine polite toward upstreams and a breaker stops hammering
// a source that keeps failing.
type FetchTool struct {
	client  *http.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	opts    FetchOptions
}

// NewFetch creates the fetch tool.
func NewFetch(opts FetchOptions) *FetchTool {
	def := DefaultFetchOptions()
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = def.RequestsPerSecond
	}
	if opts.Burst <= 0 {
		opts.Burst = def.Burst
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = def.MaxBodyBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = def.CacheTTL
	}
	return &FetchTool{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		breaker: resilience.New(resilience.DefaultOpts),
		opts:    opts,
	}
}

// Spec implements Tool.
func (t *FetchTool) Spec() Spec {
	return Spec{
		Name:        NameFetch,
		Cacheable:   true,
		CacheTTL:    t.opts.CacheTTL,
		Idempotent:  true,
		InputSchema: InputSchema{Args: map[string]ArgSpec{"url": {Type: "string", Required: true}}},
	}
}

// Execute implements Tool. The target comes from Args["url"].
func (t *FetchTool) Execute(ctx context.Context, in Input) (any, error) {
	raw, _ := in.Args["url"].(string)
	target, err := url.Parse(raw)
	if err != nil || target.Host == "" || (target.Scheme != "http" && target.Scheme != "https") {
		return nil, fmt.Errorf("fetch: invalid url %q", raw)
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	var out *FetchResult
	err = t.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		out, err = t.fetch(ctx, target.String())
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (t *FetchTool) fetch(ctx context.Context, target string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain, text/html")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w: %w", target, domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d: %w", target, resp.StatusCode, domain.ErrSourceUnavailable)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.opts.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w: %w", target, domain.ErrSourceUnavailable, err)
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)
	result := &FetchResult{URL: target, ContentType: mediaType, FetchedAt: time.Now().UTC()}

	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var decoded any
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, fmt.Errorf("fetch %s: decode json: %w: %w", target, domain.ErrParse, err)
		}
		result.Body = decoded
	case strings.HasPrefix(mediaType, "text/"):
		result.Body = string(body)
	default:
		return nil, fmt.Errorf("fetch %s: unsupported content type %q: %w", target, contentType, domain.ErrParse)
	}
	return result, nil
}

package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"trading-indstream/internal/model"
)

const (
	quotePath      = "/quote"
	historicalPath = "/historical-chart/"

	// Layout of candle dates in historical responses (exchange-local, treated as UTC).
	dateLayout = "2006-01-02 15:04:05"
)

var intervalParam = map[model.Timeframe]string{
	model.OneMinute:      "1min",
	model.FiveMinutes:    "5min",
	model.FifteenMinutes: "15min",
	model.ThirtyMinutes:  "30min",
	model.OneHour:        "1hour",
	model.FourHours:      "4hour",
	model.OneDay:         "1day",
}

// HTTPConfig configures the REST price feed client.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// RatePerMinute caps outbound requests; 0 disables the local limiter.
	RatePerMinute int

	// Native is the candle granularity requested for history.
	Native model.Timeframe
}

// HTTPClient fetches quotes and history from a REST API. Responses are JSON
// parsed with gjson; a quote is either an object or a one-element array.
type HTTPClient struct {
	cfg     HTTPConfig
	httpc   *http.Client
	limiter *rate.Limiter
}

// Ensure HTTPClient implements the PriceFeed interface.
var _ model.PriceFeed = (*HTTPClient)(nil)

// NewHTTPClient creates a REST feed client.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("feed base url %q: %w", cfg.BaseURL, err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if !cfg.Native.Valid() {
		cfg.Native = model.OneMinute
	}
	c := &HTTPClient{
		cfg:   cfg,
		httpc: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RatePerMinute > 0 {
		burst := cfg.RatePerMinute / 6
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), burst)
	}
	return c, nil
}

// GetCurrentPrice fetches the latest quote for symbol.
func (c *HTTPClient) GetCurrentPrice(ctx context.Context, symbol string) (model.PriceSample, error) {
	params := url.Values{}
	params.Add("symbol", symbol)

	body, err := c.get(ctx, quotePath, params)
	if err != nil {
		return model.PriceSample{}, fmt.Errorf("quote %s: %w", symbol, err)
	}

	quote := gjson.ParseBytes(body)
	if quote.IsArray() {
		arr := quote.Array()
		if len(arr) == 0 {
			return model.PriceSample{}, fmt.Errorf("quote %s: %w", symbol, ErrUnknownSymbol)
		}
		quote = arr[0]
	}
	price := quote.Get("price")
	if !price.Exists() {
		return model.PriceSample{}, fmt.Errorf("quote %s: %w", symbol, ErrUnknownSymbol)
	}
	value, err := decimal.NewFromString(price.String())
	if err != nil {
		return model.PriceSample{}, fmt.Errorf("quote %s: parsing price %q: %w", symbol, price.Raw, err)
	}

	ts := time.Now().UTC()
	if t := quote.Get("timestamp"); t.Exists() && t.Int() > 0 {
		ts = time.Unix(t.Int(), 0).UTC()
	}
	return model.NewPriceSample(symbol, value, ts)
}

// GetHistoricalCandles fetches native-timeframe candles in [start, end].
func (c *HTTPClient) GetHistoricalCandles(ctx context.Context, symbol string, start, end time.Time) ([]model.Candle, error) {
	params := url.Values{}
	params.Add("symbol", symbol)
	params.Add("from", start.UTC().Format(dateLayout))
	if !end.IsZero() {
		params.Add("to", end.UTC().Format(dateLayout))
	}

	body, err := c.get(ctx, historicalPath+intervalParam[c.cfg.Native], params)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", symbol, err)
	}

	data := gjson.ParseBytes(body).Array()
	candles, err := parseCandles(data)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", symbol, err)
	}

	// the API returns newest first
	sort.Slice(candles, func(i, j int) bool { return candles[i].TS.Before(candles[j].TS) })

	out := candles[:0]
	for _, cd := range candles {
		if cd.TS.Before(start) || (!end.IsZero() && cd.TS.After(end)) {
			continue
		}
		out = append(out, cd)
	}
	return out, nil
}

// GetHistoricalPrices returns candle closes in [start, end].
func (c *HTTPClient) GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time) ([]model.PriceSample, error) {
	candles, err := c.GetHistoricalCandles(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	return model.SamplesFromCandles(symbol, candles), nil
}

// parseCandles parses candlesticks from the provided json data.
func parseCandles(data []gjson.Result) ([]model.Candle, error) {
	candles := make([]model.Candle, 0, len(data))
	for idx := range data {
		var candle model.Candle
		var err error

		fields := []struct {
			name string
			dst  *decimal.Decimal
		}{
			{"open", &candle.Open},
			{"high", &candle.High},
			{"low", &candle.Low},
			{"close", &candle.Close},
			{"volume", &candle.Volume},
		}
		for _, f := range fields {
			if *f.dst, err = decimal.NewFromString(data[idx].Get(f.name).String()); err != nil {
				return nil, fmt.Errorf("parsing candle %d %s: %w", idx, f.name, err)
			}
		}

		dt, err := time.ParseInLocation(dateLayout, data[idx].Get("date").String(), time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parsing candle %d date: %w", idx, err)
		}
		candle.TS = dt
		candles = append(candles, candle)
	}
	return candles, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if c.limiter != nil && !c.limiter.Allow() {
		return nil, fmt.Errorf("local limiter: %w", ErrRateLimited)
	}
	if c.cfg.APIKey != "" {
		params.Add("apikey", c.cfg.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body: %w", ErrTransport, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrUnknownSymbol
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid json body", ErrTransport)
	}
	return body, nil
}

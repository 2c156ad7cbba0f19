package indengine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trading-indstream/internal/cache"
	"trading-indstream/internal/feed"
	"trading-indstream/internal/gateway"
	"trading-indstream/internal/indicator"
	"trading-indstream/internal/logger"
	"trading-indstream/internal/model"
	"trading-indstream/internal/subscription"
)

const apiTimeout = 15 * time.Second

// registerAPI mounts the REST endpoints next to the WebSocket gateway.
func (svc *Service) registerAPI(mux *http.ServeMux) {
	mux.Handle("/healthz", svc.health)
	mux.Handle("/metrics", promhttp.HandlerFor(svc.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/api/indicators/calculate", svc.traced(svc.handleCalculate))
	mux.HandleFunc("/api/alignment", svc.traced(svc.handleAlignment))
	mux.HandleFunc("/api/stats", svc.traced(svc.handleStats))
	mux.HandleFunc("/api/cache/invalidate", svc.traced(svc.handleInvalidate))
}

// traced attaches a trace id to the request context and echoes it back.
func (svc *Service) traced(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gateway.SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		id := r.Header.Get("X-Trace-ID")
		if id == "" {
			id = logger.NewTraceID()
		}
		w.Header().Set("X-Trace-ID", id)
		next(w, r.WithContext(logger.WithTraceID(r.Context(), id)))
	}
}

// GET /api/indicators/calculate?symbol=AAPL&type=RSI&period=14&timeframe=5m
func (svc *Service) handleCalculate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	spec, err := specFromQuery(q.Get)
	if err != nil {
		svc.writeError(w, r, err)
		return
	}
	if tf := q.Get("timeframe"); tf != "" {
		if spec.Timeframe, err = model.ParseTimeframe(tf); err != nil {
			svc.writeError(w, r, err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()
	res, err := svc.CalculateIndicator(ctx, q.Get("symbol"), spec)
	if err != nil {
		svc.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.NewIndicatorUpdate(res))
}

// GET /api/alignment?symbol=AAPL&type=SMA&period=20&timeframes=1m,5m,15m
func (svc *Service) handleAlignment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	symbol := strings.ToUpper(strings.TrimSpace(q.Get("symbol")))
	if symbol == "" {
		svc.writeError(w, r, &model.ValidationError{Field: "symbol", Reason: "must not be empty"})
		return
	}
	spec, err := specFromQuery(q.Get)
	if err != nil {
		svc.writeError(w, r, err)
		return
	}
	raw := q.Get("timeframes")
	if raw == "" {
		raw = "1m,5m,15m,1h"
	}
	var tfs []model.Timeframe
	for _, s := range strings.Split(raw, ",") {
		tf, err := model.ParseTimeframe(strings.TrimSpace(s))
		if err != nil {
			svc.writeError(w, r, err)
			return
		}
		tfs = append(tfs, tf)
	}

	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()
	al, err := svc.calc.Alignment(ctx, symbol, spec, tfs)
	if err != nil {
		svc.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "spec": spec.Key(), "alignment": al})
}

type statsResponse struct {
	Subscriptions subscription.Stats     `json:"subscriptions"`
	Cache         cache.Stats            `json:"cache"`
	QueueDepth    int                    `json:"queueDepth"`
	QueueCapacity int                    `json:"queueCapacity"`
	Clients       int                    `json:"clients"`
	Latency       gateway.LatencySummary `json:"latency"`
	RedisBreaker  string                 `json:"redisBreaker,omitempty"`
	NativeTF      model.Timeframe        `json:"nativeTimeframe"`
}

// GET /api/stats
func (svc *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	events := svc.poller.Events()
	resp := statsResponse{
		Subscriptions: svc.subs.Stats(),
		Cache:         svc.cache.GetStatistics(),
		QueueDepth:    len(events),
		QueueCapacity: cap(events),
		Clients:       svc.hub.ClientCount(),
		Latency:       svc.hub.Latency.Summary(),
		NativeTF:      svc.calc.Native(),
	}
	if svc.redis != nil {
		resp.RedisBreaker = svc.redis.Breaker().CurrentState().String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /api/cache/invalidate?symbol=AAPL or ?pattern=^ind:AAPL:
func (svc *Service) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	var removed int
	switch {
	case q.Get("symbol") != "":
		removed = svc.calc.InvalidateSymbol(r.Context(), strings.ToUpper(strings.TrimSpace(q.Get("symbol"))))
	case q.Get("pattern") != "":
		re, err := regexp.Compile(q.Get("pattern"))
		if err != nil {
			svc.writeError(w, r, &model.ValidationError{Field: "pattern", Reason: err.Error()})
			return
		}
		removed = svc.cache.RemoveByPattern(r.Context(), re)
	default:
		svc.writeError(w, r, &model.ValidationError{Field: "symbol", Reason: "symbol or pattern is required"})
		return
	}
	svc.log.Info("cache invalidated", append(logger.LogWithTrace(r.Context()), "removed", removed)...)
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// specFromQuery builds an indicator spec from type, period, fast, slow and
// signal parameters. Timeframe is left to the caller.
func specFromQuery(get func(string) string) (model.IndicatorSpec, error) {
	typ, err := model.ParseIndicatorType(get("type"))
	if err != nil {
		return model.IndicatorSpec{}, err
	}
	spec := model.IndicatorSpec{Type: typ}
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"period", &spec.Period},
		{"fast", &spec.Fast},
		{"slow", &spec.Slow},
		{"signal", &spec.Signal},
	} {
		v := get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return spec, &model.ValidationError{Field: p.name, Reason: "must be an integer"}
		}
		*p.dst = n
	}
	return spec, nil
}

func statusFor(err error) int {
	var invalid *model.ValidationError
	var insufficient *indicator.InsufficientDataError
	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.Is(err, feed.ErrUnknownSymbol):
		return http.StatusNotFound
	case errors.Is(err, feed.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.As(err, &insufficient):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func (svc *Service) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		svc.log.Warn("api request failed", append(logger.LogWithTrace(r.Context()), "path", r.URL.Path, "err", err)...)
	}
	writeJSON(w, code, map[string]string{"error": err.Error(), "kind": FailureKind(err)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

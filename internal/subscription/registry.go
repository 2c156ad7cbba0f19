// Package subscription tracks which connections want which indicator
// streams and pushes recomputed values to exactly those connections.
//
// All index mutations (subscribe, unsubscribe, disconnect) happen under one
// registry mutex, so a disconnect can never race a subscribe into
// resurrecting an entry. Each (symbol, spec) entry has its own mutex held
// across compute and send, which keeps per-entry delivery in computation
// order while different entries and symbols run in parallel.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"trading-indstream/internal/model"
)

var (
	// ErrUnknownConnection is returned for connections that were never
	// registered or have already disconnected.
	ErrUnknownConnection = errors.New("subscription: unknown connection")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("subscription: registry closed")
)

// Computer resolves specs and computes indicator values for the registry.
type Computer interface {
	// Resolve validates spec and fills defaults such as the native timeframe,
	// so equal streams share one key.
	Resolve(spec model.IndicatorSpec) (model.IndicatorSpec, error)

	// Compute returns the current value of spec for symbol. latest, when
	// non-nil, is a just-polled sample to include in the window.
	Compute(ctx context.Context, symbol string, spec model.IndicatorSpec, latest *model.PriceSample) (model.IndicatorResult, error)
}

// Stats is a point-in-time view of registry sizes.
type Stats struct {
	Connections  int `json:"connections"`
	Entries      int `json:"entries"`
	PriceEntries int `json:"priceEntries"`
	Symbols      int `json:"symbols"`
}

type entryKey string

func makeKey(symbol string, spec model.IndicatorSpec) entryKey {
	return entryKey(symbol + "|" + spec.Key())
}

// entry is one (symbol, spec) stream. conns is guarded by Registry.mu;
// mu serializes compute+send for the stream.
type entry struct {
	mu     sync.Mutex
	symbol string
	spec   model.IndicatorSpec
	conns  map[string]struct{}
}

type connState struct {
	keys   map[entryKey]struct{}
	prices map[string]struct{}
}

// Config configures a Registry.
type Config struct {
	Computer  Computer
	Transport model.Transport
	Logger    *slog.Logger

	// MaxParallel bounds concurrent spec computations per Recompute call.
	// 0 means unbounded.
	MaxParallel int
}

// Registry is the owned subscription state of one service instance.
type Registry struct {
	computer  Computer
	transport model.Transport
	log       *slog.Logger
	parallel  int

	mu        sync.Mutex
	closed    bool
	conns     map[string]*connState
	entries   map[entryKey]*entry
	bySymbol  map[string]map[entryKey]struct{}
	priceSubs map[string]map[string]struct{} // symbol → conns
	latest    map[string]model.PriceSample    // last polled sample per subscribed symbol

	// Optional hooks, set before use.
	OnChange    func(Stats)
	OnComputed  func(symbol string, spec model.IndicatorSpec)
	OnFailure   func(symbol string, spec model.IndicatorSpec, err error)
	OnSendError func(connID string, err error)
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{
		computer:  cfg.Computer,
		transport: cfg.Transport,
		log:       cfg.Logger.With("component", "registry"),
		parallel:  cfg.MaxParallel,
		conns:     make(map[string]*connState),
		entries:   make(map[entryKey]*entry),
		bySymbol:  make(map[string]map[entryKey]struct{}),
		priceSubs: make(map[string]map[string]struct{}),
		latest:    make(map[string]model.PriceSample),
	}
}

func normalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return "", &model.ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	return s, nil
}

// OnConnect registers a connection. Registering twice is a no-op.
func (r *Registry) OnConnect(connID string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if _, ok := r.conns[connID]; !ok {
		r.conns[connID] = &connState{
			keys:   make(map[entryKey]struct{}),
			prices: make(map[string]struct{}),
		}
	}
	stats := r.statsLocked()
	r.mu.Unlock()
	r.changed(stats)
	return nil
}

// OnDisconnect removes connID from every index and drops entries left
// without subscribers. Unknown connections are ignored.
func (r *Registry) OnDisconnect(connID string) {
	r.mu.Lock()
	cs, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)
	for k := range cs.keys {
		if e, ok := r.entries[k]; ok {
			delete(e.conns, connID)
			r.dropIfEmptyLocked(k, e)
		}
	}
	for sym := range cs.prices {
		r.removePriceLocked(sym, connID)
	}
	stats := r.statsLocked()
	r.mu.Unlock()

	r.log.Debug("connection removed", "conn", connID, "streams", len(cs.keys), "prices", len(cs.prices))
	r.changed(stats)
}

// Subscribe registers interest of connID in (symbol, spec). It is
// idempotent. Once registered, accepted (if non-nil) is called, then the
// current value is computed and sent to connID only; a failure there is
// logged, not returned.
func (r *Registry) Subscribe(ctx context.Context, connID, symbol string, spec model.IndicatorSpec, accepted func()) error {
	symbol, err := normalizeSymbol(symbol)
	if err != nil {
		return err
	}
	spec, err = r.computer.Resolve(spec)
	if err != nil {
		return err
	}
	key := makeKey(symbol, spec)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	cs, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("subscribe %s %s: %w", symbol, spec.Key(), ErrUnknownConnection)
	}
	e, ok := r.entries[key]
	if !ok {
		e = &entry{symbol: symbol, spec: spec, conns: make(map[string]struct{})}
		r.entries[key] = e
		if r.bySymbol[symbol] == nil {
			r.bySymbol[symbol] = make(map[entryKey]struct{})
		}
		r.bySymbol[symbol][key] = struct{}{}
	}
	e.conns[connID] = struct{}{}
	cs.keys[key] = struct{}{}
	stats := r.statsLocked()
	r.mu.Unlock()
	r.changed(stats)

	if accepted != nil {
		accepted()
	}
	r.pushInitial(ctx, e, connID)
	return nil
}

// pushInitial computes e with the symbol's last polled sample and sends the
// value to connID alone.
func (r *Registry) pushInitial(ctx context.Context, e *entry, connID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var latest *model.PriceSample
	r.mu.Lock()
	if s, ok := r.latest[e.symbol]; ok {
		latest = &s
	}
	r.mu.Unlock()

	res, err := r.computer.Compute(ctx, e.symbol, e.spec, latest)
	if err != nil {
		r.failed(e, err)
		return
	}
	if r.OnComputed != nil {
		r.OnComputed(e.symbol, e.spec)
	}

	r.mu.Lock()
	_, still := e.conns[connID]
	r.mu.Unlock()
	if !still {
		return
	}
	r.send(connID, model.ChannelIndicator, model.NewIndicatorUpdate(res))
}

// Unsubscribe removes connID's interest in (symbol, spec). Removing an
// absent subscription is a no-op.
func (r *Registry) Unsubscribe(connID, symbol string, spec model.IndicatorSpec) error {
	symbol, err := normalizeSymbol(symbol)
	if err != nil {
		return err
	}
	spec, err = r.computer.Resolve(spec)
	if err != nil {
		return err
	}
	key := makeKey(symbol, spec)

	r.mu.Lock()
	cs, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unsubscribe %s %s: %w", symbol, spec.Key(), ErrUnknownConnection)
	}
	delete(cs.keys, key)
	if e, ok := r.entries[key]; ok {
		delete(e.conns, connID)
		r.dropIfEmptyLocked(key, e)
	}
	stats := r.statsLocked()
	r.mu.Unlock()
	r.changed(stats)
	return nil
}

// SubscribePrice registers interest of connID in raw prices of symbol.
func (r *Registry) SubscribePrice(connID, symbol string) error {
	symbol, err := normalizeSymbol(symbol)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	cs, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("subscribe price %s: %w", symbol, ErrUnknownConnection)
	}
	if r.priceSubs[symbol] == nil {
		r.priceSubs[symbol] = make(map[string]struct{})
	}
	r.priceSubs[symbol][connID] = struct{}{}
	cs.prices[symbol] = struct{}{}
	stats := r.statsLocked()
	r.mu.Unlock()
	r.changed(stats)
	return nil
}

// UnsubscribePrice removes connID's raw price interest in symbol.
func (r *Registry) UnsubscribePrice(connID, symbol string) error {
	symbol, err := normalizeSymbol(symbol)
	if err != nil {
		return err
	}
	r.mu.Lock()
	cs, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unsubscribe price %s: %w", symbol, ErrUnknownConnection)
	}
	delete(cs.prices, symbol)
	r.removePriceLocked(symbol, connID)
	stats := r.statsLocked()
	r.mu.Unlock()
	r.changed(stats)
	return nil
}

// PublishPrice records sample as its symbol's latest, sends it to the raw
// price subscribers and returns how many were targeted.
func (r *Registry) PublishPrice(sample model.PriceSample) int {
	r.mu.Lock()
	r.rememberLocked(sample)
	targets := setKeys(r.priceSubs[sample.Symbol])
	r.mu.Unlock()

	payload := model.NewPriceUpdate(sample)
	for _, id := range targets {
		r.send(id, model.ChannelPrice, payload)
	}
	return len(targets)
}

// Recompute computes every spec subscribed under symbol in parallel and
// pushes each result to that spec's subscribers. A failing spec is logged
// and does not affect the others.
func (r *Registry) Recompute(ctx context.Context, symbol string, latest *model.PriceSample) error {
	r.mu.Lock()
	if latest != nil && latest.Symbol == symbol {
		r.rememberLocked(*latest)
	}
	keys := r.bySymbol[symbol]
	entries := make([]*entry, 0, len(keys))
	for k := range keys {
		entries = append(entries, r.entries[k])
	}
	r.mu.Unlock()
	if len(entries) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if r.parallel > 0 {
		g.SetLimit(r.parallel)
	}
	for _, e := range entries {
		e := e
		g.Go(func() error {
			r.recomputeEntry(gctx, e, latest)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (r *Registry) recomputeEntry(ctx context.Context, e *entry, latest *model.PriceSample) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := r.computer.Compute(ctx, e.symbol, e.spec, latest)
	if err != nil {
		r.failed(e, err)
		return
	}
	if r.OnComputed != nil {
		r.OnComputed(e.symbol, e.spec)
	}

	r.mu.Lock()
	targets := setKeys(e.conns)
	r.mu.Unlock()

	payload := model.NewIndicatorUpdate(res)
	for _, id := range targets {
		r.send(id, model.ChannelIndicator, payload)
	}
}

// rememberLocked keeps sample if its symbol is subscribed and it is not
// older than the one already kept.
func (r *Registry) rememberLocked(sample model.PriceSample) {
	if !r.subscribedLocked(sample.Symbol) {
		return
	}
	if cur, ok := r.latest[sample.Symbol]; ok && sample.TS.Before(cur.TS) {
		return
	}
	r.latest[sample.Symbol] = sample
}

func (r *Registry) subscribedLocked(symbol string) bool {
	_, ind := r.bySymbol[symbol]
	_, price := r.priceSubs[symbol]
	return ind || price
}

// forgetLocked drops the kept sample once nobody subscribes to symbol.
func (r *Registry) forgetLocked(symbol string) {
	if !r.subscribedLocked(symbol) {
		delete(r.latest, symbol)
	}
}

func (r *Registry) failed(e *entry, err error) {
	r.log.Warn("indicator compute failed", "symbol", e.symbol, "spec", e.spec.Key(), "err", err)
	if r.OnFailure != nil {
		r.OnFailure(e.symbol, e.spec, err)
	}
}

func (r *Registry) send(connID, channel string, payload any) {
	if err := r.transport.Send(connID, channel, payload); err != nil {
		r.log.Debug("send failed", "conn", connID, "channel", channel, "err", err)
		if r.OnSendError != nil {
			r.OnSendError(connID, err)
		}
	}
}

// Symbols returns every symbol with an indicator or raw price subscriber,
// sorted.
func (r *Registry) Symbols() []string {
	r.mu.Lock()
	set := make(map[string]struct{}, len(r.bySymbol)+len(r.priceSubs))
	for s := range r.bySymbol {
		set[s] = struct{}{}
	}
	for s := range r.priceSubs {
		set[s] = struct{}{}
	}
	r.mu.Unlock()
	return setKeys(set)
}

// Subscribers returns the connections registered for (symbol, spec), sorted.
func (r *Registry) Subscribers(symbol string, spec model.IndicatorSpec) []string {
	symbol, err := normalizeSymbol(symbol)
	if err != nil {
		return nil
	}
	spec, err = r.computer.Resolve(spec)
	if err != nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[makeKey(symbol, spec)]; ok {
		return setKeys(e.conns)
	}
	return nil
}

// Stats returns current registry sizes.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statsLocked()
}

// Close discards all subscriptions and rejects further registrations.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.conns = make(map[string]*connState)
	r.entries = make(map[entryKey]*entry)
	r.bySymbol = make(map[string]map[entryKey]struct{})
	r.priceSubs = make(map[string]map[string]struct{})
	r.latest = make(map[string]model.PriceSample)
	stats := r.statsLocked()
	r.mu.Unlock()
	r.changed(stats)
}

func (r *Registry) dropIfEmptyLocked(key entryKey, e *entry) {
	if len(e.conns) > 0 {
		return
	}
	delete(r.entries, key)
	if set := r.bySymbol[e.symbol]; set != nil {
		delete(set, key)
		if len(set) == 0 {
			delete(r.bySymbol, e.symbol)
		}
	}
	r.forgetLocked(e.symbol)
}

func (r *Registry) removePriceLocked(symbol, connID string) {
	set := r.priceSubs[symbol]
	if set == nil {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.priceSubs, symbol)
	}
	r.forgetLocked(symbol)
}

func (r *Registry) statsLocked() Stats {
	symbols := len(r.bySymbol)
	for s := range r.priceSubs {
		if _, ok := r.bySymbol[s]; !ok {
			symbols++
		}
	}
	return Stats{
		Connections:  len(r.conns),
		Entries:      len(r.entries),
		PriceEntries: len(r.priceSubs),
		Symbols:      symbols,
	}
}

func (r *Registry) changed(s Stats) {
	if r.OnChange != nil {
		r.OnChange(s)
	}
}

func setKeys[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

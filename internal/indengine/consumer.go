package indengine

import (
	"context"
	"sync"
	"time"

	"trading-indstream/internal/model"
)

// recomputer is the registry side of the worker pool.
type recomputer interface {
	Recompute(ctx context.Context, symbol string, latest *model.PriceSample) error
}

// workerPool consumes SymbolUpdated events. Symbols are processed by at
// most one worker at a time; events that arrive while their symbol is busy
// collapse into a single pending sample, so a burst costs one extra
// recompute with the newest price.
type workerPool struct {
	events <-chan model.SymbolUpdated
	target recomputer
	size   int

	mu      sync.Mutex
	busy    map[string]bool
	pending map[string]model.PriceSample

	onDone func(symbol string, elapsed time.Duration, err error)
}

func newWorkerPool(events <-chan model.SymbolUpdated, target recomputer, size int) *workerPool {
	if size <= 0 {
		size = 1
	}
	return &workerPool{
		events:  events,
		target:  target,
		size:    size,
		busy:    make(map[string]bool),
		pending: make(map[string]model.PriceSample),
	}
}

// run starts the workers and blocks until ctx is cancelled and every
// worker has returned.
func (p *workerPool) run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx)
		}()
	}
	wg.Wait()
}

func (p *workerPool) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-p.events:
			if !ok {
				return
			}
			if !p.claim(ev) {
				continue
			}
			for {
				p.process(ctx, ev)
				next, more := p.next(ev.Symbol)
				if !more {
					break
				}
				ev = next
			}
		}
	}
}

// claim marks ev's symbol busy, or parks ev as the symbol's pending sample
// when another worker already owns it.
func (p *workerPool) claim(ev model.SymbolUpdated) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy[ev.Symbol] {
		p.pending[ev.Symbol] = ev.Latest
		return false
	}
	p.busy[ev.Symbol] = true
	return true
}

// next hands back the parked sample for symbol, or releases the symbol.
func (p *workerPool) next(symbol string) (model.SymbolUpdated, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if latest, ok := p.pending[symbol]; ok {
		delete(p.pending, symbol)
		return model.SymbolUpdated{Symbol: symbol, Latest: latest}, true
	}
	delete(p.busy, symbol)
	return model.SymbolUpdated{}, false
}

func (p *workerPool) process(ctx context.Context, ev model.SymbolUpdated) {
	start := time.Now()
	latest := ev.Latest
	err := p.target.Recompute(ctx, ev.Symbol, &latest)
	if p.onDone != nil {
		p.onDone(ev.Symbol, time.Since(start), err)
	}
}

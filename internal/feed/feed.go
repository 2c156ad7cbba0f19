// Package feed provides price sources implementing model.PriceFeed: a REST
// client for a quote/history API and a deterministic random-walk simulator.
package feed

import "errors"

// Failure kinds every PriceFeed implementation reports. Callers classify
// with errors.Is.
var (
	ErrUnknownSymbol = errors.New("feed: unknown symbol")
	ErrRateLimited   = errors.New("feed: rate limited")
	ErrTransport     = errors.New("feed: transport failure")
)

// Kind returns a short label for err, used in logs and metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrUnknownSymbol):
		return "unknown_symbol"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTransport):
		return "transport"
	}
	return "other"
}

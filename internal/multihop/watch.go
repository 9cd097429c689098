package multihop

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/arbot/internal/cycle"
	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/exchange/binance"
	"github.com/alanyoungcy/arbot/internal/notify"
)

// Monitor watches live top-of-book updates for a set of pairs and re-runs the
// cycle detector whenever fresh prices arrive, alerting the operator on every
// loop found. It is a streaming observer only: it never trades.
type Monitor struct {
	pairs    map[string]domain.TradePair // trading code -> pair
	interval time.Duration
	notifier *notify.Notifier
	logger   *slog.Logger

	mu     sync.Mutex
	latest map[string]binance.BookTicker
	dirty  bool
}

// NewMonitor creates a monitor for the given pairs. interval throttles how
// often the graph is rebuilt while updates stream in.
func NewMonitor(pairs []domain.TradePair, interval time.Duration, notifier *notify.Notifier, logger *slog.Logger) *Monitor {
	byCode := make(map[string]domain.TradePair, len(pairs))
	for _, p := range pairs {
		byCode[p.Base+p.Quote] = p
	}
	return &Monitor{
		pairs:    byCode,
		interval: interval,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "watch")),
		latest:   make(map[string]binance.BookTicker),
	}
}

// Run connects the stream and blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	symbols := make([]string, 0, len(m.pairs))
	for code := range m.pairs {
		symbols = append(symbols, code)
	}

	ws := binance.NewWSClient("", symbols)
	ws.OnBookTicker(m.record)
	if err := ws.Connect(ctx); err != nil {
		return fmt.Errorf("multihop: watch connect: %w", err)
	}
	defer ws.Close()

	m.logger.Info("watching top of book", slog.Int("symbols", len(symbols)))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.evaluate(ctx)
		}
	}
}

func (m *Monitor) record(tick binance.BookTicker) {
	m.mu.Lock()
	m.latest[tick.Symbol] = tick
	m.dirty = true
	m.mu.Unlock()
}

// evaluate rebuilds the conversion graph from the latest tickers and runs the
// cycle detector. Skipped when nothing changed since the last rebuild.
func (m *Monitor) evaluate(ctx context.Context) {
	m.mu.Lock()
	if !m.dirty {
		m.mu.Unlock()
		return
	}
	m.dirty = false
	ticks := make(map[string]binance.BookTicker, len(m.latest))
	for k, v := range m.latest {
		ticks[k] = v
	}
	m.mu.Unlock()

	g := make(cycle.Graph)
	for code, tick := range ticks {
		pair, ok := m.pairs[code]
		if !ok {
			continue
		}
		bid, _ := tick.BidPrice.Float64()
		ask, _ := tick.AskPrice.Float64()
		g.AddRate(pair.Base, pair.Quote, bid)
		if ask > 0 {
			g.AddRate(pair.Quote, pair.Base, 1/ask)
		}
	}

	path := cycle.FindAnyCycle(g)
	if path == nil {
		return
	}

	rate := cycle.CycleRate(g, path)
	m.logger.Info("conversion loop detected",
		slog.String("path", strings.Join(path, "->")),
		slog.Float64("rate", rate))
	if m.notifier != nil {
		_ = m.notifier.Notify(ctx, notify.EventCycleDetected, "Conversion loop",
			fmt.Sprintf("%s compounds to %.6f", strings.Join(path, "->"), rate))
	}
}

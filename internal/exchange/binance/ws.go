package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// BookTicker is the venue's best bid/ask for one symbol.
type BookTicker struct {
	Symbol    string
	BidPrice  decimal.Decimal
	BidVolume decimal.Decimal
	AskPrice  decimal.Decimal
	AskVolume decimal.Decimal
}

// BookTickerHandler is called for every top-of-book update.
type BookTickerHandler func(BookTicker)

// WSClient streams real-time top-of-book updates over the combined-stream
// endpoint. It manages the connection lifecycle and reconnects with backoff
// on disconnect.
type WSClient struct {
	wsURL   string
	symbols []string

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	handlerMu sync.RWMutex
	handlers  []BookTickerHandler

	done chan struct{}
}

// NewWSClient creates a stream client for the given trading codes. The
// endpoint defaults to the public combined stream when wsURL is empty.
func NewWSClient(wsURL string, symbols []string) *WSClient {
	if wsURL == "" {
		wsURL = defaultWSURL
	}
	return &WSClient{
		wsURL:   wsURL,
		symbols: symbols,
		done:    make(chan struct{}),
	}
}

// OnBookTicker registers a handler called for every top-of-book update.
func (w *WSClient) OnBookTicker(handler BookTickerHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Connect establishes the stream connection. The subscription is encoded in
// the combined-stream path, so no subscribe command is needed.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("binance/ws: client closed")
	}
	if len(w.symbols) == 0 {
		return fmt.Errorf("binance/ws: no symbols to stream")
	}

	streams := make([]string, len(w.symbols))
	for i, s := range w.symbols {
		streams[i] = strings.ToLower(s) + "@bookTicker"
	}
	endpoint := w.wsURL + "/stream?streams=" + strings.Join(streams, "/")

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("binance/ws: connect: %w", err)
	}

	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()

	return nil
}

// Close shuts down the connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}
	return nil
}

// readLoop reads stream messages and dispatches them to handlers. On
// disconnect it attempts to reconnect with exponential backoff.
func (w *WSClient) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			w.reconnect()
			return
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic pings to keep the stream alive.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()
			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage unwraps a combined-stream envelope and dispatches the ticker.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope struct {
		Data struct {
			Symbol    string `json:"s"`
			BidPrice  string `json:"b"`
			BidVolume string `json:"B"`
			AskPrice  string `json:"a"`
			AskVolume string `json:"A"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // silently drop unparseable messages
	}
	if envelope.Data.Symbol == "" {
		return
	}

	tick := BookTicker{Symbol: envelope.Data.Symbol}
	var err error
	if tick.BidPrice, err = decimal.NewFromString(envelope.Data.BidPrice); err != nil {
		return
	}
	if tick.BidVolume, err = decimal.NewFromString(envelope.Data.BidVolume); err != nil {
		return
	}
	if tick.AskPrice, err = decimal.NewFromString(envelope.Data.AskPrice); err != nil {
		return
	}
	if tick.AskVolume, err = decimal.NewFromString(envelope.Data.AskVolume); err != nil {
		return
	}

	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		h(tick)
	}
}

// reconnect re-establishes the connection with exponential backoff. It blocks
// until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()
		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

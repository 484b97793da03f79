// ws.go implements the venue's public book channel.
//
// The feed subscribes by market ID and receives a full "book" snapshot of
// resting orders whenever a market's book changes. It auto-reconnects with
// exponential backoff (1s → 30s max) and re-subscribes to all tracked markets
// on reconnection. A read deadline (90s) ensures silent server failures are
// detected within ~2 missed pings.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"liquidity-mm/pkg/types"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	bookBufferSize   = 256
)

var errNotConnected = errors.New("websocket not connected")

// BookFeed manages the WebSocket connection of the book channel.
type BookFeed struct {
	url    string
	conn   *websocket.Conn
	connMu sync.Mutex // protects conn writes and replacement

	subscribedMu sync.RWMutex
	subscribed   map[string]bool

	bookCh chan types.WSBookEvent

	logger *slog.Logger
}

// NewBookFeed creates a feed for the public book channel.
func NewBookFeed(wsURL string, logger *slog.Logger) *BookFeed {
	return &BookFeed{
		url:        wsURL,
		subscribed: make(map[string]bool),
		bookCh:     make(chan types.WSBookEvent, bookBufferSize),
		logger:     logger.With("component", "ws_book"),
	}
}

// BookEvents returns a read-only channel of book snapshot events.
func (f *BookFeed) BookEvents() <-chan types.WSBookEvent { return f.bookCh }

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *BookFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Subscribe adds markets to the subscription. Markets added while
// disconnected are sent on the next connect.
func (f *BookFeed) Subscribe(ids []string) error {
	f.subscribedMu.Lock()
	for _, id := range ids {
		f.subscribed[id] = true
	}
	f.subscribedMu.Unlock()

	return f.update("subscribe", ids)
}

// Unsubscribe removes markets from the subscription.
func (f *BookFeed) Unsubscribe(ids []string) error {
	f.subscribedMu.Lock()
	for _, id := range ids {
		delete(f.subscribed, id)
	}
	f.subscribedMu.Unlock()

	return f.update("unsubscribe", ids)
}

func (f *BookFeed) update(op string, ids []string) error {
	err := f.writeJSON(types.WSSubscribeMsg{Type: "book", Operation: op, Markets: ids})
	if errors.Is(err, errNotConnected) {
		return nil
	}
	return err
}

// Subscribed returns the tracked markets in sorted order.
func (f *BookFeed) Subscribed() []string {
	f.subscribedMu.RLock()
	defer f.subscribedMu.RUnlock()

	ids := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close gracefully closes the connection.
func (f *BookFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *BookFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.writeJSON(types.WSSubscribeMsg{Type: "book", Operation: "subscribe", Markets: f.Subscribed()}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected", "markets", len(f.Subscribed()))

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *BookFeed) dispatchMessage(data []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.EventType {
	case "book":
		var evt types.WSBookEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal book event", "error", err)
			return
		}
		select {
		case f.bookCh <- evt:
		default:
			f.logger.Warn("book channel full, dropping event", "market", evt.MarketID)
		}

	default:
		f.logger.Debug("ignoring event", "type", envelope.EventType)
	}
}

func (f *BookFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *BookFeed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return errNotConnected
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *BookFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return errNotConnected
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}

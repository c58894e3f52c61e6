package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	initialBackoff = time.Second
	backoffFactor  = 2
	jitterFraction = 0.2
)

// PriceSink receives streamed mid prices.
type PriceSink interface {
	Upsert(symbol string, mid decimal.Decimal, observedAt time.Time) error
}

// StreamOptions parameterise the bookTicker stream.
type StreamOptions struct {
	URL        string
	Symbols    []string
	Throttle   time.Duration
	StaleAfter time.Duration
	MaxBackoff time.Duration
}

// PriceStream keeps a PriceSink current from the combined bookTicker stream.
// A connection silent for StaleAfter is dropped and re-dialled.
type PriceStream struct {
	opts     StreamOptions
	sink     PriceSink
	logger   zerolog.Logger
	dialer   *websocket.Dialer
	now      func() time.Time
	onUpdate func(symbol string, mid decimal.Decimal, at time.Time)

	mu        sync.Mutex
	lastSaved map[string]time.Time
	lastMsg   time.Time
}

// NewPriceStream constructs a stream writing into sink.
func NewPriceStream(opts StreamOptions, sink PriceSink, logger zerolog.Logger) *PriceStream {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 60 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.URL == "" {
		opts.URL = "wss://stream.binance.com:9443/stream"
	}
	return &PriceStream{
		opts:      opts,
		sink:      sink,
		logger:    logger.With().Str("component", "price_stream").Logger(),
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		now:       time.Now,
		lastSaved: make(map[string]time.Time),
	}
}

// OnUpdate registers a callback invoked after each accepted price.
func (s *PriceStream) OnUpdate(fn func(symbol string, mid decimal.Decimal, at time.Time)) {
	s.onUpdate = fn
}

// LastMessage returns when the stream last received anything.
func (s *PriceStream) LastMessage() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMsg
}

// Run connects and reconnects until ctx is cancelled.
func (s *PriceStream) Run(ctx context.Context) error {
	if len(s.opts.Symbols) == 0 {
		return errors.New("price stream: no symbols")
	}
	endpoint, err := s.endpoint()
	if err != nil {
		return err
	}

	backoff := initialBackoff
	for {
		connected, err := s.session(ctx, endpoint)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			backoff = initialBackoff
		}
		wait := jitter(backoff)
		s.logger.Warn().Err(err).Dur("backoff", wait).Msg("price stream disconnected")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		backoff *= backoffFactor
		if backoff > s.opts.MaxBackoff {
			backoff = s.opts.MaxBackoff
		}
	}
}

func (s *PriceStream) endpoint() (string, error) {
	u, err := url.Parse(s.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	streams := make([]string, 0, len(s.opts.Symbols))
	for _, sym := range s.opts.Symbols {
		if sym = strings.ToLower(strings.TrimSpace(sym)); sym != "" && !IsStablePair(sym) {
			streams = append(streams, sym+"@bookTicker")
		}
	}
	if len(streams) == 0 {
		return "", errors.New("price stream: only stablecoin pairs configured")
	}
	q := u.Query()
	q.Set("streams", strings.Join(streams, "/"))
	u.RawQuery = q.Encode()
	// Binance 要求 streams 中的 '/' 和 '@' 不被转义。
	u.RawQuery = strings.NewReplacer("%2F", "/", "%40", "@").Replace(u.RawQuery)
	return u.String(), nil
}

// session runs one connection until it fails or goes stale.
func (s *PriceStream) session(ctx context.Context, endpoint string) (bool, error) {
	conn, resp, err := s.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return false, fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	s.logger.Info().Int("symbols", len(s.opts.Symbols)).Msg("price stream connected")
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.opts.StaleAfter))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		s.handle(message)
	}
}

type bookTickerEvent struct {
	Symbol string `json:"s"`
	Bid    string `json:"b"`
	Ask    string `json:"a"`
}

type combinedEvent struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

func (s *PriceStream) handle(message []byte) {
	now := s.now()
	s.mu.Lock()
	s.lastMsg = now
	s.mu.Unlock()

	payload := message
	var wrapped combinedEvent
	if err := json.Unmarshal(message, &wrapped); err == nil && len(wrapped.Data) > 0 {
		payload = wrapped.Data
	}

	var ev bookTickerEvent
	if err := json.Unmarshal(payload, &ev); err != nil || ev.Symbol == "" || ev.Bid == "" || ev.Ask == "" {
		return
	}
	symbol := strings.ToUpper(ev.Symbol)

	s.mu.Lock()
	if last, ok := s.lastSaved[symbol]; ok && now.Sub(last) < s.opts.Throttle {
		s.mu.Unlock()
		return
	}
	s.lastSaved[symbol] = now
	s.mu.Unlock()

	mid, err := midPrice(ev.Bid, ev.Ask)
	if err != nil {
		return
	}
	if err := s.sink.Upsert(symbol, mid, now); err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("reject streamed price")
		return
	}
	if s.onUpdate != nil {
		s.onUpdate(symbol, mid, now)
	}
}

func jitter(d time.Duration) time.Duration {
	delta := (rand.Float64()*2 - 1) * jitterFraction * float64(d)
	return d + time.Duration(delta)
}

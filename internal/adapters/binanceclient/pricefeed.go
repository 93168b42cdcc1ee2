package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"

	"signalEngine/internal/ports"
)

// Client implements ports.PriceFeed using the Binance futures websocket
// aggregated-trade stream. One reconnecting goroutine runs per symbol.
type Client struct {
	logger               ports.Logger
	maxReconnectAttempts int
	reconnectMin         time.Duration
	reconnectMax         time.Duration
}

// Config holds configuration for the Binance price feed.
type Config struct {
	Logger               ports.Logger
	UseTestnet           bool
	MaxReconnectAttempts int           // Default 5
	ReconnectMin         time.Duration // Default 1s
	ReconnectMax         time.Duration // Default 30s
}

func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger is required for Binance client")
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	futures.UseTestnet = cfg.UseTestnet

	return &Client{
		logger:               cfg.Logger,
		maxReconnectAttempts: cfg.MaxReconnectAttempts,
		reconnectMin:         cfg.ReconnectMin,
		reconnectMax:         cfg.ReconnectMax,
	}, nil
}

// handleError maps Binance API errors onto the port error set.
func (c *Client) handleError(ctx context.Context, err error, op string) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		c.logger.Error(ctx, err, op+": Binance API error", map[string]interface{}{"code": apiErr.Code, "message": apiErr.Message})
		switch apiErr.Code {
		case -1003:
			return fmt.Errorf("%s: %w", op, ports.ErrRateLimited)
		case -1001:
			return fmt.Errorf("%s: %w", op, ports.ErrConnectionFailed)
		default:
			return fmt.Errorf("%s: binance error %d: %w", op, apiErr.Code, ports.ErrFeedUnavailable)
		}
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, ports.ErrContextCanceled)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, ports.ErrTimeout)
	}
	c.logger.Error(ctx, err, op+": unexpected feed error", nil)
	return fmt.Errorf("%s: %w", op, err)
}

// StreamTicks subscribes to the aggregated-trade stream for each symbol and
// pushes every price print to the handler. The returned stopCh shuts down
// all symbol streams; doneCh closes once they have all exited.
func (c *Client) StreamTicks(ctx context.Context, symbols []string, handler func(ports.Tick), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	op := "StreamTicks"
	if len(symbols) == 0 {
		return nil, nil, fmt.Errorf("%s: %w: no symbols", op, ports.ErrInvalidRequest)
	}
	if handler == nil {
		return nil, nil, fmt.Errorf("%s: %w: tick handler is required", op, ports.ErrInvalidRequest)
	}

	wsCtx, cancelWs := context.WithCancel(ctx)
	symbolDone := make(chan struct{}, len(symbols))

	for _, symbol := range symbols {
		go c.streamSymbol(wsCtx, symbol, handler, errHandler, symbolDone)
	}

	doneCh = make(chan struct{})
	stopCh = make(chan struct{})

	go func() {
		select {
		case <-stopCh:
			c.logger.Info(ctx, op+": stop requested, cancelling all symbol streams", map[string]interface{}{"symbols": symbols})
			cancelWs()
		case <-wsCtx.Done():
		}
	}()

	go func() {
		for range symbols {
			<-symbolDone
		}
		cancelWs()
		close(doneCh)
	}()

	return doneCh, stopCh, nil
}

// streamSymbol maintains one symbol's websocket connection, reconnecting
// with exponential backoff until the context ends or attempts run out.
func (c *Client) streamSymbol(ctx context.Context, symbol string, handler func(ports.Tick), errHandler func(err error), done chan<- struct{}) {
	op := "streamSymbol"
	defer func() { done <- struct{}{} }()

	retry := &backoff.Backoff{Min: c.reconnectMin, Max: c.reconnectMax, Jitter: true}

	wsHandler := func(event *futures.WsAggTradeEvent) {
		if event == nil {
			return
		}
		price, err := strconv.ParseFloat(event.Price, 64)
		if err != nil {
			c.logger.Warn(ctx, op+": unparseable price in trade event", map[string]interface{}{"symbol": symbol, "price": event.Price})
			return
		}
		handler(ports.Tick{Symbol: symbol, Price: price, At: time.UnixMilli(event.Time)})
	}

	wsErrHandler := func(err error) {
		if errHandler != nil {
			errHandler(c.handleError(ctx, err, op))
		}
	}

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		innerDone, innerStop, err := futures.WsAggTradeServe(symbol, wsHandler, wsErrHandler)
		if err != nil {
			attempt++
			if attempt >= c.maxReconnectAttempts {
				c.logger.Error(ctx, err, op+": max reconnection attempts exceeded, giving up", map[string]interface{}{"symbol": symbol, "maxAttempts": c.maxReconnectAttempts})
				if errHandler != nil {
					errHandler(fmt.Errorf("%s: %s: %w", op, symbol, ports.ErrConnectionFailed))
				}
				return
			}
			delay := retry.Duration()
			c.logger.Warn(ctx, op+": connection failed, retrying", map[string]interface{}{"symbol": symbol, "attempt": attempt, "delay": delay.String()})
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return
			}
		}

		c.logger.Info(ctx, op+": websocket connection established", map[string]interface{}{"symbol": symbol})
		attempt = 0
		retry.Reset()

		select {
		case <-innerDone:
			c.logger.Warn(ctx, op+": websocket closed unexpectedly, reconnecting", map[string]interface{}{"symbol": symbol})
		case <-ctx.Done():
			select {
			case innerStop <- struct{}{}:
			default:
			}
			return
		}
	}
}

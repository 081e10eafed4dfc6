package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"grid-trader-go/market"
)

// TickerStream 订阅 ticker 频道并把逐笔价格转成 market.Tick。
// 单次连接语义：连接断开即返回错误，重连策略由调用方决定。
type TickerStream struct {
	URL      string // 默认 wss://ws-feed.pro.coinbase.com
	Products []string
	Dialer   *websocket.Dialer

	logger *zap.Logger
}

// NewTickerStream 创建行情流。
func NewTickerStream(url string, products ...string) *TickerStream {
	return &TickerStream{
		URL:      url,
		Products: products,
		Dialer:   websocket.DefaultDialer,
		logger:   zap.NewNop(),
	}
}

// SetLogger 注入日志器。
func (s *TickerStream) SetLogger(l *zap.Logger) {
	if l != nil {
		s.logger = l
	}
}

type subscribeReq struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

type tickerMsg struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Time      string `json:"time"`
	Message   string `json:"message"`
}

// Run 连接并持续读取，解析出的 tick 写入 out。ctx 结束时返回 ctx.Err()。
func (s *TickerStream) Run(ctx context.Context, out chan<- market.Tick) error {
	if len(s.Products) == 0 {
		return fmt.Errorf("no products subscribed")
	}

	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.URL, err)
	}
	defer conn.Close()

	sub := subscribeReq{
		Type:       "subscribe",
		ProductIDs: s.Products,
		Channels:   []string{"ticker"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	// 后台关闭：ctx 结束时强制中断阻塞读
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		var msg tickerMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Warn("unparseable message", zap.ByteString("raw", raw))
			continue
		}
		switch msg.Type {
		case "ticker":
			tick, err := parseTicker(msg)
			if err != nil {
				s.logger.Warn("bad ticker", zap.String("price", msg.Price), zap.Error(err))
				continue
			}
			select {
			case out <- tick:
			case <-ctx.Done():
				return ctx.Err()
			}
		case "error":
			return fmt.Errorf("stream error: %s", msg.Message)
		case "subscriptions":
			s.logger.Info("subscribed", zap.Strings("products", s.Products))
		}
	}
}

func parseTicker(msg tickerMsg) (market.Tick, error) {
	price, err := strconv.ParseFloat(msg.Price, 64)
	if err != nil || price <= 0 {
		return market.Tick{}, fmt.Errorf("invalid price %q", msg.Price)
	}
	ts, err := time.Parse(time.RFC3339Nano, msg.Time)
	if err != nil {
		ts = time.Now().UTC()
	}
	return market.Tick{Time: ts, Price: price}, nil
}

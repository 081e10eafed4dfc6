package gateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"grid-trader-go/order"
	"grid-trader-go/portfolio"
)

const cancelAttempts = 3

var cancelBackoff = 500 * time.Millisecond

// CoinbaseClient 一个可签名的简化客户端；默认不发起真实网络调用，HTTPClient 可注入 httptest。
type CoinbaseClient struct {
	BaseURL    string
	Key        string
	Secret     string // base64 编码的 API secret
	Passphrase string
	HTTPClient *http.Client
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// do 发起一次签名请求并解码 JSON 响应。传输失败与非 2xx 状态都包装为
// portfolio.ErrConnectivity。
func (c *CoinbaseClient) do(method, path string, payload, out interface{}) error {
	if c == nil || c.HTTPClient == nil {
		return fmt.Errorf("http client not set")
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := c.sign(ts, method, path, body)
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("CB-ACCESS-KEY", c.Key)
	req.Header.Set("CB-ACCESS-SIGN", sig)
	req.Header.Set("CB-ACCESS-TIMESTAMP", ts)
	req.Header.Set("CB-ACCESS-PASSPHRASE", c.Passphrase)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", portfolio.ErrConnectivity, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s status %d: %s",
			portfolio.ErrConnectivity, method, path, resp.StatusCode, string(msg))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", portfolio.ErrConnectivity, err)
		}
	}
	return nil
}

// sign 计算 CB-ACCESS-SIGN：base64(HMAC-SHA256(ts+method+path+body))。
func (c *CoinbaseClient) sign(ts, method, path string, body []byte) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(ts + method + path))
	h.Write(body)
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

type placeOrderReq struct {
	ProductID string `json:"product_id"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Price     string `json:"price,omitempty"`
	Size      string `json:"size,omitempty"`
	Funds     string `json:"funds,omitempty"`
	Stop      string `json:"stop,omitempty"`       // entry 或 loss
	StopPrice string `json:"stop_price,omitempty"`
}

type placeOrderResp struct {
	ID string `json:"id"`
}

// AccountBalance 交易所账户余额快照。
type AccountBalance struct {
	ID        string `json:"id"`
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	Available string `json:"available"`
	Hold      string `json:"hold"`
}

// ExchangeFill 交易所返回的历史成交记录。
type ExchangeFill struct {
	TradeID   int64  `json:"trade_id"`
	ProductID string `json:"product_id"`
	OrderID   string `json:"order_id"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Fee       string `json:"fee"`
	CreatedAt string `json:"created_at"`
}

// CoinbaseBroker 通过签名 REST 实现 portfolio.Broker。挂单注册表与余额
// 快照都在本地维护；余额只在 Refresh 时查询，不进入下单热路径。
type CoinbaseBroker struct {
	client *CoinbaseClient
	symbol string // 形如 ETH-USDC

	mu       sync.Mutex
	open     map[string]*order.Order
	cash     float64
	quantity float64

	logger *zap.Logger
}

// NewCoinbaseBroker 创建实盘适配层。
func NewCoinbaseBroker(client *CoinbaseClient, symbol string) *CoinbaseBroker {
	return &CoinbaseBroker{
		client: client,
		symbol: symbol,
		open:   make(map[string]*order.Order),
		logger: zap.NewNop(),
	}
}

// SetLogger 注入日志器。
func (b *CoinbaseBroker) SetLogger(l *zap.Logger) {
	if l != nil {
		b.logger = l
	}
}

// Refresh 拉取账户余额并刷新本地现金/持仓快照。仅用于启动与对账，
// 下单路径不依赖它。
func (b *CoinbaseBroker) Refresh() error {
	base, quote, err := splitSymbol(b.symbol)
	if err != nil {
		return err
	}
	quoteAcct, err := b.AccountByCurrency(quote)
	if err != nil {
		return err
	}
	baseAcct, err := b.AccountByCurrency(base)
	if err != nil {
		return err
	}
	cash, err := strconv.ParseFloat(quoteAcct.Available, 64)
	if err != nil {
		return fmt.Errorf("parse %s balance: %w", quote, err)
	}
	qty, err := strconv.ParseFloat(baseAcct.Available, 64)
	if err != nil {
		return fmt.Errorf("parse %s balance: %w", base, err)
	}

	b.mu.Lock()
	b.cash = cash
	b.quantity = qty
	b.mu.Unlock()
	return nil
}

// AccountByCurrency 查询指定币种的账户余额。
func (b *CoinbaseBroker) AccountByCurrency(currency string) (AccountBalance, error) {
	var accounts []AccountBalance
	if err := b.client.do(http.MethodGet, "/accounts", nil, &accounts); err != nil {
		return AccountBalance{}, err
	}
	for _, a := range accounts {
		if a.Currency == currency {
			return a, nil
		}
	}
	return AccountBalance{}, fmt.Errorf("no account for currency %s", currency)
}

// Fills 查询本交易对的历史成交。
func (b *CoinbaseBroker) Fills() ([]ExchangeFill, error) {
	var fills []ExchangeFill
	path := "/fills?product_id=" + b.symbol
	if err := b.client.do(http.MethodGet, path, nil, &fills); err != nil {
		return nil, err
	}
	return fills, nil
}

func (b *CoinbaseBroker) PlaceMarketBuy(budget float64, onFill order.FillHandler) (string, error) {
	return b.place(placeOrderReq{
		ProductID: b.symbol,
		Side:      "buy",
		Type:      "market",
		Funds:     formatAmount(budget),
	}, order.Order{Side: order.SideBuy, Kind: order.KindMarket, Budget: budget, OnFill: onFill})
}

func (b *CoinbaseBroker) PlaceLimitBuy(limitPrice, budget float64, onFill order.FillHandler) (string, error) {
	size := portfolio.FloorTo(budget/limitPrice, portfolio.QuantityPrecision)
	return b.place(placeOrderReq{
		ProductID: b.symbol,
		Side:      "buy",
		Type:      "limit",
		Price:     formatAmount(limitPrice),
		Size:      formatAmount(size),
	}, order.Order{Side: order.SideBuy, Kind: order.KindLimit, Budget: budget, LimitPrice: limitPrice, OnFill: onFill})
}

func (b *CoinbaseBroker) PlaceStopBuy(stopPrice, limitPrice, budget float64, onFill order.FillHandler) (string, error) {
	size := portfolio.FloorTo(budget/limitPrice, portfolio.QuantityPrecision)
	return b.place(placeOrderReq{
		ProductID: b.symbol,
		Side:      "buy",
		Type:      "limit",
		Price:     formatAmount(limitPrice),
		Size:      formatAmount(size),
		Stop:      "entry",
		StopPrice: formatAmount(stopPrice),
	}, order.Order{Side: order.SideBuy, Kind: order.KindStop, Budget: budget, LimitPrice: limitPrice, StopPrice: stopPrice, OnFill: onFill})
}

func (b *CoinbaseBroker) PlaceMarketSell(quantity float64, onFill order.FillHandler) (string, error) {
	return b.place(placeOrderReq{
		ProductID: b.symbol,
		Side:      "sell",
		Type:      "market",
		Size:      formatAmount(quantity),
	}, order.Order{Side: order.SideSell, Kind: order.KindMarket, Quantity: quantity, OnFill: onFill})
}

func (b *CoinbaseBroker) PlaceLimitSell(limitPrice, quantity float64, onFill order.FillHandler) (string, error) {
	return b.place(placeOrderReq{
		ProductID: b.symbol,
		Side:      "sell",
		Type:      "limit",
		Price:     formatAmount(limitPrice),
		Size:      formatAmount(quantity),
	}, order.Order{Side: order.SideSell, Kind: order.KindLimit, Quantity: quantity, LimitPrice: limitPrice, OnFill: onFill})
}

func (b *CoinbaseBroker) PlaceStopSell(stopPrice, limitPrice, quantity float64, onFill order.FillHandler) (string, error) {
	return b.place(placeOrderReq{
		ProductID: b.symbol,
		Side:      "sell",
		Type:      "limit",
		Price:     formatAmount(limitPrice),
		Size:      formatAmount(quantity),
		Stop:      "loss",
		StopPrice: formatAmount(stopPrice),
	}, order.Order{Side: order.SideSell, Kind: order.KindStop, Quantity: quantity, LimitPrice: limitPrice, StopPrice: stopPrice, OnFill: onFill})
}

func (b *CoinbaseBroker) place(req placeOrderReq, o order.Order) (string, error) {
	if o.Size() <= 0 {
		return "", fmt.Errorf("%w: size must be > 0", portfolio.ErrInvalidOrder)
	}

	var resp placeOrderResp
	if err := b.client.do(http.MethodPost, "/orders", req, &resp); err != nil {
		return "", fmt.Errorf("place %s %s: %w", req.Type, req.Side, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%w: place %s %s returned empty id",
			portfolio.ErrConnectivity, req.Type, req.Side)
	}

	o.ID = resp.ID
	b.mu.Lock()
	b.open[resp.ID] = &o
	b.mu.Unlock()

	b.logger.Info("order placed",
		zap.String("id", resp.ID),
		zap.String("side", req.Side),
		zap.String("type", req.Type),
		zap.String("price", req.Price))
	return resp.ID, nil
}

// CancelOrder 撤单。传输失败最多重试 cancelAttempts 次（线性退避），
// 全部失败时上抛 ErrConnectivity。
func (b *CoinbaseBroker) CancelOrder(id string) error {
	b.mu.Lock()
	_, ok := b.open[id]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", portfolio.ErrOrderNotFound, id)
	}

	var lastErr error
	for attempt := 1; attempt <= cancelAttempts; attempt++ {
		lastErr = b.client.do(http.MethodDelete, "/orders/"+id, nil, nil)
		if lastErr == nil {
			b.mu.Lock()
			delete(b.open, id)
			b.mu.Unlock()
			return nil
		}
		b.logger.Warn("cancel failed",
			zap.String("id", id),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		if attempt < cancelAttempts {
			time.Sleep(time.Duration(attempt) * cancelBackoff)
		}
	}
	return fmt.Errorf("cancel %s after %d attempts: %w", id, cancelAttempts, lastErr)
}

func (b *CoinbaseBroker) Cash() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash
}

func (b *CoinbaseBroker) AssetQuantity() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.quantity
}

func (b *CoinbaseBroker) OpenOrderIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.open))
	for id := range b.open {
		ids = append(ids, id)
	}
	return ids
}

func (b *CoinbaseBroker) OrderByID(id string) (order.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.open[id]
	if !ok {
		return order.Order{}, fmt.Errorf("%w: %s", portfolio.ErrOrderNotFound, id)
	}
	return *o, nil
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func splitSymbol(symbol string) (base, quote string, err error) {
	parts := strings.SplitN(symbol, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid symbol %q, want BASE-QUOTE", symbol)
	}
	return parts[0], parts[1], nil
}

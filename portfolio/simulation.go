package portfolio

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"grid-trader-go/order"
)

// QuantityPrecision 是预算→数量换算的小数位数。所有换算统一向零取整，
// 保证重复回测逐位可复现。
const QuantityPrecision = 8

// FloorTo 将 v 向零截断到 places 位小数。
func FloorTo(v float64, places int) float64 {
	scale := math.Pow10(places)
	return math.Trunc(v*scale) / scale
}

// FillRecord 带 tick 序号的成交记录，供回测统计与绘图使用。
type FillRecord struct {
	Index int
	Fill  order.Fill
}

// Simulation 是单一交易对的模拟账户：持有现金与标的余额、挂单集合，
// 对每个价格 tick 做撮合并同步派发成交回调。
//
// 单线程使用；Step 内部以下单序号快照遍历，回调中再下单/撤单是合法的，
// 新订单要到下一个 tick 才参与撮合（STOP 转换除外，见 Step）。
type Simulation struct {
	symbol string
	fee    float64

	cash     float64
	quantity float64

	// 挂单占用：买单占用现金、卖单占用持仓，超出可用余额的订单在
	// 改变任何状态之前被拒绝。
	reservedCash     float64
	reservedQuantity float64

	open    map[string]*order.Order
	nextSeq uint64

	history []FillRecord
	index   int

	logger *zap.Logger
}

// NewSimulation 创建模拟账户。fee 为单边费率（0.005 表示 0.5%）。
func NewSimulation(symbol string, cash, quantity, fee float64) *Simulation {
	return &Simulation{
		symbol:   symbol,
		fee:      fee,
		cash:     cash,
		quantity: quantity,
		open:     make(map[string]*order.Order),
		logger:   zap.NewNop(),
	}
}

// SetLogger 注入结构化日志器，默认 Nop。
func (s *Simulation) SetLogger(l *zap.Logger) {
	if l != nil {
		s.logger = l
	}
}

func (s *Simulation) PlaceMarketBuy(budget float64, onFill order.FillHandler) (string, error) {
	return s.place(order.Order{Side: order.SideBuy, Kind: order.KindMarket, Budget: budget, OnFill: onFill})
}

func (s *Simulation) PlaceLimitBuy(limitPrice, budget float64, onFill order.FillHandler) (string, error) {
	return s.place(order.Order{Side: order.SideBuy, Kind: order.KindLimit, Budget: budget, LimitPrice: limitPrice, OnFill: onFill})
}

func (s *Simulation) PlaceStopBuy(stopPrice, limitPrice, budget float64, onFill order.FillHandler) (string, error) {
	return s.place(order.Order{Side: order.SideBuy, Kind: order.KindStop, Budget: budget, StopPrice: stopPrice, LimitPrice: limitPrice, OnFill: onFill})
}

func (s *Simulation) PlaceMarketSell(quantity float64, onFill order.FillHandler) (string, error) {
	return s.place(order.Order{Side: order.SideSell, Kind: order.KindMarket, Quantity: quantity, OnFill: onFill})
}

func (s *Simulation) PlaceLimitSell(limitPrice, quantity float64, onFill order.FillHandler) (string, error) {
	return s.place(order.Order{Side: order.SideSell, Kind: order.KindLimit, Quantity: quantity, LimitPrice: limitPrice, OnFill: onFill})
}

func (s *Simulation) PlaceStopSell(stopPrice, limitPrice, quantity float64, onFill order.FillHandler) (string, error) {
	return s.place(order.Order{Side: order.SideSell, Kind: order.KindStop, Quantity: quantity, StopPrice: stopPrice, LimitPrice: limitPrice, OnFill: onFill})
}

func (s *Simulation) place(o order.Order) (string, error) {
	if o.Size() <= 0 {
		return "", fmt.Errorf("size %.8f: %w", o.Size(), ErrInvalidOrder)
	}
	switch o.Kind {
	case order.KindLimit:
		if o.LimitPrice <= 0 {
			return "", fmt.Errorf("limit price %.8f: %w", o.LimitPrice, ErrInvalidOrder)
		}
	case order.KindStop:
		if o.StopPrice <= 0 || o.LimitPrice <= 0 {
			return "", fmt.Errorf("stop %.8f / limit %.8f: %w", o.StopPrice, o.LimitPrice, ErrInvalidOrder)
		}
	}

	if o.Side == order.SideBuy {
		if o.Budget > s.cash-s.reservedCash {
			return "", fmt.Errorf("budget %.8f exceeds free cash %.8f: %w",
				o.Budget, s.cash-s.reservedCash, ErrInsufficientFunds)
		}
		s.reservedCash += o.Budget
	} else {
		if o.Quantity > s.quantity-s.reservedQuantity {
			return "", fmt.Errorf("quantity %.8f exceeds free holdings %.8f: %w",
				o.Quantity, s.quantity-s.reservedQuantity, ErrInsufficientQuantity)
		}
		s.reservedQuantity += o.Quantity
	}

	s.nextSeq++
	o.Seq = s.nextSeq
	o.ID = fmt.Sprintf("ord-%09d", s.nextSeq)
	s.open[o.ID] = &o

	s.logger.Debug("order placed",
		zap.String("symbol", s.symbol),
		zap.String("order_id", o.ID),
		zap.String("side", string(o.Side)),
		zap.String("kind", string(o.Kind)),
		zap.Float64("size", o.Size()))
	return o.ID, nil
}

// CancelOrder 移除挂单并释放占用；重复撤单返回 ErrOrderNotFound。
func (s *Simulation) CancelOrder(id string) error {
	o, ok := s.open[id]
	if !ok {
		return fmt.Errorf("cancel %s: %w", id, ErrOrderNotFound)
	}
	s.release(o)
	delete(s.open, id)
	return nil
}

func (s *Simulation) release(o *order.Order) {
	if o.Side == order.SideBuy {
		s.reservedCash -= o.Budget
	} else {
		s.reservedQuantity -= o.Quantity
	}
}

// Step 用新价格撮合全部挂单，按下单序号升序遍历快照，返回本 tick 的
// 全部成交（撮合顺序）。每笔成交在移除挂单后同步调用其回调。
//
// STOP 触发采用 convert-then-evaluate：转换为 LIMIT 后在同一 tick 内
// 立即复核限价条件，已越过限价则当场成交。
func (s *Simulation) Step(price float64) []order.Fill {
	ids := make([]string, 0, len(s.open))
	for id := range s.open {
		ids = append(ids, id)
	}
	sort.Strings(ids) // ID 零填充，字典序即下单序

	var fills []order.Fill
	for _, id := range ids {
		o, ok := s.open[id]
		if !ok {
			// 被前序回调撤掉
			continue
		}
		switch o.Kind {
		case order.KindMarket:
			fills = append(fills, s.fill(price, *o))

		case order.KindLimit:
			if limitMatched(*o, price) {
				fills = append(fills, s.fill(price, *o))
			}

		case order.KindStop:
			triggered := (o.Side == order.SideBuy && price >= o.StopPrice) ||
				(o.Side == order.SideSell && price <= o.StopPrice)
			if !triggered {
				continue
			}
			converted := order.ConvertStopToLimit(*o)
			s.open[id] = &converted
			if limitMatched(converted, price) {
				fills = append(fills, s.fill(price, converted))
			}
		}
	}
	s.index++
	return fills
}

func limitMatched(o order.Order, price float64) bool {
	if o.Side == order.SideBuy {
		return price <= o.LimitPrice
	}
	return price >= o.LimitPrice
}

// fill 结算一笔成交：移除挂单与释放占用、调整余额、记录并派发回调。
// 移除与记录是一个原子步骤，同一 ID 不可能撮合两次。
func (s *Simulation) fill(price float64, o order.Order) order.Fill {
	delete(s.open, o.ID)
	s.release(&o)

	var quantity float64
	if o.Side == order.SideBuy {
		quantity = FloorTo(o.Budget*(1-s.fee)/price, QuantityPrecision)
		s.cash -= o.Budget
		s.quantity += quantity
		s.logger.Info("bought",
			zap.String("symbol", s.symbol),
			zap.String("order_id", o.ID),
			zap.Float64("price", price),
			zap.Float64("quantity", quantity))
	} else {
		quantity = o.Quantity
		proceeds := FloorTo(quantity*price*(1-s.fee), QuantityPrecision)
		s.quantity -= quantity
		s.cash += proceeds
		s.logger.Info("sold",
			zap.String("symbol", s.symbol),
			zap.String("order_id", o.ID),
			zap.Float64("price", price),
			zap.Float64("quantity", quantity))
	}

	f := order.Fill{Order: o, Price: price, Quantity: quantity}
	s.history = append(s.history, FillRecord{Index: s.index, Fill: f})
	if o.OnFill != nil {
		o.OnFill(f)
	}
	return f
}

func (s *Simulation) Cash() float64          { return s.cash }
func (s *Simulation) AssetQuantity() float64 { return s.quantity }
func (s *Simulation) Fee() float64           { return s.fee }
func (s *Simulation) Symbol() string         { return s.symbol }

// OpenOrderIDs 按下单序号升序返回全部挂单 ID。
func (s *Simulation) OpenOrderIDs() []string {
	ids := make([]string, 0, len(s.open))
	for id := range s.open {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Simulation) OrderByID(id string) (order.Order, error) {
	o, ok := s.open[id]
	if !ok {
		return order.Order{}, fmt.Errorf("order %s: %w", id, ErrOrderNotFound)
	}
	return *o, nil
}

// NetWorth 返回按给定价格估值的净值。
func (s *Simulation) NetWorth(price float64) float64 {
	return s.cash + s.quantity*price
}

// History 返回全部成交记录（按撮合顺序）。
func (s *Simulation) History() []FillRecord { return s.history }

// Reset 清空成交历史与 tick 计数，挂单与余额保持不变。
func (s *Simulation) Reset() {
	s.history = s.history[:0]
	s.index = 0
}

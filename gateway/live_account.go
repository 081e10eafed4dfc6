package gateway

import (
	"strconv"

	"go.uber.org/zap"

	"grid-trader-go/order"
)

// LiveAccount 在 CoinbaseBroker 之上实现 portfolio.Account：以轮询交易所
// 成交记录的方式产生 Step 语义。每个 trade_id 只派发一次。
type LiveAccount struct {
	*CoinbaseBroker
	seen map[int64]struct{}
}

// NewLiveAccount 包装已初始化的 broker。
func NewLiveAccount(b *CoinbaseBroker) *LiveAccount {
	return &LiveAccount{
		CoinbaseBroker: b,
		seen:           make(map[int64]struct{}),
	}
}

// Step 拉取成交记录，把新成交映射回本地挂单并触发回调。
// price 仅用于与模拟账户保持同一签名，实际成交价以交易所为准。
func (a *LiveAccount) Step(price float64) []order.Fill {
	records, err := a.CoinbaseBroker.Fills()
	if err != nil {
		a.logger.Warn("poll fills failed", zap.Error(err))
		return nil
	}

	var out []order.Fill
	for _, rec := range records {
		if _, dup := a.seen[rec.TradeID]; dup {
			continue
		}
		a.seen[rec.TradeID] = struct{}{}

		a.mu.Lock()
		o, ok := a.open[rec.OrderID]
		if ok {
			delete(a.open, rec.OrderID)
		}
		a.mu.Unlock()
		if !ok {
			continue // 不是本策略的挂单
		}

		fillPrice, err1 := strconv.ParseFloat(rec.Price, 64)
		qty, err2 := strconv.ParseFloat(rec.Size, 64)
		if err1 != nil || err2 != nil {
			a.logger.Warn("unparseable fill",
				zap.String("order_id", rec.OrderID),
				zap.String("price", rec.Price),
				zap.String("size", rec.Size))
			continue
		}

		f := order.Fill{Order: *o, Price: fillPrice, Quantity: qty}
		out = append(out, f)
		if o.OnFill != nil {
			o.OnFill(f)
		}
	}

	if len(out) > 0 {
		if err := a.Refresh(); err != nil {
			a.logger.Warn("refresh after fills failed", zap.Error(err))
		}
	}
	return out
}

package portfolio

import "grid-trader-go/order"

// Broker 是模拟账户与实盘适配层共同实现的下单/查询契约。
// 策略层只依赖该接口，不关心背后是模拟撮合还是真实交易所。
//
// 实盘实现必须把传输类失败包装为 ErrConnectivity 后上抛。
type Broker interface {
	PlaceMarketBuy(budget float64, onFill order.FillHandler) (string, error)
	PlaceLimitBuy(limitPrice, budget float64, onFill order.FillHandler) (string, error)
	PlaceStopBuy(stopPrice, limitPrice, budget float64, onFill order.FillHandler) (string, error)

	PlaceMarketSell(quantity float64, onFill order.FillHandler) (string, error)
	PlaceLimitSell(limitPrice, quantity float64, onFill order.FillHandler) (string, error)
	PlaceStopSell(stopPrice, limitPrice, quantity float64, onFill order.FillHandler) (string, error)

	Cash() float64
	AssetQuantity() float64
	OpenOrderIDs() []string
	OrderByID(id string) (order.Order, error)
	CancelOrder(id string) error
}

// Account 在 Broker 之上增加按 tick 推进撮合的能力。模拟账户直接撮合；
// 实盘适配层以轮询交易所成交的方式实现同一语义。
type Account interface {
	Broker
	Step(price float64) []order.Fill
}

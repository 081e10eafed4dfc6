package order

// Side 表示订单方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Kind 表示执行方式。STOP 订单从不直接成交：价格触及 StopPrice 后
// 转换为同 ID 的 LIMIT 订单继续挂单。
type Kind string

const (
	KindMarket Kind = "MARKET"
	KindLimit  Kind = "LIMIT"
	KindStop   Kind = "STOP"
)

// FillHandler 在订单离开挂单集合时被同步调用。
type FillHandler func(Fill)

// Order is a single working order. Buy size is expressed as a currency
// budget, sell size as an asset quantity; the unused field stays zero.
type Order struct {
	ID   string
	Side Side
	Kind Kind

	Budget   float64 // buy 预算（计价货币）
	Quantity float64 // sell 数量（标的资产）

	LimitPrice float64 // LIMIT/STOP 有效
	StopPrice  float64 // 仅 STOP 有效

	OnFill FillHandler

	// Seq 为账户分配的下单序号，用于确定性的撮合遍历顺序。
	Seq uint64
}

// Size 返回订单规模：buy 为预算，sell 为数量。
func (o Order) Size() float64 {
	if o.Side == SideBuy {
		return o.Budget
	}
	return o.Quantity
}

// Fill 是订单成交的不可变记录，每个订单至多产生一次。
type Fill struct {
	Order    Order
	Price    float64
	Quantity float64
}

// ConvertStopToLimit 把触发后的 STOP 订单转换为同 ID 的 LIMIT 订单，
// 保留方向、规模与回调，仅替换执行方式。
func ConvertStopToLimit(o Order) Order {
	o.Kind = KindLimit
	o.StopPrice = 0
	return o
}

package backtest

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"grid-trader-go/grid"
	"grid-trader-go/market"
	"grid-trader-go/order"
	"grid-trader-go/portfolio"
)

// Config 回测配置
type Config struct {
	Symbol      string
	InitialCash float64
	Fee         float64 // 单边费率（如 0.005 = 0.5%）
	Grid        grid.Config
}

// Result 回测结果
type Result struct {
	StartTime time.Time
	EndTime   time.Time

	InitialCash   float64
	FinalNetWorth float64
	TotalPnL      float64
	TotalReturn   float64

	TotalTrades int
	BuyTrades   int
	SellTrades  int

	MaxDrawdown float64
	SharpeRatio float64

	Fills       []portfolio.FillRecord
	EquityCurve []float64
}

// Engine 驱动网格策略在历史 tick 序列上回放。
type Engine struct {
	cfg      Config
	account  *portfolio.Simulation
	strategy *grid.Strategy

	equityCurve []float64
	peakEquity  float64
	maxDrawdown float64

	logger *zap.Logger
}

// NewEngine 创建回测引擎：模拟账户 + 网格策略。
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.InitialCash <= 0 {
		return nil, fmt.Errorf("initialCash must be > 0, got %f", cfg.InitialCash)
	}
	cfg.Grid.Fee = cfg.Fee

	account := portfolio.NewSimulation(cfg.Symbol, cfg.InitialCash, 0, cfg.Fee)
	strategy, err := grid.NewStrategy(account, cfg.Grid)
	if err != nil {
		return nil, fmt.Errorf("build strategy: %w", err)
	}
	return &Engine{
		cfg:        cfg,
		account:    account,
		strategy:   strategy,
		peakEquity: cfg.InitialCash,
		logger:     zap.NewNop(),
	}, nil
}

// SetLogger 注入日志器并透传给账户与策略。
func (e *Engine) SetLogger(l *zap.Logger) {
	if l == nil {
		return
	}
	e.logger = l
	e.account.SetLogger(l)
	e.strategy.SetLogger(l)
}

// Run 回放整个 tick 序列。策略返回致命错误（档位映射失真）时立即中止。
func (e *Engine) Run(ticks []market.Tick) (*Result, error) {
	if len(ticks) == 0 {
		return nil, fmt.Errorf("no tick data provided")
	}

	e.strategy.Reset(ticks[0].Price)
	if err := e.strategy.Err(); err != nil {
		return nil, err
	}

	for i, tick := range ticks {
		if _, err := e.strategy.Step(tick.Price); err != nil {
			return nil, fmt.Errorf("tick %d (price %.4f): %w", i, tick.Price, err)
		}
		e.recordEquity(tick.Price)
	}

	return e.buildResult(ticks), nil
}

func (e *Engine) recordEquity(price float64) {
	equity := e.account.NetWorth(price)
	e.equityCurve = append(e.equityCurve, equity)

	if equity > e.peakEquity {
		e.peakEquity = equity
	}
	if dd := (e.peakEquity - equity) / e.peakEquity; dd > e.maxDrawdown {
		e.maxDrawdown = dd
	}
}

func (e *Engine) buildResult(ticks []market.Tick) *Result {
	final := e.equityCurve[len(e.equityCurve)-1]
	fills := e.account.History()

	var buys, sells int
	for _, rec := range fills {
		if rec.Fill.Order.Side == order.SideBuy {
			buys++
		} else {
			sells++
		}
	}

	return &Result{
		StartTime:     ticks[0].Time,
		EndTime:       ticks[len(ticks)-1].Time,
		InitialCash:   e.cfg.InitialCash,
		FinalNetWorth: final,
		TotalPnL:      final - e.cfg.InitialCash,
		TotalReturn:   (final - e.cfg.InitialCash) / e.cfg.InitialCash,
		TotalTrades:   len(fills),
		BuyTrades:     buys,
		SellTrades:    sells,
		MaxDrawdown:   e.maxDrawdown,
		SharpeRatio:   sharpeRatio(e.equityCurve),
		Fills:         fills,
		EquityCurve:   e.equityCurve,
	}
}

// sharpeRatio 按逐 tick 收益率计算年化夏普（无风险利率取 0，
// 假设小时级数据）。
func sharpeRatio(equity []float64) float64 {
	if len(equity) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		returns = append(returns, (equity[i]-equity[i-1])/equity[i-1])
	}
	if len(returns) == 0 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	if variance == 0 {
		return 0
	}

	hoursPerYear := 24.0 * 365
	return mean * hoursPerYear / (math.Sqrt(variance) * math.Sqrt(hoursPerYear))
}

// Log 输出结果摘要。
func (r *Result) Log(l *zap.Logger) {
	l.Info("backtest finished",
		zap.Time("start", r.StartTime),
		zap.Time("end", r.EndTime),
		zap.Float64("initial_cash", r.InitialCash),
		zap.Float64("final_net_worth", r.FinalNetWorth),
		zap.Float64("pnl", r.TotalPnL),
		zap.Float64("return_pct", r.TotalReturn*100),
		zap.Int("trades", r.TotalTrades),
		zap.Int("buys", r.BuyTrades),
		zap.Int("sells", r.SellTrades),
		zap.Float64("max_drawdown_pct", r.MaxDrawdown*100),
		zap.Float64("sharpe", r.SharpeRatio))
}

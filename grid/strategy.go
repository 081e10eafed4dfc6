package grid

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"grid-trader-go/order"
	"grid-trader-go/portfolio"
)

// Config 是网格策略参数。
type Config struct {
	// Boundaries 为升序的档位边界价，n 个边界产生 n-1 个有限档。
	Boundaries []float64
	// Fee 为账户的单边费率，用于把卖出所得换算回档位预算。
	Fee float64
	// StopOffset 为触发价相对边界价的偏移：买入触发在边界下方
	// offset 处，卖出触发在边界上方 offset 处。0 表示触发价即边界价。
	StopOffset float64
}

// Strategy 驱动档位账本与账户：对成交事件做档位记账并补挂对侧订单，
// 对跨档 tick 先迁移当前档位游标并在跳档时合并/重分配订单。
//
// 订单与档位的双向映射（orderLevel 与 Level.OrderIDs）在每次变更后必须
// 保持一致，失配会锁存 ErrInvariantViolation 并终止后续 Step。
type Strategy struct {
	account portfolio.Account
	ledger  *Ledger
	cfg     Config

	orderLevel map[string]int // order id → 所属档位下标

	logger *zap.Logger
	err    error
}

// NewStrategy 构造网格：按边界切分档位，把账户现金均分为各档预算，
// 并在每个有限档的下边界挂一张 stop-buy 启动买腿。
func NewStrategy(account portfolio.Account, cfg Config) (*Strategy, error) {
	ledger, err := NewLedger(cfg.Boundaries)
	if err != nil {
		return nil, err
	}
	if cfg.Fee < 0 || cfg.Fee >= 1 {
		return nil, fmt.Errorf("fee %.8f out of range [0,1)", cfg.Fee)
	}
	if cfg.StopOffset < 0 {
		return nil, fmt.Errorf("stopOffset %.8f must be >= 0", cfg.StopOffset)
	}

	s := &Strategy{
		account:    account,
		ledger:     ledger,
		cfg:        cfg,
		orderLevel: make(map[string]int),
		logger:     zap.NewNop(),
	}

	n := ledger.FiniteCount()
	perLevel := portfolio.FloorTo(account.Cash()/float64(n), portfolio.QuantityPrecision)
	for i := 1; i <= n; i++ {
		lvl := ledger.At(i)
		lvl.Budget = perLevel
		id, err := account.PlaceStopBuy(
			lvl.LowerBound-cfg.StopOffset, lvl.LowerBound, perLevel, s.buyFill)
		if err != nil {
			return nil, fmt.Errorf("arm level %d: %w", i, err)
		}
		s.attach(lvl, id)
	}
	return s, nil
}

// SetLogger 注入结构化日志器，默认 Nop。
func (s *Strategy) SetLogger(l *zap.Logger) {
	if l != nil {
		s.logger = l
	}
}

// Ledger 暴露档位账本（只读用途：测试与指标）。
func (s *Strategy) Ledger() *Ledger { return s.ledger }

// Reset 只定位当前档位游标，不下单不撮合。用于回放开始前对齐起始价。
func (s *Strategy) Reset(price float64) {
	for price >= s.ledger.Current().UpperBound {
		if err := s.ledger.Advance(); err != nil {
			s.latch(err)
			return
		}
	}
	for price < s.ledger.Current().LowerBound {
		if err := s.ledger.Retreat(); err != nil {
			s.latch(err)
			return
		}
	}
}

// Step 处理一个价格 tick：先做跨档迁移（含跳档合并/重分配），再委托
// 账户撮合；成交回调在撮合内同步驱动档位记账。返回本 tick 的成交序列。
func (s *Strategy) Step(price float64) ([]order.Fill, error) {
	if s.err != nil {
		return nil, s.err
	}

	cur := s.ledger.Current()
	switch {
	case price > cur.UpperBound:
		// leaving-level-upward：在游标迁移前合并下方卖单
		s.consolidateSells(price)
		for price > s.ledger.Current().UpperBound {
			if err := s.ledger.Advance(); err != nil {
				return nil, s.latch(err)
			}
		}
		s.logger.Debug("level advanced",
			zap.Int("level", s.ledger.Current().Index()),
			zap.Float64("price", price))

	case price < cur.LowerBound:
		// leaving-level-downward：镜像地合并上方买单
		s.consolidateBuys(price)
		for price < s.ledger.Current().LowerBound {
			if err := s.ledger.Retreat(); err != nil {
				return nil, s.latch(err)
			}
		}
		s.logger.Debug("level retreated",
			zap.Int("level", s.ledger.Current().Index()),
			zap.Float64("price", price))
	}

	fills := s.account.Step(price)
	if s.err != nil {
		return fills, s.err
	}
	return fills, nil
}

// Err 返回已锁存的致命错误。
func (s *Strategy) Err() error { return s.err }

// buyFill 是买单成交回调：扣减档位预算、累计持仓，并在档位上边界
// 补挂 stop-sell 重新武装卖腿。
func (s *Strategy) buyFill(f order.Fill) {
	lvl := s.owner(f.Order.ID)
	if lvl == nil {
		return
	}
	lvl.Budget -= f.Order.Budget
	lvl.Quantity += f.Quantity
	s.detach(lvl, f.Order.ID)

	if math.IsInf(lvl.UpperBound, 1) {
		return
	}
	id, err := s.account.PlaceStopSell(
		lvl.UpperBound+s.cfg.StopOffset, lvl.UpperBound, f.Quantity, s.sellFill)
	if err != nil {
		s.latch(fmt.Errorf("re-arm sell at level %d: %w", lvl.Index(), err))
		return
	}
	s.attach(lvl, id)
}

// sellFill 是卖单成交回调：按净所得回补档位预算、扣减持仓，并在档位
// 下边界补挂 limit-buy 重新武装买腿。
func (s *Strategy) sellFill(f order.Fill) {
	lvl := s.owner(f.Order.ID)
	if lvl == nil {
		return
	}
	lvl.Budget += s.netProceeds(f)
	lvl.Quantity -= f.Quantity
	s.detach(lvl, f.Order.ID)

	if lvl.Budget <= 0 || math.IsInf(lvl.LowerBound, -1) {
		return
	}
	id, err := s.account.PlaceLimitBuy(lvl.LowerBound, lvl.Budget, s.buyFill)
	if err != nil {
		s.latch(fmt.Errorf("re-arm buy at level %d: %w", lvl.Index(), err))
		return
	}
	s.attach(lvl, id)
}

// consolidateSells 在价格上穿若干档前，把目标档下边界及以下的全部
// 卖单合并为一张 stop-sell：N 张零散卖单坍缩成 1 张，成交后由
// distributeSellFill 把所得均摊回被跳过的档位。
func (s *Strategy) consolidateSells(price float64) {
	dest := s.ledger.Locate(price)
	target := dest.LowerBound
	if math.IsInf(target, -1) {
		return
	}

	var ids []string
	var total float64
	for _, id := range s.account.OpenOrderIDs() {
		o, err := s.account.OrderByID(id)
		if err != nil {
			s.latch(fmt.Errorf("open order %s vanished: %w", id, ErrInvariantViolation))
			return
		}
		if o.Side != order.SideSell || o.LimitPrice > target {
			continue
		}
		ids = append(ids, id)
		total += o.Quantity
	}
	if len(ids) == 0 {
		return
	}
	if len(ids) == 1 {
		if idx, ok := s.orderLevel[ids[0]]; ok && s.ledger.At(idx) == s.ledger.Prev(dest) {
			// 已经是停在目标边界下的单张卖单，无需重挂
			return
		}
	}

	for _, id := range ids {
		lvl := s.owner(id)
		if lvl == nil {
			return
		}
		if err := s.account.CancelOrder(id); err != nil {
			s.latch(fmt.Errorf("cancel %s during consolidation: %w", id, err))
			return
		}
		s.detach(lvl, id)
	}
	if total <= 0 {
		return
	}

	id, err := s.account.PlaceStopSell(target+s.cfg.StopOffset, target, total, s.distributeSellFill)
	if err != nil {
		s.latch(fmt.Errorf("place consolidated sell: %w", err))
		return
	}
	// 挂在上边界等于 target 的档位上，与散单的归属约定一致
	attachTo := s.ledger.Prev(dest)
	if math.IsInf(attachTo.LowerBound, -1) {
		attachTo = dest
	}
	s.attach(attachTo, id)
	s.logger.Info("sell orders consolidated",
		zap.Int("count", len(ids)),
		zap.Float64("quantity", total),
		zap.Float64("at", target))
}

// distributeSellFill 处理合并卖单的成交（entering-level-upward 的对偶）：
// 把净所得均摊给成交价下方预算为零的有限档，各档清零持仓并重新武装买腿。
func (s *Strategy) distributeSellFill(f order.Fill) {
	ownerLvl := s.owner(f.Order.ID)
	if ownerLvl == nil {
		return
	}
	s.detach(ownerLvl, f.Order.ID)
	proceeds := s.netProceeds(f)

	var targets []*Level
	for l := ownerLvl; l != nil && !math.IsInf(l.LowerBound, -1); l = s.ledger.Prev(l) {
		if l.Budget == 0 && f.Price > l.LowerBound {
			targets = append(targets, l)
		}
	}
	if len(targets) == 0 {
		// 没有可归还的档位：记在合并单归属档上
		ownerLvl.Budget += proceeds
		ownerLvl.Quantity -= f.Quantity
		return
	}

	share := portfolio.FloorTo(proceeds/float64(len(targets)), portfolio.QuantityPrecision)
	for _, l := range targets {
		l.Budget = share
		l.Quantity = 0
		id, err := s.account.PlaceLimitBuy(l.LowerBound, share, s.buyFill)
		if err != nil {
			s.latch(fmt.Errorf("re-arm level %d after distribution: %w", l.Index(), err))
			return
		}
		s.attach(l, id)
	}
	s.logger.Info("sell proceeds distributed",
		zap.Float64("proceeds", proceeds),
		zap.Int("levels", len(targets)))
}

// consolidateBuys 是下行镜像：价格下穿若干档前，把目标档上边界及以上
// 的全部买单合并为一张 stop-buy，成交后由 distributeBuyFill 把买到的
// 数量均摊回被跳过的档位。
func (s *Strategy) consolidateBuys(price float64) {
	dest := s.ledger.Locate(price)
	target := dest.UpperBound
	if math.IsInf(target, 1) {
		return
	}

	var ids []string
	var total float64
	for _, id := range s.account.OpenOrderIDs() {
		o, err := s.account.OrderByID(id)
		if err != nil {
			s.latch(fmt.Errorf("open order %s vanished: %w", id, ErrInvariantViolation))
			return
		}
		if o.Side != order.SideBuy || o.LimitPrice < target {
			continue
		}
		ids = append(ids, id)
		total += o.Budget
	}
	if len(ids) == 0 {
		return
	}
	if len(ids) == 1 {
		if idx, ok := s.orderLevel[ids[0]]; ok && s.ledger.At(idx) == s.ledger.Next(dest) {
			return
		}
	}

	for _, id := range ids {
		lvl := s.owner(id)
		if lvl == nil {
			return
		}
		if err := s.account.CancelOrder(id); err != nil {
			s.latch(fmt.Errorf("cancel %s during consolidation: %w", id, err))
			return
		}
		s.detach(lvl, id)
	}
	if total <= 0 {
		return
	}

	id, err := s.account.PlaceStopBuy(target-s.cfg.StopOffset, target, total, s.distributeBuyFill)
	if err != nil {
		s.latch(fmt.Errorf("place consolidated buy: %w", err))
		return
	}
	// 挂在下边界等于 target 的档位上
	attachTo := s.ledger.Next(dest)
	if math.IsInf(attachTo.UpperBound, 1) {
		attachTo = dest
	}
	s.attach(attachTo, id)
	s.logger.Info("buy orders consolidated",
		zap.Int("count", len(ids)),
		zap.Float64("budget", total),
		zap.Float64("at", target))
}

// distributeBuyFill 把合并买单买到的数量均摊给成交价上方持仓为零的
// 有限档，各档清零预算并重新武装卖腿。
func (s *Strategy) distributeBuyFill(f order.Fill) {
	ownerLvl := s.owner(f.Order.ID)
	if ownerLvl == nil {
		return
	}
	s.detach(ownerLvl, f.Order.ID)

	var targets []*Level
	for l := ownerLvl; l != nil && !math.IsInf(l.UpperBound, 1); l = s.ledger.Next(l) {
		if l.Quantity == 0 && l.Budget > 0 && f.Price < l.UpperBound {
			targets = append(targets, l)
		}
	}
	if len(targets) == 0 {
		ownerLvl.Budget -= f.Order.Budget
		ownerLvl.Quantity += f.Quantity
		return
	}

	share := portfolio.FloorTo(f.Quantity/float64(len(targets)), portfolio.QuantityPrecision)
	for _, l := range targets {
		l.Quantity = share
		l.Budget = 0
		id, err := s.account.PlaceStopSell(
			l.UpperBound+s.cfg.StopOffset, l.UpperBound, share, s.sellFill)
		if err != nil {
			s.latch(fmt.Errorf("re-arm level %d after distribution: %w", l.Index(), err))
			return
		}
		s.attach(l, id)
	}
	s.logger.Info("buy quantity distributed",
		zap.Float64("quantity", f.Quantity),
		zap.Int("levels", len(targets)))
}

func (s *Strategy) netProceeds(f order.Fill) float64 {
	return portfolio.FloorTo(f.Price*f.Quantity*(1-s.cfg.Fee), portfolio.QuantityPrecision)
}

// owner 解析订单归属档位；失配即致命失真。
func (s *Strategy) owner(id string) *Level {
	idx, ok := s.orderLevel[id]
	if !ok {
		s.latch(fmt.Errorf("order %s has no owning level: %w", id, ErrInvariantViolation))
		return nil
	}
	lvl := s.ledger.At(idx)
	if _, ok := lvl.OrderIDs[id]; !ok {
		s.latch(fmt.Errorf("order %s missing from level %d id set: %w", id, idx, ErrInvariantViolation))
		return nil
	}
	return lvl
}

func (s *Strategy) attach(l *Level, id string) {
	l.OrderIDs[id] = struct{}{}
	s.orderLevel[id] = l.index
}

func (s *Strategy) detach(l *Level, id string) {
	delete(l.OrderIDs, id)
	delete(s.orderLevel, id)
}

func (s *Strategy) latch(err error) error {
	if s.err == nil {
		s.err = err
		s.logger.Error("fatal strategy error", zap.Error(err))
	}
	return s.err
}

// Validate 校验链一致性与订单/档位双向映射，以及映射中的每个订单都
// 仍在账户挂单集合里。测试在每个场景后调用。
func (s *Strategy) Validate() error {
	if err := s.ledger.Validate(); err != nil {
		return err
	}
	for id, idx := range s.orderLevel {
		if idx < 0 || idx >= s.ledger.Len() {
			return fmt.Errorf("order %s maps to level %d out of range: %w", id, idx, ErrInvariantViolation)
		}
		if _, ok := s.ledger.At(idx).OrderIDs[id]; !ok {
			return fmt.Errorf("order %s not in level %d id set: %w", id, idx, ErrInvariantViolation)
		}
		if _, err := s.account.OrderByID(id); err != nil {
			return fmt.Errorf("order %s mapped but not open: %w", id, ErrInvariantViolation)
		}
	}
	for i := 0; i < s.ledger.Len(); i++ {
		for id := range s.ledger.At(i).OrderIDs {
			if idx, ok := s.orderLevel[id]; !ok || idx != i {
				return fmt.Errorf("level %d id %s not mirrored in order map: %w", i, id, ErrInvariantViolation)
			}
		}
	}
	return nil
}

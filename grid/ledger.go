package grid

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvariantViolation 表示档位链或订单映射失去一致性。属于编程错误，
// 调用方必须终止本次运行，否则后续记账全部失真。
var ErrInvariantViolation = errors.New("invariant violation")

// Level 是一个连续价格带 [LowerBound, UpperBound)，持有自己的预算/持仓
// 以及当前归属于它的挂单 ID 集合。链表关系以 arena 下标表示，避免指针环。
type Level struct {
	Budget   float64
	Quantity float64

	LowerBound float64
	UpperBound float64

	OrderIDs map[string]struct{}

	index      int
	prev, next int
}

// Index 返回该档位在 arena 中的下标。
func (l *Level) Index() int { return l.index }

// Contains 判断价格是否落在 [LowerBound, UpperBound) 内。
func (l *Level) Contains(price float64) bool {
	return price >= l.LowerBound && price < l.UpperBound
}

// Ledger 维护按价格严格升序的档位序列与"当前档位"游标。
// 两端是零分配的哨兵档：(−∞, b0) 与 [bn, +∞)，构造后档位只遍历不销毁。
type Ledger struct {
	levels  []*Level
	current int
}

// NewLedger 从升序边界价构造档位链。n 个边界产生 n-1 个有限档，
// 外加两端哨兵。边界必须至少两个且严格递增。
func NewLedger(bounds []float64) (*Ledger, error) {
	if len(bounds) < 2 {
		return nil, fmt.Errorf("need at least 2 boundaries, got %d", len(bounds))
	}
	for i := 1; i < len(bounds); i++ {
		if bounds[i] <= bounds[i-1] {
			return nil, fmt.Errorf("boundaries must be strictly increasing: %.8f !< %.8f",
				bounds[i-1], bounds[i])
		}
	}

	total := len(bounds) + 1
	lg := &Ledger{levels: make([]*Level, total)}

	lower := math.Inf(-1)
	for i := 0; i < total; i++ {
		upper := math.Inf(1)
		if i < len(bounds) {
			upper = bounds[i]
		}
		lg.levels[i] = &Level{
			LowerBound: lower,
			UpperBound: upper,
			OrderIDs:   make(map[string]struct{}),
			index:      i,
			prev:       i - 1,
			next:       i + 1,
		}
		lower = upper
	}
	lg.levels[total-1].next = -1
	lg.current = 0
	return lg, nil
}

// Len 返回档位总数（含哨兵）。
func (lg *Ledger) Len() int { return len(lg.levels) }

// FiniteCount 返回有限档位数量。
func (lg *Ledger) FiniteCount() int { return len(lg.levels) - 2 }

// At 返回下标 i 处的档位。
func (lg *Ledger) At(i int) *Level { return lg.levels[i] }

// Head 返回低端哨兵，Tail 返回高端哨兵。
func (lg *Ledger) Head() *Level { return lg.levels[0] }
func (lg *Ledger) Tail() *Level { return lg.levels[len(lg.levels)-1] }

// Current 返回当前档位。
func (lg *Ledger) Current() *Level { return lg.levels[lg.current] }

// Next/Prev 沿链移动一跳，链到头返回 nil。
func (lg *Ledger) Next(l *Level) *Level {
	if l.next < 0 {
		return nil
	}
	return lg.levels[l.next]
}

func (lg *Ledger) Prev(l *Level) *Level {
	if l.prev < 0 {
		return nil
	}
	return lg.levels[l.prev]
}

// Advance 将当前档位游标上移一跳。
func (lg *Ledger) Advance() error {
	cur := lg.Current()
	if cur.next < 0 {
		return fmt.Errorf("advance past tail sentinel: %w", ErrInvariantViolation)
	}
	if lg.levels[cur.next].prev != cur.index {
		return fmt.Errorf("broken chain at level %d: %w", cur.index, ErrInvariantViolation)
	}
	lg.current = cur.next
	return nil
}

// Retreat 将当前档位游标下移一跳。
func (lg *Ledger) Retreat() error {
	cur := lg.Current()
	if cur.prev < 0 {
		return fmt.Errorf("retreat past head sentinel: %w", ErrInvariantViolation)
	}
	if lg.levels[cur.prev].next != cur.index {
		return fmt.Errorf("broken chain at level %d: %w", cur.index, ErrInvariantViolation)
	}
	lg.current = cur.prev
	return nil
}

// Locate 从当前游标出发逐跳定位包含 price 的档位，复杂度 O(跳数)。
// 不移动游标。
func (lg *Ledger) Locate(price float64) *Level {
	l := lg.Current()
	for price >= l.UpperBound {
		l = lg.levels[l.next]
	}
	for price < l.LowerBound {
		l = lg.levels[l.prev]
	}
	return l
}

// Validate 校验链的双向一致性与边界单调性，供测试与断言使用。
func (lg *Ledger) Validate() error {
	for i, l := range lg.levels {
		if l.index != i {
			return fmt.Errorf("level %d carries index %d: %w", i, l.index, ErrInvariantViolation)
		}
		if l.next >= 0 && lg.levels[l.next].prev != i {
			return fmt.Errorf("next.prev mismatch at level %d: %w", i, ErrInvariantViolation)
		}
		if l.prev >= 0 && lg.levels[l.prev].next != i {
			return fmt.Errorf("prev.next mismatch at level %d: %w", i, ErrInvariantViolation)
		}
		if l.LowerBound >= l.UpperBound {
			return fmt.Errorf("bounds not increasing at level %d: %w", i, ErrInvariantViolation)
		}
		if l.prev >= 0 && lg.levels[l.prev].UpperBound != l.LowerBound {
			return fmt.Errorf("gap below level %d: %w", i, ErrInvariantViolation)
		}
	}
	if lg.Head().Budget != 0 || lg.Tail().Budget != 0 {
		return fmt.Errorf("sentinel carries allocation: %w", ErrInvariantViolation)
	}
	return nil
}

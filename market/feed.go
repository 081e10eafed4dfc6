package market

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Tick 是一次 (时间, 价格) 观测。
type Tick struct {
	Time  time.Time
	Price float64
}

// LoadCSV 读取历史行情 CSV 并返回按文件顺序排列的 tick 序列。
// 支持两种布局：
//   - 带表头：按列名取 date/time/timestamp 与 close/price；
//   - 无表头：每行 [price] 或 [timestamp, price]。
func LoadCSV(path string) ([]Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: empty file", path)
	}

	timeCol, priceCol := -1, -1
	start := 0
	if _, err := strconv.ParseFloat(strings.TrimSpace(rows[0][len(rows[0])-1]), 64); err != nil {
		// 首行不是数字，按表头处理
		for i, name := range rows[0] {
			switch strings.ToLower(strings.TrimSpace(name)) {
			case "date", "time", "timestamp":
				timeCol = i
			case "close", "price":
				priceCol = i
			}
		}
		if priceCol < 0 {
			return nil, fmt.Errorf("%s: no close/price column in header", path)
		}
		start = 1
	}

	ticks := make([]Tick, 0, len(rows)-start)
	for n, row := range rows[start:] {
		if len(row) == 0 {
			continue
		}
		var t Tick
		switch {
		case priceCol >= 0:
			if priceCol >= len(row) {
				return nil, fmt.Errorf("%s row %d: missing price column", path, n+start+1)
			}
			t.Price, err = strconv.ParseFloat(strings.TrimSpace(row[priceCol]), 64)
			if err != nil {
				return nil, fmt.Errorf("%s row %d: %w", path, n+start+1, err)
			}
			if timeCol >= 0 && timeCol < len(row) {
				t.Time = parseTime(row[timeCol])
			}
		case len(row) >= 2:
			t.Time = parseTime(row[0])
			t.Price, err = strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
			if err != nil {
				return nil, fmt.Errorf("%s row %d: %w", path, n+start+1, err)
			}
		default:
			t.Price, err = strconv.ParseFloat(strings.TrimSpace(row[0]), 64)
			if err != nil {
				return nil, fmt.Errorf("%s row %d: %w", path, n+start+1, err)
			}
		}
		if t.Price <= 0 {
			return nil, fmt.Errorf("%s row %d: non-positive price %f", path, n+start+1, t.Price)
		}
		ticks = append(ticks, t)
	}
	return ticks, nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC()
	}
	return time.Time{}
}

// Prices 抽取价格序列。
func Prices(ticks []Tick) []float64 {
	out := make([]float64, len(ticks))
	for i, t := range ticks {
		out[i] = t.Price
	}
	return out
}

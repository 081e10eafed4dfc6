// Package metrics provides Prometheus metrics for the grid trader
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// 成交指标
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_fills_total",
		Help: "成交总数（按方向）",
	}, []string{"side"})

	FilledVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_filled_volume_total",
		Help: "累计成交量（按方向）",
	}, []string{"side"})

	// 账户指标
	NetWorth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_net_worth",
		Help: "当前净值（现金 + 持仓市值）",
	})

	Cash = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_cash",
		Help: "当前可用现金",
	})

	OpenOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_open_orders",
		Help: "挂单数量",
	})

	// 网格指标
	CurrentLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_current_level",
		Help: "当前所在档位索引",
	})

	LastPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_last_price",
		Help: "最新成交价",
	})

	LevelShifts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_level_shifts_total",
		Help: "档位迁移次数（按方向 up/down）",
	}, []string{"direction"})

	// 行情连接指标
	WSReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grid_ws_reconnects_total",
		Help: "行情连接重连次数",
	})
)

// RecordFill 记录一笔成交
func RecordFill(side string, quantity float64) {
	FillsTotal.WithLabelValues(side).Inc()
	FilledVolume.WithLabelValues(side).Add(quantity)
}

// UpdateAccount 更新账户快照指标
func UpdateAccount(netWorth, cash float64, openOrders int) {
	NetWorth.Set(netWorth)
	Cash.Set(cash)
	OpenOrders.Set(float64(openOrders))
}

// UpdateGrid 更新网格状态指标
func UpdateGrid(levelIndex int, price float64) {
	CurrentLevel.Set(float64(levelIndex))
	LastPrice.Set(price)
}

// RecordLevelShift 记录一次档位迁移
func RecordLevelShift(direction string) {
	LevelShifts.WithLabelValues(direction).Inc()
}

// StartMetricsServer 启动Prometheus指标服务器
func StartMetricsServer(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, nil)
	}()
}

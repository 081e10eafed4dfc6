package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"grid-trader-go/config"
	"grid-trader-go/gateway"
	"grid-trader-go/grid"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/market"
	"grid-trader-go/metrics"
	"grid-trader-go/order"
	"grid-trader-go/portfolio"
)

const defaultWSURL = "wss://ws-feed.pro.coinbase.com"

// 实盘/模拟网格运行器：行情 websocket 驱动策略，支持配置热加载、
// Prometheus 指标与 systemd 看门狗。
func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	lg, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer lg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		metrics.StartMetricsServer(cfg.Metrics.Addr)
		lg.Info("metrics server started", zap.String("addr", cfg.Metrics.Addr))
	}

	account, err := buildAccount(cfg, lg.Logger)
	if err != nil {
		lg.Fatal("初始化账户失败", zap.Error(err))
	}

	strategy, err := grid.NewStrategy(account, grid.Config{
		Boundaries: cfg.Grid.Boundaries,
		Fee:        cfg.Account.Fee,
		StopOffset: cfg.Grid.StopOffset,
	})
	if err != nil {
		lg.Fatal("初始化策略失败", zap.Error(err))
	}
	strategy.SetLogger(lg.Logger)

	// 配置热加载：目前只对日志输出生效性较弱的字段告警，网格边界
	// 变更需要重启才能生效
	go func() {
		w := config.Watcher{Path: *cfgPath}
		err := w.Start(ctx, func(next config.AppConfig) {
			lg.Info("config reloaded",
				zap.Float64s("boundaries", next.Grid.Boundaries),
				zap.String("note", "grid changes take effect after restart"))
		})
		if err != nil && ctx.Err() == nil {
			lg.Warn("config watcher stopped", zap.Error(err))
		}
	}()

	startWatchdog(ctx, lg.Logger)
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	runTicks(ctx, cfg, strategy, account, lg)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	lg.Info("gridbot exit")
}

// buildAccount 根据 env 选择模拟账户（纸面交易）或实盘适配层。
func buildAccount(cfg config.AppConfig, lg *zap.Logger) (portfolio.Account, error) {
	if cfg.Env == "sim" {
		sim := portfolio.NewSimulation(cfg.Symbol, cfg.Account.InitialCash, 0, cfg.Account.Fee)
		sim.SetLogger(lg)
		return sim, nil
	}

	client := &gateway.CoinbaseClient{
		BaseURL:    cfg.Gateway.BaseURL,
		Key:        cfg.Gateway.APIKey,
		Secret:     cfg.Gateway.APISecret,
		Passphrase: cfg.Gateway.Passphrase,
		HTTPClient: gateway.NewDefaultHTTPClient(),
	}
	broker := gateway.NewCoinbaseBroker(client, cfg.Symbol)
	broker.SetLogger(lg)
	if err := broker.Refresh(); err != nil {
		return nil, err
	}
	lg.Info("live account ready",
		zap.Float64("cash", broker.Cash()),
		zap.Float64("quantity", broker.AssetQuantity()))
	return gateway.NewLiveAccount(broker), nil
}

// runTicks 维持行情连接并把 tick 喂给策略，断线后退避重连。
func runTicks(ctx context.Context, cfg config.AppConfig, strategy *grid.Strategy, account portfolio.Account, lg *logger.Logger) {
	wsURL := cfg.Gateway.WSURL
	if wsURL == "" {
		wsURL = defaultWSURL
	}

	ticks := make(chan market.Tick, 64)
	go func() {
		backoff := time.Second
		for ctx.Err() == nil {
			stream := gateway.NewTickerStream(wsURL, cfg.Symbol)
			stream.SetLogger(lg.Logger)
			err := stream.Run(ctx, ticks)
			if ctx.Err() != nil {
				return
			}
			metrics.WSReconnects.Inc()
			lg.Warn("ticker stream dropped", zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	}()

	first := true
	prevLevel := 0
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticks:
			if first {
				strategy.Reset(tick.Price)
				if err := strategy.Err(); err != nil {
					lg.Error("strategy init failed", zap.Error(err))
					return
				}
				prevLevel = strategy.Ledger().Current().Index()
				first = false
			}
			fills, err := strategy.Step(tick.Price)
			if err != nil {
				lg.Error("strategy halted", zap.Error(err))
				return
			}
			if cur := strategy.Ledger().Current().Index(); cur != prevLevel {
				direction := "up"
				if cur < prevLevel {
					direction = "down"
				}
				metrics.RecordLevelShift(direction)
				lg.LogLevelShift(direction, prevLevel, cur, tick.Price)
				prevLevel = cur
			}
			observe(strategy, account, tick, fills, lg)
		}
	}
}

func observe(strategy *grid.Strategy, account portfolio.Account, tick market.Tick, fills []order.Fill, lg *logger.Logger) {
	for _, f := range fills {
		side := "buy"
		if f.Order.Side == order.SideSell {
			side = "sell"
		}
		metrics.RecordFill(side, f.Quantity)
		lg.LogFill(side, f.Order.ID, f.Price, f.Quantity)
	}
	netWorth := account.Cash() + account.AssetQuantity()*tick.Price
	metrics.UpdateAccount(netWorth, account.Cash(), len(account.OpenOrderIDs()))
	metrics.UpdateGrid(strategy.Ledger().Current().Index(), tick.Price)
}

// startWatchdog 在 systemd 启用看门狗时按半周期喂狗。
func startWatchdog(ctx context.Context, lg *zap.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	lg.Info("systemd watchdog enabled", zap.Duration("interval", interval))
	go func() {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}

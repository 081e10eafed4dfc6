package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"

	"grid-trader-go/backtest"
	"grid-trader-go/config"
	"grid-trader-go/grid"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/market"
	"grid-trader-go/order"
	"grid-trader-go/portfolio"
)

// 配置驱动的网格回测脚本。
// 用法：
//
//	go run ./cmd/backtest -config configs/config.yaml -data data/eth_usd.csv -out trades.csv
func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	dataPath := flag.String("data", "", "历史行情 CSV，覆盖配置中的 data.csv")
	outPath := flag.String("out", "", "若指定则写入成交明细 CSV")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	lg, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer lg.Close()

	csvPath := cfg.Data.CSV
	if *dataPath != "" {
		csvPath = *dataPath
	}
	if csvPath == "" {
		log.Fatal("未指定行情数据：-data 或 data.csv")
	}

	ticks, err := market.LoadCSV(csvPath)
	if err != nil {
		log.Fatalf("读取 %s 失败: %v", csvPath, err)
	}

	engine, err := backtest.NewEngine(backtest.Config{
		Symbol:      cfg.Symbol,
		InitialCash: cfg.Account.InitialCash,
		Fee:         cfg.Account.Fee,
		Grid: grid.Config{
			Boundaries: cfg.Grid.Boundaries,
			StopOffset: cfg.Grid.StopOffset,
		},
	})
	if err != nil {
		log.Fatalf("初始化回测引擎失败: %v", err)
	}
	engine.SetLogger(lg.Logger)

	res, err := engine.Run(ticks)
	if err != nil {
		log.Fatalf("回测失败: %v", err)
	}
	res.Log(lg.Logger)

	if *outPath != "" {
		if err := writeTradeCSV(*outPath, res.Fills); err != nil {
			log.Printf("写入成交 CSV 失败: %v", err)
		} else {
			log.Printf("已写入成交明细: %s", *outPath)
		}
	}
}

func writeTradeCSV(path string, fills []portfolio.FillRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{"tick", "orderId", "side", "kind", "price", "quantity"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, rec := range fills {
		side := "buy"
		if rec.Fill.Order.Side == order.SideSell {
			side = "sell"
		}
		record := []string{
			fmt.Sprintf("%d", rec.Index),
			rec.Fill.Order.ID,
			side,
			kindName(rec.Fill.Order.Kind),
			fmt.Sprintf("%.8f", rec.Fill.Price),
			fmt.Sprintf("%.8f", rec.Fill.Quantity),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return nil
}

func kindName(k order.Kind) string {
	switch k {
	case order.KindMarket:
		return "market"
	case order.KindLimit:
		return "limit"
	case order.KindStop:
		return "stop"
	}
	return "unknown"
}

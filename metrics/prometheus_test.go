package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAccountMetrics(t *testing.T) {
	// Reset metrics to initial state
	NetWorth.Set(0)
	Cash.Set(0)
	OpenOrders.Set(0)

	UpdateAccount(10500.25, 4200.5, 3)

	if testutil.ToFloat64(NetWorth) != 10500.25 {
		t.Errorf("Expected NetWorth to be 10500.25, got %f", testutil.ToFloat64(NetWorth))
	}
	if testutil.ToFloat64(Cash) != 4200.5 {
		t.Errorf("Expected Cash to be 4200.5, got %f", testutil.ToFloat64(Cash))
	}
	if testutil.ToFloat64(OpenOrders) != 3 {
		t.Errorf("Expected OpenOrders to be 3, got %f", testutil.ToFloat64(OpenOrders))
	}
}

func TestGridMetrics(t *testing.T) {
	CurrentLevel.Set(0)
	LastPrice.Set(0)

	UpdateGrid(2, 3150.75)

	if testutil.ToFloat64(CurrentLevel) != 2 {
		t.Errorf("Expected CurrentLevel to be 2, got %f", testutil.ToFloat64(CurrentLevel))
	}
	if testutil.ToFloat64(LastPrice) != 3150.75 {
		t.Errorf("Expected LastPrice to be 3150.75, got %f", testutil.ToFloat64(LastPrice))
	}
}

func TestRecordFill(t *testing.T) {
	FillsTotal.Reset()
	FilledVolume.Reset()

	RecordFill("buy", 0.5)
	RecordFill("buy", 0.25)
	RecordFill("sell", 0.75)

	if got := testutil.ToFloat64(FillsTotal.WithLabelValues("buy")); got != 2 {
		t.Errorf("Expected FillsTotal[buy] to be 2, got %f", got)
	}
	if got := testutil.ToFloat64(FilledVolume.WithLabelValues("buy")); got != 0.75 {
		t.Errorf("Expected FilledVolume[buy] to be 0.75, got %f", got)
	}
	if got := testutil.ToFloat64(FillsTotal.WithLabelValues("sell")); got != 1 {
		t.Errorf("Expected FillsTotal[sell] to be 1, got %f", got)
	}
}

func TestRecordLevelShift(t *testing.T) {
	LevelShifts.Reset()

	RecordLevelShift("up")
	RecordLevelShift("up")
	RecordLevelShift("down")

	if got := testutil.ToFloat64(LevelShifts.WithLabelValues("up")); got != 2 {
		t.Errorf("Expected LevelShifts[up] to be 2, got %f", got)
	}
	if got := testutil.ToFloat64(LevelShifts.WithLabelValues("down")); got != 1 {
		t.Errorf("Expected LevelShifts[down] to be 1, got %f", got)
	}
}

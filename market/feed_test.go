package market

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ticks.csv")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCSVWithHeader(t *testing.T) {
	path := writeTemp(t, "date,open,close\n2021-06-20 01:00:00,3020.1,3026.98\n2021-06-20 02:00:00,3026.98,3008.71\n")

	ticks, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(ticks) != 2 {
		t.Fatalf("expected 2 ticks, got %d", len(ticks))
	}
	if ticks[0].Price != 3026.98 || ticks[1].Price != 3008.71 {
		t.Fatalf("wrong prices: %+v", ticks)
	}
	if ticks[0].Time.IsZero() {
		t.Fatal("timestamp not parsed")
	}
}

func TestLoadCSVBare(t *testing.T) {
	path := writeTemp(t, "3026.98\n3008.71\n2966.4\n")

	ticks, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(ticks) != 3 {
		t.Fatalf("expected 3 ticks, got %d", len(ticks))
	}
	prices := Prices(ticks)
	if prices[2] != 2966.4 {
		t.Fatalf("wrong prices: %v", prices)
	}
}

func TestLoadCSVRejectsBadRows(t *testing.T) {
	if _, err := LoadCSV(writeTemp(t, "close\n-5\n")); err == nil {
		t.Fatal("expected error for non-positive price")
	}
	if _, err := LoadCSV(writeTemp(t, "close\nabc\n")); err == nil {
		t.Fatal("expected error for non-numeric price")
	}
}

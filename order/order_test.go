package order

import "testing"

func TestConvertStopToLimit(t *testing.T) {
	var handled bool
	o := Order{
		ID:         "ord-000000001",
		Side:       SideBuy,
		Kind:       KindStop,
		Budget:     500,
		StopPrice:  3250,
		LimitPrice: 3200,
		OnFill:     func(Fill) { handled = true },
		Seq:        7,
	}

	c := ConvertStopToLimit(o)
	if c.Kind != KindLimit {
		t.Fatalf("expected LIMIT, got %s", c.Kind)
	}
	if c.ID != o.ID || c.Side != o.Side || c.Budget != o.Budget || c.Seq != o.Seq {
		t.Fatalf("conversion must preserve id/side/size/seq: %+v", c)
	}
	if c.LimitPrice != 3200 {
		t.Fatalf("limit price must survive conversion, got %f", c.LimitPrice)
	}
	if c.StopPrice != 0 {
		t.Fatalf("stop price must be cleared, got %f", c.StopPrice)
	}
	c.OnFill(Fill{})
	if !handled {
		t.Fatal("fill handler must be preserved")
	}
}

func TestOrderSize(t *testing.T) {
	buy := Order{Side: SideBuy, Budget: 1000}
	sell := Order{Side: SideSell, Quantity: 0.25}
	if buy.Size() != 1000 {
		t.Fatalf("buy size = %f", buy.Size())
	}
	if sell.Size() != 0.25 {
		t.Fatalf("sell size = %f", sell.Size())
	}
}

package models

import (
	"encoding/json"
	"testing"
)

func TestNumberUnmarshal(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{`1.5`, 1.5},
		{`"1.5"`, 1.5},
		{`"5000000"`, 5000000},
		{`" 42 "`, 42},
		{`null`, 0},
		{`""`, 0},
		{`"abc"`, 0},
		{`true`, 0},
		{`-3`, -3},
	}
	for _, tt := range tests {
		var n Number
		if err := json.Unmarshal([]byte(tt.raw), &n); err != nil {
			t.Fatalf("Unmarshal(%s) error: %v", tt.raw, err)
		}
		if n.Float64() != tt.want {
			t.Errorf("Unmarshal(%s) = %v, want %v", tt.raw, n.Float64(), tt.want)
		}
	}
}

func TestNumberInStruct(t *testing.T) {
	var p OpenPosition
	err := json.Unmarshal([]byte(`{"id":"1","pair":"pepe_idr","entryPrice":"0.4","amount":1000,"cost":"garbage","stopLoss":null}`), &p)
	if err != nil {
		t.Fatal(err)
	}
	if p.EntryPrice != 0.4 || p.Amount != 1000 || p.Cost != 0 || p.StopLoss != 0 {
		t.Fatalf("decoded %+v", p)
	}
}


func TestText(t *testing.T) {
	var s SignalStats
	if err := json.Unmarshal([]byte(`{"trades":{"total":"3","winRate":66.7}}`), &s); err != nil {
		t.Fatal(err)
	}
	if s.Trades.WinRate != "66.7" || s.Trades.Total != 3 {
		t.Fatalf("decoded %+v", s.Trades)
	}
}

func TestBalance(t *testing.T) {
	var b Balance
	if err := json.Unmarshal([]byte(`{"IDR":"5000000","btc":0.25,"eth":"oops"}`), &b); err != nil {
		t.Fatal(err)
	}
	if got := b.Amount("idr").String(); got != "5000000" {
		t.Errorf("idr got %s", got)
	}
	if got := b.Amount("BTC").String(); got != "0.25" {
		t.Errorf("btc got %s", got)
	}
	if !b.Amount("eth").IsZero() || !b.Amount("doge").IsZero() {
		t.Error("garbage and absent assets should be zero")
	}
	var nilBalance *Balance
	if !nilBalance.Amount("idr").IsZero() {
		t.Error("nil balance should be zero")
	}
}

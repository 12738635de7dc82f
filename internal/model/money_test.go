package model

import (
	"testing"
)

func TestParseCents(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int64
	}{
		{"storefront price", "19.99", 1999},
		{"whole number", "99.00", 9900},
		{"no decimals", "100", 10000},
		{"one decimal", "99.9", 9990},
		{"float rounding", "0.29", 29},
		{"float rounding large", "1234567.89", 123456789},
		{"smallest unit", "0.01", 1},
		{"empty string", "", 0},
		{"invalid string", "abc", 0},
		{"negative refund line", "-10.00", -1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseCents(tt.input); got != tt.want {
				t.Errorf("ParseCents(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestDecodeProductPriceFormats(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int64
	}{
		{"decimal string", `{"id":1,"name":"Mug","price":"12.50"}`, 1250},
		{"padded string", `{"id":1,"name":"Mug","price":" 12.50 "}`, 1250},
		{"number", `{"id":1,"name":"Mug","price":12.5}`, 1250},
		{"missing", `{"id":1,"name":"Mug"}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DecodeProduct([]byte(tt.body), "1")
			if err != nil {
				t.Fatalf("DecodeProduct error: %v", err)
			}
			if p.Price != tt.want {
				t.Errorf("Price = %d, want %d", p.Price, tt.want)
			}
		})
	}
}

package model

import (
	"encoding/json"
	"testing"
)

func TestProductID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  ProductID
	}{
		{"number", `1`, "1"},
		{"large number", `12345678901234567890`, "12345678901234567890"},
		{"string", `"sku-9"`, "sku-9"},
		{"numeric string", `"42"`, "42"},
		{"null", `null`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id ProductID
			if err := json.Unmarshal([]byte(tt.input), &id); err != nil {
				t.Fatalf("Unmarshal(%s) error: %v", tt.input, err)
			}
			if id != tt.want {
				t.Errorf("id = %q, want %q", id, tt.want)
			}
		})
	}
}

func TestProductID_UnmarshalJSON_Invalid(t *testing.T) {
	var id ProductID
	if err := json.Unmarshal([]byte(`{"id":1}`), &id); err == nil {
		t.Error("expected error for object product id")
	}
}

func TestProductID_MarshalJSON(t *testing.T) {
	tests := []struct {
		id   ProductID
		want string
	}{
		{"1", `1`},
		{"0", `0`},
		{"007", `"007"`},
		{"sku-9", `"sku-9"`},
		{"", `""`},
	}

	for _, tt := range tests {
		got, err := json.Marshal(tt.id)
		if err != nil {
			t.Fatalf("Marshal(%q) error: %v", tt.id, err)
		}
		if string(got) != tt.want {
			t.Errorf("Marshal(%q) = %s, want %s", tt.id, got, tt.want)
		}
	}
}

func TestLineItem_JSONShape(t *testing.T) {
	items := []LineItem{
		{ProductID: "1", Quantity: 5, CartItemID: "a"},
		{ProductID: "2", Quantity: 1},
	}

	data, err := json.Marshal(items)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	want := `[{"productId":1,"quantity":5,"cartItemId":"a"},{"productId":2,"quantity":1}]`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}
}

func TestLineItem_UnmarshalCartItemID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"string", `{"productId":1,"quantity":2,"cartItemId":"a"}`, "a"},
		{"number", `{"productId":1,"quantity":2,"cartItemId":77}`, "77"},
		{"null", `{"productId":1,"quantity":2,"cartItemId":null}`, ""},
		{"absent", `{"productId":1,"quantity":2}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var li LineItem
			if err := json.Unmarshal([]byte(tt.input), &li); err != nil {
				t.Fatalf("Unmarshal error: %v", err)
			}
			if li.CartItemID != tt.want {
				t.Errorf("CartItemID = %q, want %q", li.CartItemID, tt.want)
			}
			if li.ProductID != "1" || li.Quantity != 2 {
				t.Errorf("line = %+v", li)
			}
		})
	}
}

func TestLineItem_Valid(t *testing.T) {
	if !(LineItem{ProductID: "1", Quantity: 1}).Valid() {
		t.Error("quantity 1 should be valid")
	}
	if (LineItem{ProductID: "1", Quantity: 0}).Valid() {
		t.Error("quantity 0 should be invalid")
	}
	if (LineItem{Quantity: 3}).Valid() {
		t.Error("missing product id should be invalid")
	}
}

func TestNewBatchUpdate(t *testing.T) {
	req := NewBatchUpdate([]LineItem{
		{ProductID: "1", Quantity: 5, CartItemID: "a"},
		{ProductID: "2", Quantity: 5},
	})

	data, _ := json.Marshal(req)
	want := `{"items":[{"productId":1,"quantity":5},{"productId":2,"quantity":5}]}`
	if string(data) != want {
		t.Errorf("body = %s, want %s", data, want)
	}

	empty, _ := json.Marshal(NewBatchUpdate(nil))
	if string(empty) != `{"items":[]}` {
		t.Errorf("empty body = %s", empty)
	}
}

func TestCloneItems(t *testing.T) {
	orig := []LineItem{{ProductID: "1", Quantity: 1}}
	clone := CloneItems(orig)
	clone[0].Quantity = 9

	if orig[0].Quantity != 1 {
		t.Error("clone shares backing array with original")
	}
	if CloneItems(nil) == nil {
		t.Error("clone of nil should be an empty, non-nil slice")
	}
}

func TestIndexOfAndTotal(t *testing.T) {
	items := []LineItem{{ProductID: "1", Quantity: 2}, {ProductID: "2", Quantity: 3}}

	if IndexOf(items, "2") != 1 {
		t.Errorf("IndexOf(2) = %d, want 1", IndexOf(items, "2"))
	}
	if IndexOf(items, "3") != -1 {
		t.Errorf("IndexOf(3) = %d, want -1", IndexOf(items, "3"))
	}
	if TotalQuantity(items) != 5 {
		t.Errorf("TotalQuantity = %d, want 5", TotalQuantity(items))
	}
}

func TestDecodeProduct(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantID    ProductID
		wantName  string
		wantPrice int64
		wantImage string
	}{
		{
			name:      "flat string price",
			body:      `{"id":7,"name":"Mug","price":"12.50","image":"/img/mug.png"}`,
			wantID:    "7",
			wantName:  "Mug",
			wantPrice: 1250,
			wantImage: "/img/mug.png",
		},
		{
			name:      "data envelope numeric price",
			body:      `{"data":{"productId":"sku-1","title":"Tee","price":19.99,"images":["a.png","b.png"]}}`,
			wantID:    "sku-1",
			wantName:  "Tee",
			wantPrice: 1999,
			wantImage: "a.png",
		},
		{
			name:      "missing id uses fallback",
			body:      `{"name":"Cap"}`,
			wantID:    "99",
			wantName:  "Cap",
			wantPrice: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DecodeProduct([]byte(tt.body), "99")
			if err != nil {
				t.Fatalf("DecodeProduct error: %v", err)
			}
			if p.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", p.ID, tt.wantID)
			}
			if p.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", p.Name, tt.wantName)
			}
			if p.Price != tt.wantPrice {
				t.Errorf("Price = %d, want %d", p.Price, tt.wantPrice)
			}
			if p.Image != tt.wantImage {
				t.Errorf("Image = %q, want %q", p.Image, tt.wantImage)
			}
		})
	}
}

func TestDecodeProduct_Invalid(t *testing.T) {
	if _, err := DecodeProduct([]byte(`not json`), "1"); err == nil {
		t.Error("expected error for invalid body")
	}
}

func TestLineSubtotal(t *testing.T) {
	if got := LineSubtotal(&Product{Price: 1250}, 3); got != 3750 {
		t.Errorf("LineSubtotal = %d, want 3750", got)
	}
	if got := LineSubtotal(nil, 3); got != 0 {
		t.Errorf("LineSubtotal(nil) = %d, want 0", got)
	}
}

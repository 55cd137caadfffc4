package scraper

import (
	"encoding/json"
	"testing"
)

func TestFlexString(t *testing.T) {
	var v struct {
		A FlexString `json:"a"`
		B FlexString `json:"b"`
		C FlexString `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a":"750000","b":820000,"c":null}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.A != "750000" || v.B != "820000" || v.C != "" {
		t.Errorf("decoded: %+v", v)
	}
	if n, ok := FlexString("750000.0").Int64(); !ok || n != 750000 {
		t.Errorf("Int64: got %d, %v", n, ok)
	}
	if _, ok := FlexString("n/a").Int64(); ok {
		t.Error("Int64 of non-number should fail")
	}
}

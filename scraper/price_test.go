package scraper

import (
	"testing"
	"time"

	"resale-pricer/models"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw    string
		want   int64
		wantOK bool
	}{
		{"1,250,000원", 1250000, true},
		{"₩890,000", 890000, true},
		{"450000", 450000, true},
		{"125만원", 1250000, true},
		{"125만 5천원", 1255000, true},
		{"12만 5000원", 125000, true},
		{"1.5만", 15000, true},
		{"3천원", 3000, true},
		{"  85만  ", 850000, true},
		{"1억 2000만", 0, false},
		{"120만원 → 110만원", 1200000, true},
		{"50만~60만", 500000, true},
		{"3만원 (2개)", 30000, true},
		{"5천 3만", 5000, true},
		{"2만 15000원", 20000, true},
		{"500원", 0, false},
		{"99,999,999원", 0, false},
		{"무료나눔", 0, false},
		{"가격협의", 0, false},
		{"", 0, false},
		{"연락주세요", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParsePrice(tt.raw)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParsePrice(%q) = (%d, %v); want (%d, %v)", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNewSampleRequiresTitleAndPrice(t *testing.T) {
	q := models.Query{Title: "아이폰 14", Variant: "128GB"}
	now := time.Now()

	tests := []struct {
		name   string
		l      Listing
		wantOK bool
	}{
		{"complete", Listing{Title: "아이폰 14 128 블루", Price: "75만원", URL: "https://x/1"}, true},
		{"numeric price", Listing{Title: "아이폰 14", PriceWon: 700000}, true},
		{"implausible numeric price", Listing{Title: "아이폰 14", PriceWon: 10}, false},
		{"missing title", Listing{Title: "   ", Price: "75만원"}, false},
		{"missing price", Listing{Title: "아이폰 14", Price: "가격협의"}, false},
	}

	for _, tt := range tests {
		s, ok := NewSample(models.SourceBunjang, q, tt.l, now)
		if ok != tt.wantOK {
			t.Errorf("%s: ok = %v; want %v", tt.name, ok, tt.wantOK)
			continue
		}
		if ok && (s.Source != models.SourceBunjang || s.Variant != "128GB" || s.Price <= 0) {
			t.Errorf("%s: unexpected sample %+v", tt.name, s)
		}
	}
}

func TestNewSampleNormalisesWhitespace(t *testing.T) {
	s, ok := NewSample(models.SourceDaangn, models.Query{}, Listing{
		Title:     "  갤럭시   S23\n울트라 ",
		Price:     "90만원",
		Condition: " 사용감  적음 ",
		URL:       " https://www.daangn.com/articles/1 ",
	}, time.Now())
	if !ok {
		t.Fatal("expected a sample")
	}
	if s.Title != "갤럭시 S23 울트라" {
		t.Errorf("title: got %q", s.Title)
	}
	if s.Condition != "사용감 적음" {
		t.Errorf("condition: got %q", s.Condition)
	}
	if s.URL != "https://www.daangn.com/articles/1" {
		t.Errorf("url: got %q", s.URL)
	}
}

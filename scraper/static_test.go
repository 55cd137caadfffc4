package scraper

import "testing"

var staticSelectors = CardSelectors{
	Card:        []string{`article.card`},
	Title:       []string{`h2`},
	Price:       []string{`.price`},
	LinkPattern: "/buy-sell/",
}

func TestStaticCardsReadsCards(t *testing.T) {
	page := []byte(`<html><body>
<article class="card"><a href="/kr/buy-sell/a1/"><h2> 에어팟 프로 2세대 </h2><span class="price">180,000원</span></a></article>
<article class="card"><a href="https://other.example/kr/buy-sell/a2/"><h2>에어팟 프로2</h2><span class="price">23만원</span></a></article>
<article class="card"><a href="/kr/buy-sell/a1/"><h2>duplicate</h2></a></article>
</body></html>`)

	got, err := StaticCards(page, "https://www.daangn.example", staticSelectors, 10)
	if err != nil {
		t.Fatalf("StaticCards: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("cards: got %d, want 2 (%+v)", len(got), got)
	}
	if got[0].Title != "에어팟 프로 2세대" || got[0].Price != "180,000원" {
		t.Errorf("first card: %+v", got[0])
	}
	if got[0].URL != "https://www.daangn.example/kr/buy-sell/a1/" {
		t.Errorf("relative href should resolve, got %s", got[0].URL)
	}
	if got[1].URL != "https://other.example/kr/buy-sell/a2/" {
		t.Errorf("absolute href should be kept, got %s", got[1].URL)
	}
}

func TestStaticCardsFallsBackToLinks(t *testing.T) {
	page := []byte(`<div>
<a href="/kr/buy-sell/b1/"><div><span>갤럭시 S23</span><span>역삼동</span><span>650,000원</span></div></a>
<a href="/kr/buy-sell/b2/"><div><span>갤럭시 S22</span><span>480,000원</span></div></a>
<a href="/about">회사 소개</a>
</div>`)

	got, err := StaticCards(page, "https://www.daangn.example", staticSelectors, 1)
	if err != nil {
		t.Fatalf("StaticCards: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("limit should cap results, got %d", len(got))
	}
	if got[0].Title != "갤럭시 S23" || got[0].Price != "650,000원" {
		t.Errorf("link card: %+v", got[0])
	}
}

func TestStaticCardsEmptyPage(t *testing.T) {
	got, err := StaticCards([]byte(`<html></html>`), "https://x.example", staticSelectors, 5)
	if err != nil || len(got) != 0 {
		t.Errorf("empty page: got %v, %v", got, err)
	}
}

package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"resale-pricer/browser"
)

// ErrNoBrowser is returned by rendered strategies when no pool was configured.
var ErrNoBrowser = errors.New("no browser pool configured")

// CardSelectors describes where listing fields live on a rendered search page.
// Each field lists CSS selectors tried in order.
type CardSelectors struct {
	Card      []string `json:"card"`
	Title     []string `json:"title"`
	Price     []string `json:"price"`
	Condition []string `json:"condition"`
	// LinkPattern is a substring of listing hrefs, used both inside cards and
	// as a fallback when no card selector matches.
	LinkPattern string `json:"linkPattern"`
}

type renderedCard struct {
	Title     string `json:"title"`
	Price     string `json:"price"`
	Condition string `json:"condition"`
	URL       string `json:"url"`
}

// Renderer loads pages through the shared browser pool.
type Renderer struct {
	pool   *browser.Pool
	opts   browser.SessionOptions
	settle time.Duration
}

// NewRenderer returns a Renderer. A nil pool yields ErrNoBrowser on every call.
func NewRenderer(pool *browser.Pool, opts browser.SessionOptions) *Renderer {
	return &Renderer{pool: pool, opts: opts, settle: 3 * time.Second}
}

// Cards navigates to pageURL, scrolls to trigger lazy loading and extracts up
// to limit listing cards.
func (r *Renderer) Cards(ctx context.Context, pageURL string, sel CardSelectors, limit int) ([]Listing, error) {
	if r == nil || r.pool == nil {
		return nil, ErrNoBrowser
	}
	script, err := cardScript(sel, limit)
	if err != nil {
		return nil, err
	}

	var cards []renderedCard
	err = r.pool.Do(ctx, r.opts, func(tabCtx context.Context) error {
		return chromedp.Run(tabCtx,
			chromedp.Navigate(pageURL),
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.Sleep(r.settle),
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight / 2)`, nil),
			chromedp.Sleep(r.settle/3),
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
			chromedp.Sleep(r.settle/3),
			chromedp.Evaluate(script, &cards),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", pageURL, err)
	}

	out := make([]Listing, 0, len(cards))
	for _, c := range cards {
		out = append(out, Listing{Title: c.Title, Price: c.Price, Condition: c.Condition, URL: c.URL})
	}
	return out, nil
}

// cardScript builds the in-page extractor. Strategy 1 walks card containers;
// strategy 2 falls back to listing links and reads the text around them.
func cardScript(sel CardSelectors, limit int) (string, error) {
	cfg, err := json.Marshal(sel)
	if err != nil {
		return "", fmt.Errorf("encode selectors: %w", err)
	}
	return fmt.Sprintf(`
(function() {
	var sel = %s;
	var limit = %d;
	var results = [];
	var seen = {};

	function first(root, list) {
		for (var i = 0; list && i < list.length; i++) {
			var el = root.querySelector(list[i]);
			if (el) return el;
		}
		return null;
	}
	function text(el) { return el ? (el.innerText || el.textContent || '').trim() : ''; }

	var cards = [];
	for (var si = 0; sel.card && si < sel.card.length; si++) {
		cards = document.querySelectorAll(sel.card[si]);
		if (cards.length > 0) break;
	}

	for (var i = 0; i < cards.length && results.length < limit; i++) {
		var card = cards[i];
		var link = card.tagName === 'A' ? card : card.querySelector('a[href*="' + sel.linkPattern + '"]');
		var url = link ? link.href : '';
		if (url && seen[url]) continue;
		if (url) seen[url] = true;
		results.push({
			title: text(first(card, sel.title)),
			price: text(first(card, sel.price)),
			condition: text(first(card, sel.condition)),
			url: url
		});
	}
	if (results.length > 0) return results;

	var links = document.querySelectorAll('a[href*="' + sel.linkPattern + '"]');
	for (var j = 0; j < links.length && results.length < limit; j++) {
		var href = links[j].href;
		if (!href || seen[href]) continue;
		seen[href] = true;
		var lines = (links[j].innerText || '').split('\n').map(function(l) { return l.trim(); }).filter(Boolean);
		results.push({
			title: lines[0] || '',
			price: lines.find(function(l) { return /[0-9][0-9,]*\s*(원|만)/.test(l); }) || '',
			condition: '',
			url: href
		});
	}
	return results;
})()
`, cfg, limit), nil
}

package scraper

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var priceLine = regexp.MustCompile(`[0-9][0-9,]*\s*(원|만)`)

// StaticCards extracts listing cards from server-rendered HTML using the same
// selectors as Renderer.Cards. Relative hrefs are resolved against base.
func StaticCards(page []byte, base string, sel CardSelectors, limit int) ([]Listing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	seen := make(map[string]bool)
	var out []Listing
	add := func(l Listing) bool {
		if l.URL != "" {
			if seen[l.URL] {
				return true
			}
			seen[l.URL] = true
		}
		out = append(out, l)
		return limit <= 0 || len(out) < limit
	}

	var cards *goquery.Selection
	for _, s := range sel.Card {
		if cards = doc.Find(s); cards.Length() > 0 {
			break
		}
	}
	if cards != nil {
		cards.EachWithBreak(func(_ int, card *goquery.Selection) bool {
			link := card
			if goquery.NodeName(card) != "a" {
				link = card.Find(`a[href*="` + sel.LinkPattern + `"]`).First()
			}
			return add(Listing{
				Title:     firstText(card, sel.Title),
				Price:     firstText(card, sel.Price),
				Condition: firstText(card, sel.Condition),
				URL:       resolve(baseURL, link.AttrOr("href", "")),
			})
		})
	}
	if len(out) > 0 || sel.LinkPattern == "" {
		return out, nil
	}

	// No card matched: read the text lines inside each listing link.
	doc.Find(`a[href*="` + sel.LinkPattern + `"]`).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		var lines []string
		a.Find("*").Each(func(_ int, el *goquery.Selection) {
			if el.Children().Length() == 0 {
				if t := strings.TrimSpace(el.Text()); t != "" {
					lines = append(lines, t)
				}
			}
		})
		if len(lines) == 0 {
			return true
		}
		l := Listing{Title: lines[0], URL: resolve(baseURL, a.AttrOr("href", ""))}
		for _, line := range lines[1:] {
			if priceLine.MatchString(line) {
				l.Price = line
				break
			}
		}
		return add(l)
	})
	return out, nil
}

func firstText(root *goquery.Selection, selectors []string) string {
	for _, s := range selectors {
		if el := root.Find(s).First(); el.Length() > 0 {
			return strings.TrimSpace(el.Text())
		}
	}
	return ""
}

func resolve(base *url.URL, href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

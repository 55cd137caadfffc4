// Package bunjang fetches listings from Bunjang (번개장터). The public search
// API is the primary path; the rendered mobile search page is the fallback.
package bunjang

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"resale-pricer/models"
	"resale-pricer/scraper"
	"resale-pricer/utils"
)

// Options configures the Bunjang source.
type Options struct {
	APIURL   string
	WebURL   string
	Client   *scraper.Client
	Renderer *scraper.Renderer
	Logger   *utils.Logger
}

// Source implements scraper.Source for Bunjang.
type Source struct {
	apiURL   string
	webURL   string
	client   *scraper.Client
	renderer *scraper.Renderer
	logger   *utils.Logger
	now      func() time.Time
}

// New creates the Bunjang source.
func New(opts Options) *Source {
	return &Source{
		apiURL:   strings.TrimRight(opts.APIURL, "/"),
		webURL:   strings.TrimRight(opts.WebURL, "/"),
		client:   opts.Client,
		renderer: opts.Renderer,
		logger:   opts.Logger,
		now:      time.Now,
	}
}

func (s *Source) ID() models.Source { return models.SourceBunjang }

type searchResponse struct {
	Result string       `json:"result"`
	List   []searchItem `json:"list"`
}

type searchItem struct {
	PID        scraper.FlexString `json:"pid"`
	Name       string             `json:"name"`
	Price      scraper.FlexString `json:"price"`
	Status     scraper.FlexString `json:"status"`
	Location   string             `json:"location"`
	UpdateTime scraper.FlexString `json:"update_time"`
	Ad         bool               `json:"ad"`
}

// FetchPrimary queries the search API.
func (s *Source) FetchPrimary(ctx context.Context, q models.Query, lim models.Limits) ([]models.Sample, error) {
	ctx, cancel := scraper.WithTimeout(ctx, lim)
	defer cancel()

	params := url.Values{}
	params.Set("q", q.Text())
	params.Set("order", "score")
	params.Set("page", "0")
	params.Set("n", strconv.Itoa(lim.MaxItems))
	params.Set("req_ref", "search")

	var resp searchResponse
	if err := s.client.GetJSON(ctx, s.apiURL+"/api/1/find_v2.json?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("bunjang api: %w", err)
	}
	if resp.Result != "" && resp.Result != "success" {
		return nil, fmt.Errorf("bunjang api: result %q", resp.Result)
	}

	now := s.now()
	var out []models.Sample
	for _, item := range resp.List {
		if item.Ad {
			continue
		}
		price, _ := item.Price.Int64()
		sample, ok := scraper.NewSample(models.SourceBunjang, q, scraper.Listing{
			Title:    item.Name,
			PriceWon: price,
			Price:    item.Price.String(),
			URL:      s.productURL(item.PID.String()),
			Metadata: map[string]string{
				"pid":      item.PID.String(),
				"status":   item.Status.String(),
				"location": item.Location,
				"strategy": "api",
			},
		}, now)
		if !ok {
			continue
		}
		out = append(out, sample)
		if lim.MaxItems > 0 && len(out) >= lim.MaxItems {
			break
		}
	}
	s.logger.Debug("[bunjang] API returned %d items, kept %d", len(resp.List), len(out))
	return out, nil
}

var cardSelectors = scraper.CardSelectors{
	Card:        []string{`a[data-pid]`, `div[class*="ProductItem"]`, `a[href*="/products/"]`},
	Title:       []string{`div[class*="ProductName"]`, `div[class*="name"]`, `p`},
	Price:       []string{`div[class*="Price"]`, `span[class*="price"]`},
	LinkPattern: "/products/",
}

// FetchFallback scrapes the rendered mobile search page.
func (s *Source) FetchFallback(ctx context.Context, q models.Query, lim models.Limits) ([]models.Sample, error) {
	ctx, cancel := scraper.WithTimeout(ctx, lim)
	defer cancel()

	pageURL := s.webURL + "/search/products?q=" + url.QueryEscape(q.Text())
	listings, err := s.renderer.Cards(ctx, pageURL, cardSelectors, lim.MaxItems)
	if err != nil {
		return nil, fmt.Errorf("bunjang web: %w", err)
	}
	return toSamples(q, listings, s.now()), nil
}

func (s *Source) productURL(pid string) string {
	if pid == "" {
		return ""
	}
	return s.webURL + "/products/" + pid
}

func toSamples(q models.Query, listings []scraper.Listing, now time.Time) []models.Sample {
	out := make([]models.Sample, 0, len(listings))
	for _, l := range listings {
		l.Metadata = map[string]string{"strategy": "web"}
		if sample, ok := scraper.NewSample(models.SourceBunjang, q, l, now); ok {
			out = append(out, sample)
		}
	}
	return out
}

// Package daangn fetches listings from Daangn Market (당근마켓). The rendered
// search page is primary; the page's JSON data route is the fallback, with the
// server-rendered HTML parsed statically when the data route fails.
package daangn

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"resale-pricer/models"
	"resale-pricer/scraper"
	"resale-pricer/utils"
)

const dataRoute = "routes/kr.buy-sell._index"

// Options configures the Daangn source.
type Options struct {
	WebURL   string
	Client   *scraper.Client
	Renderer *scraper.Renderer
	Logger   *utils.Logger
}

// Source implements scraper.Source for Daangn.
type Source struct {
	webURL   string
	client   *scraper.Client
	renderer *scraper.Renderer
	logger   *utils.Logger
	now      func() time.Time
}

func New(opts Options) *Source {
	return &Source{
		webURL:   strings.TrimRight(opts.WebURL, "/"),
		client:   opts.Client,
		renderer: opts.Renderer,
		logger:   opts.Logger,
		now:      time.Now,
	}
}

func (s *Source) ID() models.Source { return models.SourceDaangn }

var cardSelectors = scraper.CardSelectors{
	Card:        []string{`a[data-gtm="search_article"]`, `article a[href*="/buy-sell/"]`, `a[href*="/kr/buy-sell/"]`},
	Title:       []string{`span[class*="title"]`, `h2`, `span.article-title`},
	Price:       []string{`span[class*="price"]`, `p.article-price`},
	LinkPattern: "/buy-sell/",
}

func (s *Source) searchURL(q models.Query) string {
	return s.webURL + "/kr/buy-sell/?search=" + url.QueryEscape(q.Text())
}

// FetchPrimary scrapes the rendered search page.
func (s *Source) FetchPrimary(ctx context.Context, q models.Query, lim models.Limits) ([]models.Sample, error) {
	ctx, cancel := scraper.WithTimeout(ctx, lim)
	defer cancel()

	listings, err := s.renderer.Cards(ctx, s.searchURL(q), cardSelectors, lim.MaxItems)
	if err != nil {
		return nil, fmt.Errorf("daangn web: %w", err)
	}

	now := s.now()
	out := make([]models.Sample, 0, len(listings))
	for _, l := range listings {
		l.Metadata = map[string]string{"strategy": "web"}
		if sample, ok := scraper.NewSample(models.SourceDaangn, q, l, now); ok {
			out = append(out, sample)
		}
	}
	s.logger.Debug("[daangn] Rendered page returned %d cards, kept %d", len(listings), len(out))
	return out, nil
}

type dataResponse struct {
	AllPage struct {
		Articles []article `json:"fleamarketArticles"`
	} `json:"allPage"`
}

type article struct {
	ID        scraper.FlexString `json:"id"`
	Title     string             `json:"title"`
	Price     scraper.FlexString `json:"price"`
	Href      string             `json:"href"`
	Status    string             `json:"status"`
	CreatedAt string             `json:"createdAt"`
	Region    struct {
		Name string `json:"name"`
	} `json:"region"`
}

// FetchFallback reads the JSON data route that backs the search page. If
// that fails it parses the plain HTML search page without a browser.
func (s *Source) FetchFallback(ctx context.Context, q models.Query, lim models.Limits) ([]models.Sample, error) {
	ctx, cancel := scraper.WithTimeout(ctx, lim)
	defer cancel()

	out, dataErr := s.fetchData(ctx, q, lim)
	if dataErr == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return nil, dataErr
	}
	s.logger.Debug("[daangn] %v, trying static page", dataErr)
	out, err := s.fetchStatic(ctx, q, lim)
	if err != nil {
		return nil, errors.Join(dataErr, err)
	}
	return out, nil
}

func (s *Source) fetchData(ctx context.Context, q models.Query, lim models.Limits) ([]models.Sample, error) {
	var resp dataResponse
	if err := s.client.GetJSON(ctx, s.searchURL(q)+"&_data="+url.QueryEscape(dataRoute), &resp); err != nil {
		return nil, fmt.Errorf("daangn data: %w", err)
	}

	now := s.now()
	var out []models.Sample
	for _, a := range resp.AllPage.Articles {
		price, _ := a.Price.Int64()
		sample, ok := scraper.NewSample(models.SourceDaangn, q, scraper.Listing{
			Title:    a.Title,
			PriceWon: price,
			Price:    a.Price.String(),
			URL:      s.absolute(a.Href),
			Metadata: map[string]string{
				"id":       a.ID.String(),
				"status":   a.Status,
				"region":   a.Region.Name,
				"strategy": "data",
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
	s.logger.Debug("[daangn] Data route returned %d articles, kept %d", len(resp.AllPage.Articles), len(out))
	return out, nil
}

func (s *Source) fetchStatic(ctx context.Context, q models.Query, lim models.Limits) ([]models.Sample, error) {
	page, err := s.client.GetHTML(ctx, s.searchURL(q))
	if err != nil {
		return nil, fmt.Errorf("daangn static: %w", err)
	}
	listings, err := scraper.StaticCards(page, s.webURL, cardSelectors, lim.MaxItems)
	if err != nil {
		return nil, fmt.Errorf("daangn static: %w", err)
	}

	now := s.now()
	out := make([]models.Sample, 0, len(listings))
	for _, l := range listings {
		l.Metadata = map[string]string{"strategy": "static"}
		if sample, ok := scraper.NewSample(models.SourceDaangn, q, l, now); ok {
			out = append(out, sample)
		}
	}
	s.logger.Debug("[daangn] Static page returned %d cards, kept %d", len(listings), len(out))
	return out, nil
}

func (s *Source) absolute(href string) string {
	if href == "" || strings.HasPrefix(href, "http") {
		return href
	}
	return s.webURL + "/" + strings.TrimLeft(href, "/")
}

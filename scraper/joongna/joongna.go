// Package joongna fetches listings from Joongna (중고나라). The search page is
// rendered through the browser pool first; the internal search API backs it up.
package joongna

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

// Options configures the Joongna source.
type Options struct {
	APIURL   string
	WebURL   string
	Client   *scraper.Client
	Renderer *scraper.Renderer
	Logger   *utils.Logger
}

// Source implements scraper.Source for Joongna.
type Source struct {
	apiURL   string
	webURL   string
	client   *scraper.Client
	renderer *scraper.Renderer
	logger   *utils.Logger
	now      func() time.Time
}

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

func (s *Source) ID() models.Source { return models.SourceJoongna }

var cardSelectors = scraper.CardSelectors{
	Card:        []string{`ul.search-results li`, `a[href*="/product/"]`},
	Title:       []string{`h2`, `span[class*="title"]`, `div[class*="title"]`},
	Price:       []string{`div[class*="price"]`, `span[class*="price"]`, `div.font-semibold`},
	Condition:   []string{`span[class*="state"]`, `span[class*="badge"]`},
	LinkPattern: "/product/",
}

// FetchPrimary scrapes the rendered search page.
func (s *Source) FetchPrimary(ctx context.Context, q models.Query, lim models.Limits) ([]models.Sample, error) {
	ctx, cancel := scraper.WithTimeout(ctx, lim)
	defer cancel()

	pageURL := s.webURL + "/search/" + url.PathEscape(q.Text())
	listings, err := s.renderer.Cards(ctx, pageURL, cardSelectors, lim.MaxItems)
	if err != nil {
		return nil, fmt.Errorf("joongna web: %w", err)
	}

	now := s.now()
	out := make([]models.Sample, 0, len(listings))
	for _, l := range listings {
		l.Metadata = map[string]string{"strategy": "web"}
		if sample, ok := scraper.NewSample(models.SourceJoongna, q, l, now); ok {
			out = append(out, sample)
		}
	}
	s.logger.Debug("[joongna] Rendered page returned %d cards, kept %d", len(listings), len(out))
	return out, nil
}

type searchRequest struct {
	SearchWord    string `json:"searchWord"`
	Sort          string `json:"sort"`
	Page          int    `json:"page"`
	Quantity      int    `json:"quantity"`
	FirstQuantity int    `json:"firstQuantity"`
	OsType        int    `json:"osType"`
}

type searchResponse struct {
	Meta struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"meta"`
	Data struct {
		Items []searchItem `json:"items"`
	} `json:"data"`
}

type searchItem struct {
	Seq          scraper.FlexString `json:"seq"`
	Title        string             `json:"title"`
	Price        scraper.FlexString `json:"price"`
	State        int                `json:"state"`
	ProductCond  scraper.FlexString `json:"productCondition"`
	LocationName string             `json:"locationNames"`
	SortDate     string             `json:"sortDate"`
}

// conditionLabels maps the API's productCondition codes to seller labels.
var conditionLabels = map[string]string{
	"0": "새상품",
	"1": "거의 새것",
	"2": "중고",
}

// FetchFallback queries the internal search API.
func (s *Source) FetchFallback(ctx context.Context, q models.Query, lim models.Limits) ([]models.Sample, error) {
	ctx, cancel := scraper.WithTimeout(ctx, lim)
	defer cancel()

	req := searchRequest{
		SearchWord:    q.Text(),
		Sort:          "RECOMMEND_SORT",
		Page:          0,
		Quantity:      lim.MaxItems,
		FirstQuantity: lim.MaxItems,
		OsType:        2,
	}
	var resp searchResponse
	if err := s.client.PostJSON(ctx, s.apiURL+"/v25/search/product", req, &resp); err != nil {
		return nil, fmt.Errorf("joongna api: %w", err)
	}
	if resp.Meta.Code != 0 {
		return nil, fmt.Errorf("joongna api: code %d: %s", resp.Meta.Code, resp.Meta.Message)
	}

	now := s.now()
	var out []models.Sample
	for _, item := range resp.Data.Items {
		price, _ := item.Price.Int64()
		sample, ok := scraper.NewSample(models.SourceJoongna, q, scraper.Listing{
			Title:     item.Title,
			PriceWon:  price,
			Price:     item.Price.String(),
			Condition: conditionLabels[item.ProductCond.String()],
			URL:       s.productURL(item.Seq.String()),
			Metadata: map[string]string{
				"seq":      item.Seq.String(),
				"state":    strconv.Itoa(item.State),
				"location": item.LocationName,
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
	s.logger.Debug("[joongna] API returned %d items, kept %d", len(resp.Data.Items), len(out))
	return out, nil
}

func (s *Source) productURL(seq string) string {
	if seq == "" {
		return ""
	}
	return s.webURL + "/product/" + seq
}

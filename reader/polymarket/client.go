// Package polymarket implements the Polymarket connectors: Gamma REST
// discovery and trade polling, plus websocket push streams for trades and
// order-book activity.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	appconfig "predflow/config"
	"predflow/models"
)

const Venue = "polymarket"

// stringFloat tolerates the Gamma API's habit of returning numbers as
// quoted strings.
type stringFloat float64

func (f *stringFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid numeric value %q: %w", s, err)
	}
	*f = stringFloat(v)
	return nil
}

type gammaTag struct {
	Label string `json:"label"`
}

type gammaMarket struct {
	ID          string      `json:"id"`
	ConditionID string      `json:"conditionId"`
	Question    string      `json:"question"`
	Description string      `json:"description"`
	Volume      stringFloat `json:"volume"`
}

type gammaEvent struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Category    string        `json:"category"`
	Volume      stringFloat   `json:"volume"`
	Tags        []gammaTag    `json:"tags"`
	Markets     []gammaMarket `json:"markets"`
}

type apiTrade struct {
	TransactionHash string      `json:"transactionHash"`
	ConditionID     string      `json:"conditionId"`
	Title           string      `json:"title"`
	Side            string      `json:"side"`
	Price           stringFloat `json:"price"`
	Size            stringFloat `json:"size"`
	Timestamp       int64       `json:"timestamp"`
	ProxyWallet     string      `json:"proxyWallet"`
}

// Client wraps the venue's REST surface: event listings and recent trades.
type Client struct {
	cfg  appconfig.VenueConfig
	http *http.Client
}

func NewClient(cfg appconfig.VenueConfig) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchEvents pages through the events listing and flattens each event's
// markets into MarketMeta values. The configured opaque query parameters
// pass through on every page.
func (c *Client) FetchEvents(ctx context.Context) ([]models.MarketMeta, error) {
	var out []models.MarketMeta
	offset := 0
	limit := c.cfg.PollLimit

	for {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(limit))
		q.Set("offset", strconv.Itoa(offset))
		q.Set("closed", "false")
		for k, v := range c.cfg.Params {
			q.Set(k, v)
		}

		var events []gammaEvent
		if err := c.getJSON(ctx, "/events", q, &events); err != nil {
			return nil, fmt.Errorf("fetch events page at offset %d: %w", offset, err)
		}

		for _, ev := range events {
			tags := make([]string, 0, len(ev.Tags))
			for _, t := range ev.Tags {
				if t.Label != "" {
					tags = append(tags, t.Label)
				}
			}
			for _, m := range ev.Markets {
				id := m.ConditionID
				if id == "" {
					id = m.ID
				}
				out = append(out, models.MarketMeta{
					Venue:       Venue,
					MarketID:    id,
					Title:       ev.Title,
					Question:    m.Question,
					Description: firstNonEmpty(m.Description, ev.Description),
					Category:    ev.Category,
					Tags:        tags,
					VolumeUSD:   float64(m.Volume),
				})
			}
		}

		if len(events) < limit {
			return out, nil
		}
		offset += limit
	}
}

// FetchTrades returns the most recent trades, newest first as the API
// serves them.
func (c *Client) FetchTrades(ctx context.Context) ([]models.RawTradeEvent, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.cfg.PollLimit))
	q.Set("takerOnly", "true")
	for k, v := range c.cfg.Params {
		q.Set(k, v)
	}

	var trades []apiTrade
	if err := c.getJSON(ctx, "/trades", q, &trades); err != nil {
		return nil, fmt.Errorf("fetch trades: %w", err)
	}

	out := make([]models.RawTradeEvent, 0, len(trades))
	for _, t := range trades {
		out = append(out, tradeEvent(t))
	}
	return out, nil
}

func tradeEvent(t apiTrade) models.RawTradeEvent {
	ev := models.RawTradeEvent{
		Venue:     Venue,
		MarketID:  t.ConditionID,
		Question:  t.Title,
		TradeID:   t.TransactionHash,
		Price:     float64(t.Price),
		Size:      float64(t.Size),
		Side:      t.Side,
		Wallet:    strings.ToLower(t.ProxyWallet),
		Timestamp: time.Unix(t.Timestamp, 0).UTC(),
	}
	ev.Normalize()
	return ev
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, dst interface{}) error {
	reqURL := strings.TrimSuffix(c.cfg.RestURL, "/") + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func listingUpdate(markets []models.MarketMeta) models.ListingUpdate {
	return models.ListingUpdate{Venue: Venue, Markets: markets}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

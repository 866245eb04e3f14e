// Package kalshi implements the Kalshi connectors: REST discovery and
// trade polling plus a websocket push stream for trades and ticker
// updates.
package kalshi

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
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

const Venue = "kalshi"

type apiMarket struct {
	Ticker       string   `json:"ticker"`
	Title        string   `json:"title"`
	Category     string   `json:"category"`
	Volume       float64  `json:"volume"`
	DollarVolume float64  `json:"dollar_volume"`
	Tags         []string `json:"tags"`
}

type marketsResponse struct {
	Markets []apiMarket `json:"markets"`
	Cursor  string      `json:"cursor"`
}

type apiTrade struct {
	TradeID     string    `json:"trade_id"`
	Ticker      string    `json:"ticker"`
	Count       float64   `json:"count"`
	YesPrice    float64   `json:"yes_price"`
	TakerSide   string    `json:"taker_side"`
	CreatedTime time.Time `json:"created_time"`
}

type tradesResponse struct {
	Trades []apiTrade `json:"trades"`
	Cursor string     `json:"cursor"`
}

// Client wraps the venue's REST surface. When an API key is configured
// requests are signed with the account's ed25519 key; public market data
// works unauthenticated.
type Client struct {
	cfg  appconfig.VenueConfig
	http *http.Client
	key  ed25519.PrivateKey
}

func NewClient(cfg appconfig.VenueConfig) *Client {
	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
	}
	if cfg.APIPrivateKey != "" {
		if seed, err := base64.StdEncoding.DecodeString(cfg.APIPrivateKey); err == nil && len(seed) == ed25519.SeedSize {
			c.key = ed25519.NewKeyFromSeed(seed)
		}
	}
	return c
}

// FetchMarkets pages through the open-market listing following the cursor
// until it is exhausted.
func (c *Client) FetchMarkets(ctx context.Context) ([]models.MarketMeta, error) {
	var out []models.MarketMeta
	cursor := ""

	for {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(c.cfg.PollLimit))
		q.Set("status", "open")
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		for k, v := range c.cfg.Params {
			q.Set(k, v)
		}

		var resp marketsResponse
		if err := c.getJSON(ctx, "/markets", q, &resp); err != nil {
			return nil, fmt.Errorf("fetch markets page: %w", err)
		}

		for _, m := range resp.Markets {
			out = append(out, marketMeta(m))
		}

		if resp.Cursor == "" || len(resp.Markets) == 0 {
			return out, nil
		}
		cursor = resp.Cursor
	}
}

// FetchTrades returns trades created at or after minTS (unix seconds,
// ignored when zero).
func (c *Client) FetchTrades(ctx context.Context, minTS int64) ([]models.RawTradeEvent, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.cfg.PollLimit))
	if minTS > 0 {
		q.Set("min_ts", strconv.FormatInt(minTS, 10))
	}
	for k, v := range c.cfg.Params {
		q.Set(k, v)
	}

	var resp tradesResponse
	if err := c.getJSON(ctx, "/markets/trades", q, &resp); err != nil {
		return nil, fmt.Errorf("fetch trades: %w", err)
	}

	out := make([]models.RawTradeEvent, 0, len(resp.Trades))
	for _, t := range resp.Trades {
		out = append(out, tradeEvent(t))
	}
	return out, nil
}

func marketMeta(m apiMarket) models.MarketMeta {
	volume := m.DollarVolume
	if volume == 0 {
		volume = m.Volume
	}
	return models.MarketMeta{
		Venue:     Venue,
		MarketID:  m.Ticker,
		Title:     m.Title,
		Question:  m.Title,
		Category:  m.Category,
		Tags:      m.Tags,
		VolumeUSD: volume,
	}
}

func listingUpdate(markets []models.MarketMeta) models.ListingUpdate {
	return models.ListingUpdate{Venue: Venue, Markets: markets}
}

func tradeEvent(t apiTrade) models.RawTradeEvent {
	ev := models.RawTradeEvent{
		Venue:     Venue,
		MarketID:  t.Ticker,
		TradeID:   t.TradeID,
		Price:     t.YesPrice / 100, // yes_price is quoted in cents
		Size:      t.Count,
		Side:      t.TakerSide,
		Timestamp: t.CreatedTime.UTC(),
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
	c.sign(req, path)

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

// sign attaches the venue's access headers: key id, millisecond timestamp,
// and an ed25519 signature over timestamp+method+path.
func (c *Client) sign(req *http.Request, path string) {
	if c.key == nil || c.cfg.APIKeyID == "" {
		return
	}
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	msg := ts + req.Method + path
	sig := ed25519.Sign(c.key, []byte(msg))

	req.Header.Set("KALSHI-ACCESS-KEY", c.cfg.APIKeyID)
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(sig))
}

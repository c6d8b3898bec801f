package services

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/codyseavey/zec-tracker/internal/models"
)

// MarketsService lists prediction markets for the game view
type MarketsService struct {
	baseURL string
	client  *http.Client
}

func NewMarketsService(baseURL string) *MarketsService {
	return &MarketsService{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type pondEventsResponse struct {
	Events []pondEvent `json:"events"`
}

type pondEvent struct {
	Title   string       `json:"title"`
	Ticker  string       `json:"ticker"`
	Markets []pondMarket `json:"markets"`
}

type pondMarket struct {
	Ticker    string `json:"ticker"`
	Status    string `json:"status"`
	CloseTime int64  `json:"closeTime"`
}

// FetchListings returns markets whose event title or ticker contains keyword
// (case-insensitive), soonest closing first. Nil on failure.
func (s *MarketsService) FetchListings(ctx context.Context, keyword string) []models.MarketListing {
	var resp pondEventsResponse
	if err := getJSON(ctx, s.client, "markets", s.baseURL, &resp); err != nil {
		fetchFailed("markets", err)
		return nil
	}
	return filterListings(resp.Events, keyword)
}

func filterListings(events []pondEvent, keyword string) []models.MarketListing {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	listings := []models.MarketListing{}
	for _, ev := range events {
		if kw != "" &&
			!strings.Contains(strings.ToLower(ev.Title), kw) &&
			!strings.Contains(strings.ToLower(ev.Ticker), kw) {
			continue
		}
		for _, m := range ev.Markets {
			listings = append(listings, models.MarketListing{
				EventTitle:   ev.Title,
				EventTicker:  ev.Ticker,
				MarketTicker: m.Ticker,
				Status:       m.Status,
				CloseTime:    closeTime(m.CloseTime),
			})
		}
	}
	sort.SliceStable(listings, func(i, j int) bool {
		return listings[i].CloseTime.Before(listings[j].CloseTime)
	})
	return listings
}

// closeTime accepts both second and millisecond epochs
func closeTime(v int64) time.Time {
	if v > 1e12 {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}

package market

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"liquidity-mm/internal/config"
	"liquidity-mm/internal/exchange"
)

// Lister pages through the venue's active markets.
type Lister interface {
	ListMarkets(ctx context.Context, limit, offset int) ([]exchange.MarketInfo, error)
}

// Scanner discovers scoreable markets. The engine uses its scores to rebuild
// tiers from scratch; filtering drops markets that are closed, excluded by
// ID or keyword, or resolving too far in the future.
type Scanner struct {
	lister Lister
	cfg    config.ScannerConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewScanner creates a market scanner.
func NewScanner(lister Lister, cfg config.ScannerConfig, logger *slog.Logger) *Scanner {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &Scanner{
		lister: lister,
		cfg:    cfg,
		logger: logger.With("component", "scanner"),
		now:    time.Now,
	}
}

// Scores fetches every active market and returns market ID → score for the
// ones that pass the filters.
func (s *Scanner) Scores(ctx context.Context) (map[string]float64, error) {
	markets, err := s.fetchMarkets(ctx)
	if err != nil {
		return nil, err
	}

	filtered := s.filterMarkets(markets)
	scores := make(map[string]float64, len(filtered))
	for _, m := range filtered {
		scores[m.ID] = m.Score
	}

	s.logger.Info("scan complete", "total", len(markets), "selected", len(scores))
	return scores, nil
}

func (s *Scanner) fetchMarkets(ctx context.Context) ([]exchange.MarketInfo, error) {
	var all []exchange.MarketInfo
	offset := 0
	limit := s.cfg.PageSize

	for {
		page, err := s.lister.ListMarkets(ctx, limit, offset)
		if err != nil {
			return nil, fmt.Errorf("fetch markets page %d: %w", offset, err)
		}
		all = append(all, page...)

		if len(page) < limit {
			break
		}
		offset += limit
	}
	return all, nil
}

// filterMarkets drops inactive or closed markets, excluded IDs and keywords,
// and markets ending beyond MaxEndDateDays (when set).
func (s *Scanner) filterMarkets(markets []exchange.MarketInfo) []exchange.MarketInfo {
	excluded := make(map[string]bool)
	for _, id := range s.cfg.ExcludeMarkets {
		id = strings.ToLower(strings.TrimSpace(id))
		if id != "" {
			excluded[id] = true
		}
	}

	keywords := make([]string, 0, len(s.cfg.ExcludeKeywords))
	for _, kw := range s.cfg.ExcludeKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}

	var maxEnd time.Time
	if s.cfg.MaxEndDateDays > 0 {
		maxEnd = s.now().AddDate(0, 0, s.cfg.MaxEndDateDays)
	}

	var result []exchange.MarketInfo
	for _, m := range markets {
		if !m.Active || m.Closed || m.ID == "" {
			continue
		}
		if excluded[strings.ToLower(m.ID)] {
			continue
		}
		question := strings.ToLower(m.Question)
		skip := false
		for _, kw := range keywords {
			if strings.Contains(question, kw) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		if !maxEnd.IsZero() && !m.EndDate.IsZero() && m.EndDate.After(maxEnd) {
			continue
		}
		result = append(result, m)
	}
	return result
}

package parser

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"ArxivMind/internal/config"
	"ArxivMind/internal/domain"
	"ArxivMind/internal/ports"
	"ArxivMind/internal/scanner"
)

// StrategySource implements CatalogSource via registered scanner strategies.
type StrategySource struct {
	registry *scanner.Registry
	sites    []config.SiteConfig
	logger   *slog.Logger
}

var _ ports.CatalogSource = (*StrategySource)(nil)

// NewStrategySource wires scanner registry with config-defined sites.
func NewStrategySource(reg *scanner.Registry, sites []config.SiteConfig, log *slog.Logger) *StrategySource {
	return &StrategySource{
		registry: reg,
		sites:    sites,
		logger:   log,
	}
}

// Candidates chains the configured sites, dropping repeats across sites and
// stopping once maxResults candidates were produced.
func (s *StrategySource) Candidates(ctx context.Context, topic string, maxResults int) iter.Seq2[domain.Candidate, error] {
	return func(yield func(domain.Candidate, error) bool) {
		if s.registry == nil {
			yield(domain.Candidate{}, fmt.Errorf("scanner registry is not configured"))
			return
		}

		seen := map[string]struct{}{}
		produced := 0

		for _, site := range s.sites {
			s.debug("process site", "site", site.Name, "scanner", site.Scanner, "categories", len(site.Categories))
			strategy, err := s.registry.Resolve(site.Scanner)
			if err != nil {
				yield(domain.Candidate{}, fmt.Errorf("site %s: %w", site.Name, err))
				return
			}

			req := scanner.Request{
				Topic:      topic,
				MaxResults: maxResults - produced,
				SiteName:   site.Name,
				Options:    site.Options,
				Categories: toScannerCategories(site.Categories),
			}
			if maxResults <= 0 {
				req.MaxResults = 0
			}

			count := 0
			for candidate, err := range strategy.Scan(ctx, req) {
				if err != nil {
					yield(domain.Candidate{}, fmt.Errorf("scan site %s: %w", site.Name, err))
					return
				}
				key := candidate.SourceURL
				if canonical, err := domain.CanonicalSourceURL(key); err == nil {
					key = canonical
				}
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				count++
				produced++
				if !yield(candidate, nil) {
					return
				}
				if maxResults > 0 && produced >= maxResults {
					s.debug("candidate limit reached", "site", site.Name, "count", count)
					return
				}
			}
			s.debug("site produced candidates", "site", site.Name, "count", count)
		}
	}
}

func toScannerCategories(cfg []config.CategoryConfig) []scanner.Category {
	categories := make([]scanner.Category, 0, len(cfg))
	for _, cat := range cfg {
		categories = append(categories, scanner.Category{
			Name: cat.Name,
			URL:  cat.URL,
		})
	}
	return categories
}

func (s *StrategySource) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

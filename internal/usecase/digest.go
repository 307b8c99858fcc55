package usecase

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"ArxivMind/internal/domain"
)

const digestSummaryRunes = 280

// BuildDigest renders completed papers as a plain-text message grouped by
// category in enumeration order.
func BuildDigest(papers []domain.Paper, day time.Time) string {
	if len(papers) == 0 {
		return ""
	}

	groups := make(map[domain.Category][]domain.Paper)
	for _, p := range papers {
		c := p.Category
		if _, ok := domain.ParseCategory(string(c)); !ok {
			c = domain.CategoryOther
		}
		groups[c] = append(groups[c], p)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "ArxivMind digest %s: %d new papers\n", day.Format("2006-01-02"), len(papers))

	for _, category := range domain.Categories {
		group := groups[category]
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n## %s (%d)\n", category, len(group))
		for _, p := range group {
			fmt.Fprintf(&sb, "\n- %s\n", strings.TrimSpace(p.Title))
			if summary := shorten(p.PopularScience, digestSummaryRunes); summary != "" {
				fmt.Fprintf(&sb, "  %s\n", summary)
			}
			if p.Keywords != "" {
				fmt.Fprintf(&sb, "  Keywords: %s\n", p.Keywords)
			}
			fmt.Fprintf(&sb, "  %s\n", p.SourceURL)
		}
	}

	return sb.String()
}

func shorten(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:limit])) + "..."
}

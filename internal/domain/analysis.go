package domain

import (
	"encoding/json"
	"strings"
)

// Category is the research area assigned by the analysis service.
type Category string

const (
	CategoryLanguageModels   Category = "Language/Reasoning Models"
	CategoryVisionMultimodal Category = "Vision/Multimodal"
	CategoryAgents           Category = "AI Agents"
	CategoryRecommendation   Category = "Recommendation/Search"
	CategoryAutonomous       Category = "Autonomous Driving"
	CategoryClassicalML      Category = "Classical Machine Learning"
	CategoryOther            Category = "Other"
)

// Categories is the closed set the analysis service must choose from.
var Categories = []Category{
	CategoryLanguageModels,
	CategoryVisionMultimodal,
	CategoryAgents,
	CategoryRecommendation,
	CategoryAutonomous,
	CategoryClassicalML,
	CategoryOther,
}

func (c Category) String() string { return string(c) }

// ParseCategory matches value against the enumeration, ignoring case and
// surrounding whitespace.
func ParseCategory(value string) (Category, bool) {
	value = strings.TrimSpace(value)
	for _, c := range Categories {
		if strings.EqualFold(string(c), value) {
			return c, true
		}
	}
	return "", false
}

// AnalysisResult is the validated structured output for one paper. It is never
// stored on its own; Paper.Complete folds it into the paper.
type AnalysisResult struct {
	Category              Category `json:"category" validate:"required,category"`
	Motivation            string   `json:"motivation" validate:"required"`
	Method                string   `json:"method" validate:"required"`
	Result                string   `json:"result" validate:"required"`
	ImplementationExample string   `json:"implementation_example" validate:"required"`
	PopularScience        string   `json:"popular_science" validate:"required"`
	Keywords              string   `json:"keywords" validate:"required"`

	// Raw is the payload exactly as returned by the service.
	Raw json.RawMessage `json:"-"`
}

// KeywordList splits the comma separated keywords, dropping blanks.
func (r AnalysisResult) KeywordList() []string {
	parts := strings.Split(r.Keywords, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Package moderation implements keyword-based prompt safety scoring.
// A scorer is built once from an immutable ruleset and is safe for
// concurrent use; scoring is a pure function of the prompt and threshold.
package moderation

import (
	"regexp"
	"strings"

	"github.com/fulmine-labs/spark-gateway/internal/domain"
)

// Category maps a safety category to its trigger phrases and the weight
// it contributes to the aggregate score when any phrase matches.
type Category struct {
	Name    string
	Weight  float64
	Phrases []string
}

// Ruleset is an ordered list of categories. Order only matters for
// breaking weight ties when picking the reported reason.
type Ruleset []Category

const safeReason = "Content is safe"

type compiledCategory struct {
	name    string
	weight  float64
	pattern *regexp.Regexp
}

// Scorer scans prompts against a compiled ruleset. Matching is
// case-insensitive on word boundaries, so "assassin" does not trigger
// inside "assassinate".
type Scorer struct {
	categories []compiledCategory
}

// NewScorer compiles the ruleset. Phrase sets and weights are deployment
// policy, supplied by configuration; weights outside [0,1] are clamped.
func NewScorer(rules Ruleset) *Scorer {
	s := &Scorer{categories: make([]compiledCategory, 0, len(rules))}
	for _, c := range rules {
		if len(c.Phrases) == 0 {
			continue
		}
		quoted := make([]string, len(c.Phrases))
		for i, p := range c.Phrases {
			quoted[i] = regexp.QuoteMeta(strings.ToLower(p))
		}
		weight := c.Weight
		if weight < 0 {
			weight = 0
		}
		if weight > 1 {
			weight = 1
		}
		s.categories = append(s.categories, compiledCategory{
			name:    c.Name,
			weight:  weight,
			pattern: regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`),
		})
	}
	return s
}

// Score computes the safety score of a prompt against a threshold. Each
// category contributes its weight once if any of its phrases match; the
// aggregate is clamped to [0,1]. The reported reason is the
// highest-weight triggered category, or a fixed safe message. Score
// never fails and holds no mutable state.
func (s *Scorer) Score(prompt string, threshold float64) domain.ModerationResult {
	if strings.TrimSpace(prompt) == "" {
		return domain.ModerationResult{IsSafe: true, Score: 0, Reason: safeReason}
	}

	var (
		score     float64
		topName   string
		topWeight = -1.0
	)
	for _, c := range s.categories {
		if !c.pattern.MatchString(prompt) {
			continue
		}
		score += c.weight
		if c.weight > topWeight {
			topWeight = c.weight
			topName = c.name
		}
	}
	if score > 1 {
		score = 1
	}

	result := domain.ModerationResult{
		Score:  score,
		IsSafe: score < threshold,
		Reason: safeReason,
	}
	if topName != "" {
		result.Reason = topName
	}
	return result
}

// DefaultRuleset is the example-grade policy shipped with the gateway.
// Deployments are expected to supply their own phrase lists; these
// categories and weights are a starting point, not a contract.
func DefaultRuleset() Ruleset {
	return Ruleset{
		{
			Name:   "explicit content",
			Weight: 0.8,
			Phrases: []string{
				"explicit", "pornographic", "xxx", "nsfw",
				"nude", "naked", "sex", "sexual", "erotic",
			},
		},
		{
			Name:   "violence",
			Weight: 0.6,
			Phrases: []string{
				"violence", "violent", "gore", "blood", "kill", "murder",
				"weapon", "gun", "bomb", "terrorist", "terrorism",
			},
		},
		{
			Name:   "hate speech",
			Weight: 0.8,
			Phrases: []string{
				"hate", "racist", "racism", "sexist", "sexism",
				"discriminate", "discrimination", "slur",
			},
		},
		{
			Name:   "illegal activity",
			Weight: 0.5,
			Phrases: []string{
				"illegal", "crime", "criminal", "cocaine",
				"heroin", "meth", "robbery", "fraud",
			},
		},
		{
			Name:   "self-harm",
			Weight: 0.9,
			Phrases: []string{
				"suicide", "self-harm", "overdose",
			},
		},
	}
}

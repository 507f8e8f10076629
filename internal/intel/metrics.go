package intel

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Metrics are the scores the analyst reports. A nil field means the analysis
// did not state that score.
type Metrics struct {
	CompetitiveThreatLevel *int       `json:"competitive_threat_level,omitempty"`
	MarketPositionScore    *int       `json:"market_position_score,omitempty"`
	InnovationScore        *int       `json:"innovation_score,omitempty"`
	FinancialStrength      *int       `json:"financial_strength,omitempty"`
	BrandRecognition       *int       `json:"brand_recognition,omitempty"`
	SWOTScores             SWOTScores `json:"swot_scores"`
}

// SWOTScores are rated 1-10
type SWOTScores struct {
	Strengths     *int `json:"strengths,omitempty"`
	Weaknesses    *int `json:"weaknesses,omitempty"`
	Opportunities *int `json:"opportunities,omitempty"`
	Threats       *int `json:"threats,omitempty"`
}

// Empty reports whether no score was found
func (m *Metrics) Empty() bool {
	return m == nil || (m.CompetitiveThreatLevel == nil && m.MarketPositionScore == nil &&
		m.InnovationScore == nil && m.FinancialStrength == nil && m.BrandRecognition == nil &&
		m.SWOTScores == SWOTScores{})
}

// scoreLine matches "label: 7", "- **Label:** [7]", "Label - 7/10" at the start of a line
func scoreLine(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)^[^\w\n]*` + label + `[^\w\n]*?(\d+(?:\.\d+)?)`)
}

var (
	threatRe        = scoreLine(`competitive\s+threat\s+level`)
	marketRe        = scoreLine(`market\s+position(?:\s+score)?`)
	innovationRe    = scoreLine(`innovation(?:\s+score)?`)
	financialRe     = scoreLine(`financial\s+strength`)
	brandRe         = scoreLine(`brand\s+recognition`)
	strengthsRe     = scoreLine(`strengths`)
	weaknessesRe    = scoreLine(`weaknesses`)
	opportunitiesRe = scoreLine(`opportunities`)
	threatsRe       = scoreLine(`threats`)
)

// ExtractMetrics parses the METRICS and SWOT SCORES sections of an analysis.
// Values outside a score's range are clamped into it.
func ExtractMetrics(analysis string) *Metrics {
	m := &Metrics{
		CompetitiveThreatLevel: score(threatRe, analysis, 5),
		MarketPositionScore:    score(marketRe, analysis, 10),
		InnovationScore:        score(innovationRe, analysis, 10),
		FinancialStrength:      score(financialRe, analysis, 10),
		BrandRecognition:       score(brandRe, analysis, 10),
	}

	swot := section(analysis, swotHeading)
	m.SWOTScores = SWOTScores{
		Strengths:     score(strengthsRe, swot, 10),
		Weaknesses:    score(weaknessesRe, swot, 10),
		Opportunities: score(opportunitiesRe, swot, 10),
		Threats:       score(threatsRe, swot, 10),
	}
	return m
}

var swotHeading = regexp.MustCompile(`(?im)^#+\s*swot\s+scores\s*$`)

// section returns the text under heading up to the next heading, or
// all of text when the heading is absent.
func section(text string, heading *regexp.Regexp) string {
	loc := heading.FindStringIndex(text)
	if loc == nil {
		return text
	}
	rest := text[loc[1]:]
	if end := strings.Index(rest, "\n#"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

func score(re *regexp.Regexp, text string, upper int) *int {
	match := re.FindStringSubmatch(text)
	if match == nil {
		return nil
	}
	f, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return nil
	}
	v := int(math.Round(f))
	v = min(max(v, 1), upper)
	return &v
}

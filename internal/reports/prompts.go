package reports

import (
	"fmt"
	"strings"
)

// Detail is the kind of report a tier produces.
type Detail string

const (
	DetailSummary Detail = "summary"
	DetailFull    Detail = "full"
	DetailMetrics Detail = "metrics"
	DetailPulse   Detail = "pulse"
)

func ParseDetail(s string) (Detail, error) {
	switch d := Detail(strings.ToLower(strings.TrimSpace(s))); d {
	case DetailSummary, DetailFull, DetailMetrics, DetailPulse:
		return d, nil
	default:
		return "", fmt.Errorf("reports: unknown detail level %q", s)
	}
}

const systemPrompt = "You are an election analyst covering Nepal's federal parliament race. " +
	"Ground every claim in recent reporting and say so when information is uncertain. Answer in markdown."

// RegionPrompt builds the user prompt for a constituency report.
func RegionPrompt(detail Detail, reg Region, date string) string {
	subject := reg.Name
	if reg.Matchup != "" {
		subject = fmt.Sprintf("%s (%s)", reg.Name, reg.Matchup)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analyze %s for the election on %s. Detail level: %s.\n", subject, date, detail)

	switch detail {
	case DetailSummary:
		b.WriteString("Give a short overview of the race in under 120 words: who leads, and why.")
	case DetailFull:
		b.WriteString("Write a full briefing with sections for the candidates, local issues, " +
			"past results, campaign momentum and a reasoned outlook.")
	case DetailMetrics:
		b.WriteString("Reply with a compact list of live indicators: voter interest, turnout signals, " +
			"social media momentum and the latest notable event, one line each.")
	}
	return b.String()
}

// PulsePrompt builds the national sentiment prompt over keywords.
func PulsePrompt(keywords []string, date string) string {
	return fmt.Sprintf(`Analyze current social media sentiment (TikTok, Twitter, Facebook) in Nepal ahead of the %s election.
Focus on these keywords: %s.

REQUIRED FORMAT:
1. TRENDING TOPIC: the strongest storyline right now
2. SENTIMENT SCORE: positive / negative / neutral percentages
3. TOP GEN Z NARRATIVE: what young voters say about traditional parties versus alternatives
4. ANOMALY DETECTOR: any sudden shift in mood since nominations closed`,
		date, strings.Join(keywords, ", "))
}

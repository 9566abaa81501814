package compaction

import (
	"regexp"
	"strings"
)

// ObservationCategory buckets one extracted observation for the compact
// summary produced by stage 1.
type ObservationCategory string

const (
	ObsDecision ObservationCategory = "decision"
	ObsAction   ObservationCategory = "action"
	ObsFact     ObservationCategory = "fact"
	ObsError    ObservationCategory = "error"
)

// Observation is one structured fact pulled out of a turn during stage 1.
type Observation struct {
	Category ObservationCategory
	Text     string
	Role     string
}

var (
	obsDecisionRe = regexp.MustCompile(`(?i)\b(decided|will use|going with|chose|opted for)\b`)
	obsActionRe   = regexp.MustCompile(`(?i)\b(ran|executed|created|deleted|modified|wrote|installed)\b`)
	obsErrorRe    = regexp.MustCompile(`(?i)\b(error|failed|exception|traceback|panic)\b`)
)

// ExtractObservations converts messages into structured decision/action/
// fact/error observations, the highest-savings stage of the pipeline
// (collapsing full transcript text into one-line facts).
func ExtractObservations(messages []*Message) []Observation {
	var out []Observation
	for _, m := range messages {
		if m == nil || strings.TrimSpace(m.Content) == "" {
			continue
		}
		category := ObsFact
		switch {
		case obsErrorRe.MatchString(m.Content):
			category = ObsError
		case obsDecisionRe.MatchString(m.Content):
			category = ObsDecision
		case obsActionRe.MatchString(m.Content):
			category = ObsAction
		}
		out = append(out, Observation{Category: category, Text: firstLine(m.Content), Role: m.Role})
	}
	return out
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return truncateString(s, 240)
}

// FormatObservationsAsSummary renders observations as the compact markdown
// summary used in place of the original transcript, grouped by category in
// a fixed order so repeated compactions emit stable output.
func FormatObservationsAsSummary(observations []Observation) string {
	if len(observations) == 0 {
		return DefaultSummaryFallback
	}
	var b strings.Builder
	order := []ObservationCategory{ObsDecision, ObsAction, ObsError, ObsFact}
	titles := map[ObservationCategory]string{
		ObsDecision: "Decisions",
		ObsAction:   "Actions",
		ObsError:    "Errors",
		ObsFact:     "Facts",
	}
	for _, cat := range order {
		var lines []string
		for _, o := range observations {
			if o.Category == cat {
				lines = append(lines, "- "+o.Text)
			}
		}
		if len(lines) == 0 {
			continue
		}
		b.WriteString("## " + titles[cat] + "\n")
		for _, l := range lines {
			b.WriteString(l + "\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

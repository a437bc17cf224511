package diagnosis

import (
	"regexp"
	"strings"
)

// PreambleRule removes one kind of conversational lead-in from the start of
// generated text.
type PreambleRule struct {
	Name    string
	Pattern *regexp.Regexp
}

// DefaultPreambleRules run in this order. Stripping is heuristic and lossy.
var DefaultPreambleRules = []PreambleRule{
	{"acknowledgement", regexp.MustCompile(`(?i)^(Okay|Here'?s?( is)?|Let me|I will|I'll|I can|I would|I am going to|Allow me to|Sure|Of course|Certainly|Alright)\b.*?,\s*`)},
	{"announced-output", regexp.MustCompile(`(?i)^(Here'?s?( is)?|I'?ll?|Let me|I will|I can|I would|I am going to|Allow me to|Sure|Of course|Certainly)\b.*?(summary|translate|breakdown|analysis).*?:\s*`)},
	{"attribution", regexp.MustCompile(`(?i)^(Based on|According to)\b.*?,\s*`)},
	{"understanding", regexp.MustCompile(`(?i)^I understand\b.*?[.!]\s*`)},
	{"sequencing", regexp.MustCompile(`(?i)^(Now|First|Let's)\b,?\s*`)},
	{"listing", regexp.MustCompile(`(?i)^(Here are|The following is|This is|Below is)\b.*?:\s*`)},
	{"structuring", regexp.MustCompile(`(?i)^(I'll provide|Let me break|I'll break|I'll help|I've structured)\b.*?:\s*`)},
	{"compliance", regexp.MustCompile(`(?i)^(As requested|Following your|In response to)\b.*?:\s*`)},
}

// StripPreamble applies every rule once per pass, in order, and repeats the
// pass until the text stops changing. Every effective pass shortens the
// text, so the loop ends, and StripPreamble(StripPreamble(s)) == StripPreamble(s).
func StripPreamble(text string) string {
	return stripWith(DefaultPreambleRules, text)
}

func stripWith(rules []PreambleRule, text string) string {
	text = strings.TrimSpace(text)
	for {
		next := text
		for _, r := range rules {
			next = r.Pattern.ReplaceAllLiteralString(next, "")
		}
		next = strings.TrimSpace(next)
		if next == text {
			return text
		}
		text = next
	}
}

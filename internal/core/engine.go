package core

import (
	"encoding/hex"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
	"lukechampine.com/blake3"
)

// contextWidth is the size of the text window captured around each
// match, clipped at segment boundaries.
const contextWidth = 40

// Evaluate runs every rule in the set, in order, against the parsed
// email. Matching is case-insensitive literal substring search; each
// non-overlapping occurrence yields one Finding. The verdict is binary:
// any finding flags the message.
//
// Evaluate is pure and safe to call concurrently across messages.
func Evaluate(email *ParsedEmail, rules *RuleSet) *AnalysisResult {
	result := &AnalysisResult{
		Identity:    MessageIdentity(email),
		Email:       email,
		EvaluatedAt: time.Now(),
	}

	for _, rule := range rules.Rules() {
		text := email.SegmentText(rule.Segment)
		result.Findings = append(result.Findings, findOccurrences(text, rule)...)
	}
	result.IsFlagged = len(result.Findings) > 0

	return result
}

// findOccurrences locates every non-overlapping occurrence of the
// rule's phrase within the segment text.
func findOccurrences(text string, rule Rule) []Finding {
	var findings []Finding

	haystack := strings.ToLower(text)
	needle := strings.ToLower(rule.Phrase)
	if needle == "" {
		return nil
	}

	for offset := 0; ; {
		i := strings.Index(haystack[offset:], needle)
		if i < 0 {
			break
		}
		pos := offset + i
		findings = append(findings, Finding{
			Segment:  rule.Segment,
			Phrase:   rule.Phrase,
			Context:  contextWindow(text, pos, len(needle)),
			Position: pos,
		})
		offset = pos + len(needle)
	}

	return findings
}

// contextWindow returns a fixed-width window of the original text
// centered on the match at pos.
func contextWindow(text string, pos, matchLen int) string {
	start := pos + matchLen/2 - contextWidth/2
	if start < 0 {
		start = 0
	}
	end := start + contextWidth
	if end > len(text) {
		end = len(text)
	}
	if end-contextWidth > 0 && end-contextWidth < start {
		start = end - contextWidth
	}
	return text[start:end]
}

// MessageIdentity computes the deterministic dedup key for a message: a
// blake3 hash over the normalized (subject, from, to, body) tuple.
// Normalization lower-cases, NFC-normalizes, and collapses whitespace,
// so case and formatting variants of the same message collide.
func MessageIdentity(email *ParsedEmail) string {
	h := blake3.New(32, nil)
	for _, field := range []string{email.Subject, email.From, email.To, email.Body} {
		h.Write([]byte(normalizeForIdentity(field)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeForIdentity(s string) string {
	s = norm.NFC.String(s)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

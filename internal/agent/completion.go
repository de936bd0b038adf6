package agent

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"

	"github.com/nextlevelbuilder/morgana/pkg/protocol"
)

// Sentinel is the literal the model emits to signal "turn not complete".
// Matching is case-insensitive; the literal is bit-exact.
const Sentinel = "#INT#"

var sentinelRe = regexp.MustCompile(`(?i)#INT#`)

// HasSentinel reports whether text contains the completion sentinel.
func HasSentinel(text string) bool {
	return sentinelRe.MatchString(text)
}

// StripSentinel removes every sentinel occurrence and trims the result.
func StripSentinel(text string) string {
	return strings.TrimSpace(sentinelRe.ReplaceAllString(text, ""))
}

// EndsWithQuestion reports whether the last non-whitespace rune is '?'.
func EndsWithQuestion(text string) bool {
	trimmed := strings.TrimRightFunc(text, unicode.IsSpace)
	return strings.HasSuffix(trimmed, "?")
}

// IsCompleted derives the turn completion flag. rawQuickReplies and
// rawRichCard are the staged artifacts as harvested from the session; a
// turn is complete iff none of the continuation signals fire.
func IsCompleted(text, rawQuickReplies, rawRichCard string) bool {
	if HasSentinel(text) || EndsWithQuestion(text) {
		return false
	}
	if qrs := parseQuickReplies(rawQuickReplies); len(qrs) > 0 {
		return false
	}
	if parseRichCard(rawRichCard) != nil {
		return false
	}
	return true
}

func parseQuickReplies(raw string) []protocol.QuickReply {
	if raw == "" {
		return nil
	}
	var qrs []protocol.QuickReply
	if err := json.Unmarshal([]byte(raw), &qrs); err != nil {
		return nil
	}
	return qrs
}

func parseRichCard(raw string) *protocol.RichCard {
	if raw == "" {
		return nil
	}
	var card protocol.RichCard
	if err := json.Unmarshal([]byte(raw), &card); err != nil {
		return nil
	}
	return &card
}

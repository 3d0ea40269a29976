package model

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/shubhambtra/chatapp-api-sub000/types"
)

type ReplyStatus int

const (
	ReplyOK ReplyStatus = iota
	ReplyMalformed
)

func (s ReplyStatus) String() string {
	if s == ReplyOK {
		return "ok"
	}
	return "malformed"
}

// ParsedReply is a generation result decoded against the reply schema. When
// Status is ReplyMalformed, Reply is empty and Signals hold defaults.
type ParsedReply struct {
	Status  ReplyStatus
	Reply   string
	Signals types.Signals
}

// Reply schema field names, shared with the prompt that requests them.
const (
	FieldReply         = "response"
	FieldConfidence    = "confidence"
	FieldInterestLevel = "interest_level"
	FieldObjection     = "objection"
	FieldNextAction    = "next_action"
	FieldSentiment     = "sentiment"
	FieldIntent        = "intent"
	FieldKeywords      = "keywords"
)

var (
	interestLevels = []string{"low", "medium", "high"}
	nextActions    = []string{"continue", "ask_clarification", "escalate_to_human", "offer_resources", "close"}
	sentiments     = []string{"positive", "neutral", "negative"}
)

func DefaultSignals() types.Signals {
	return types.Signals{
		Confidence:    0,
		InterestLevel: "medium",
		NextAction:    "continue",
		Sentiment:     "neutral",
		Intent:        "question",
		Keywords:      []string{},
	}
}

// ParseReply decodes a completion field by field. A field that is missing or
// of the wrong shape keeps its default; only a missing JSON object or a
// missing reply text marks the whole reply malformed.
func ParseReply(raw string) ParsedReply {
	parsed := ParsedReply{Status: ReplyMalformed, Signals: DefaultSignals()}

	obj, err := extractJSON(raw)
	if err != nil {
		return parsed
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return parsed
	}

	s := &parsed.Signals
	if v, ok := decodeNumber(fields[FieldConfidence]); ok {
		s.Confidence = clamp(v, 0, 1)
	}
	if v, ok := decodeEnum(fields[FieldInterestLevel], interestLevels); ok {
		s.InterestLevel = v
	}
	if v, ok := decodeString(fields[FieldObjection]); ok && !strings.EqualFold(v, "none") {
		s.Objection = v
	}
	if v, ok := decodeEnum(fields[FieldNextAction], nextActions); ok {
		s.NextAction = v
	}
	if v, ok := decodeEnum(fields[FieldSentiment], sentiments); ok {
		s.Sentiment = v
	}
	if v, ok := decodeString(fields[FieldIntent]); ok {
		s.Intent = v
	}
	if v, ok := decodeKeywords(fields[FieldKeywords]); ok {
		s.Keywords = v
	}

	if reply, ok := decodeString(fields[FieldReply]); ok {
		parsed.Reply = reply
		parsed.Status = ReplyOK
	}
	return parsed
}

func extractJSON(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")

	if start == -1 || end == -1 || end <= start {
		return s, errors.New("no valid json found")
	}

	return s[start : end+1], nil
}

func decodeString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func decodeEnum(raw json.RawMessage, allowed []string) (string, bool) {
	v, ok := decodeString(raw)
	if !ok {
		return "", false
	}
	v = strings.ToLower(strings.ReplaceAll(v, " ", "_"))
	for _, a := range allowed {
		if v == a {
			return v, true
		}
	}
	return "", false
}

// decodeNumber accepts a finite JSON number or numeric string.
func decodeNumber(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	if s, ok := decodeString(raw); ok {
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f, true
		}
	}
	return 0, false
}

// decodeKeywords accepts a list of strings or a comma separated string.
func decodeKeywords(raw json.RawMessage) ([]string, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out, true
	}
	if s, ok := decodeString(raw); ok {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

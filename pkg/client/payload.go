package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseSeries parses a raw data payload into numbers.  Two encodings are
// accepted: comma separated text ("0.50, 0.38, 0.35") and a JSON array.
// An empty payload is an empty series.  NaN and infinities are rejected
// since figures must encode as JSON.
func ParseSeries(body []byte) ([]float64, error) {
	tokens, err := ParseTokens(body)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(tokens))
	for i, tok := range tokens {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, fmt.Errorf("element %d: %q is not a number", i, tok)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("element %d: %q is not finite", i, tok)
		}
		out[i] = v
	}
	return out, nil
}

// ParseTokens splits a raw data payload into trimmed string tokens.
func ParseTokens(body []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return []string{}, nil
	}

	if trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON array: %w", err)
		}
		out := make([]string, len(raw))
		for i, r := range raw {
			var s string
			if err := json.Unmarshal(r, &s); err == nil {
				out[i] = strings.TrimSpace(s)
				continue
			}
			out[i] = strings.TrimSpace(string(r))
		}
		return out, nil
	}

	parts := strings.Split(string(trimmed), ",")
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("element %d is empty", i)
		}
		out = append(out, p)
	}
	return out, nil
}

func decodeJSON(body []byte, out interface{}) error {
	if out == nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	return dec.Decode(out)
}

package postgres

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iho/kvledger/internal/adapter/repository/kv"
)

// Records persist as one JSONB attrs column. Only the three record value
// shapes exist, so decoding can recover exact types: JSON strings stay
// strings, numbers parse as int64, objects parse as map[string]int64.

func encodeAttrs(rec kv.Record) ([]byte, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode attrs: %w", err)
	}
	return raw, nil
}

func decodeAttrs(raw []byte) (kv.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var flat map[string]any
	if err := dec.Decode(&flat); err != nil {
		return nil, fmt.Errorf("postgres: decode attrs: %w", err)
	}

	rec := make(kv.Record, len(flat))
	for name, v := range flat {
		switch val := v.(type) {
		case string:
			rec[name] = val
		case json.Number:
			n, err := val.Int64()
			if err != nil {
				return nil, fmt.Errorf("postgres: attribute %s: %w", name, err)
			}
			rec[name] = n
		case map[string]any:
			m := make(map[string]int64, len(val))
			for k, sub := range val {
				num, ok := sub.(json.Number)
				if !ok {
					return nil, fmt.Errorf("postgres: attribute %s.%s is not numeric", name, k)
				}
				n, err := num.Int64()
				if err != nil {
					return nil, fmt.Errorf("postgres: attribute %s.%s: %w", name, k, err)
				}
				m[k] = n
			}
			rec[name] = m
		default:
			return nil, fmt.Errorf("postgres: unsupported attribute type %T for %s", v, name)
		}
	}
	return rec, nil
}

// Pagination tokens carry the sort position of the last row served.

const (
	tokenPrefix = "after:"
	tokenSep    = "\x1f"
)

func makeToken(parts ...string) string {
	return tokenPrefix + strings.Join(parts, tokenSep)
}

func parseToken(token string, n int) ([]string, error) {
	raw, ok := strings.CutPrefix(token, tokenPrefix)
	if !ok {
		return nil, kv.ErrInvalidToken
	}
	fields := strings.Split(raw, tokenSep)
	if len(fields) != n {
		return nil, kv.ErrInvalidToken
	}
	return fields, nil
}

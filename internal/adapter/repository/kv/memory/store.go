package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/iho/kvledger/internal/adapter/repository/kv"
)

// Store is an in-memory kv.Store for tests and local runs. The date index is
// derived on demand from the gsi_pk/gsi_sk attributes of stored records, the
// same way a sparse secondary index would project them.
type Store struct {
	mu    sync.RWMutex
	parts map[string]map[string]kv.Record
}

func New() *Store {
	return &Store{parts: make(map[string]map[string]kv.Record)}
}

func (s *Store) GetItem(_ context.Context, pk, sk string) (kv.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.parts[pk][sk]
	if !ok {
		return nil, kv.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) BatchGet(_ context.Context, keys []kv.Key) (map[kv.Key]kv.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[kv.Key]kv.Record, len(keys))
	for _, k := range keys {
		if rec, ok := s.parts[k.PK][k.SK]; ok {
			out[k] = rec.Clone()
		}
	}
	return out, nil
}

func (s *Store) Query(_ context.Context, in kv.QueryInput) (kv.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sks := make([]string, 0, len(s.parts[in.PK]))
	for sk := range s.parts[in.PK] {
		if inRange(sk, in.SKFrom, in.SKTo) {
			sks = append(sks, sk)
		}
	}
	sort.Strings(sks)
	if in.Desc {
		reverseStrings(sks)
	}

	start := 0
	if in.StartToken != "" {
		pos, err := parseToken(in.StartToken, 1)
		if err != nil {
			return kv.Page{}, err
		}
		for start < len(sks) && !beyond(sks[start], pos[0], in.Desc) {
			start++
		}
	}
	sks = sks[start:]

	n := len(sks)
	if in.Limit > 0 && in.Limit < n {
		n = in.Limit
	}
	page := kv.Page{Records: make([]kv.Record, 0, n)}
	for _, sk := range sks[:n] {
		page.Records = append(page.Records, s.parts[in.PK][sk].Clone())
	}
	if n < len(sks) {
		page.NextToken = makeToken(sks[n-1])
	}
	return page, nil
}

func (s *Store) QueryIndex(_ context.Context, _ string, in kv.QueryInput) (kv.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []indexed
	for pk, part := range s.parts {
		for sk, rec := range part {
			gpk, ok := rec.String(kv.GSIPKAttr)
			if !ok || gpk != in.PK {
				continue
			}
			gsk, ok := rec.String(kv.GSISKAttr)
			if !ok || !inRange(gsk, in.SKFrom, in.SKTo) {
				continue
			}
			items = append(items, indexed{gsiSK: gsk, pk: pk, sk: sk, rec: rec})
		}
	}
	sort.Slice(items, func(i, j int) bool { return lessItem(items[i], items[j]) })
	if in.Desc {
		reverseItems(items)
	}

	start := 0
	if in.StartToken != "" {
		pos, err := parseToken(in.StartToken, 3)
		if err != nil {
			return kv.Page{}, err
		}
		last := indexed{gsiSK: pos[0], pk: pos[1], sk: pos[2]}
		for start < len(items) && !beyondItem(items[start], last, in.Desc) {
			start++
		}
	}
	items = items[start:]

	n := len(items)
	if in.Limit > 0 && in.Limit < n {
		n = in.Limit
	}
	page := kv.Page{Records: make([]kv.Record, 0, n)}
	for _, it := range items[:n] {
		page.Records = append(page.Records, it.rec.Clone())
	}
	if n < len(items) {
		last := items[n-1]
		page.NextToken = makeToken(last.gsiSK, last.pk, last.sk)
	}
	return page, nil
}

// TransactWrite checks every precondition under the write lock before
// touching anything, so a failed transaction leaves the table untouched.
func (s *Store) TransactWrite(_ context.Context, ops []kv.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[kv.Key]bool, len(ops))
	var failed []int
	for i, op := range ops {
		if seen[op.Key] {
			return fmt.Errorf("memory: duplicate key %v in transaction", op.Key)
		}
		seen[op.Key] = true

		existing, exists := s.parts[op.Key.PK][op.Key.SK]
		switch op.Kind {
		case kv.OpPutIfAbsent:
			if exists {
				failed = append(failed, i)
			}
		case kv.OpPutIfVersion, kv.OpUpdateIfVersion:
			if !exists {
				failed = append(failed, i)
				continue
			}
			version, ok := existing.Int64(kv.VersionAttr)
			if !ok || version != op.ExpectedVersion {
				failed = append(failed, i)
			}
		}
	}
	if len(failed) > 0 {
		return &kv.PreconditionError{Failed: failed}
	}

	for _, op := range ops {
		if op.Kind == kv.OpDelete {
			delete(s.parts[op.Key.PK], op.Key.SK)
			if len(s.parts[op.Key.PK]) == 0 {
				delete(s.parts, op.Key.PK)
			}
			continue
		}
		part := s.parts[op.Key.PK]
		if part == nil {
			part = make(map[string]kv.Record)
			s.parts[op.Key.PK] = part
		}
		part[op.Key.SK] = op.Record.Clone()
	}
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

type indexed struct {
	gsiSK string
	pk    string
	sk    string
	rec   kv.Record
}

func lessItem(a, b indexed) bool {
	if a.gsiSK != b.gsiSK {
		return a.gsiSK < b.gsiSK
	}
	if a.pk != b.pk {
		return a.pk < b.pk
	}
	return a.sk < b.sk
}

func beyondItem(x, last indexed, desc bool) bool {
	if desc {
		return lessItem(x, last)
	}
	return lessItem(last, x)
}

func beyond(sk, last string, desc bool) bool {
	if desc {
		return sk < last
	}
	return sk > last
}

func inRange(sk, from, to string) bool {
	return (from == "" || sk >= from) && (to == "" || sk <= to)
}

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

func reverseStrings(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func reverseItems(s []indexed) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

package kv

import (
	"context"
	"errors"
	"fmt"
)

// Store abstracts a wide-column table: items addressed by partition and sort
// key, conditional writes, and range queries over the primary key and a
// sparse secondary index. Implementations must be safe for concurrent use and
// must return records the caller may own.
type Store interface {
	// GetItem returns the record at the key or ErrNotFound.
	GetItem(ctx context.Context, pk, sk string) (Record, error)
	// BatchGet loads many keys at once; absent keys are omitted from the
	// result.
	BatchGet(ctx context.Context, keys []Key) (map[Key]Record, error)
	// Query pages over one partition in sort-key order.
	Query(ctx context.Context, in QueryInput) (Page, error)
	// QueryIndex pages over one partition of the named secondary index.
	QueryIndex(ctx context.Context, index string, in QueryInput) (Page, error)
	// TransactWrite applies all ops atomically or none of them. Failed
	// preconditions surface as *PreconditionError naming the op indexes.
	TransactWrite(ctx context.Context, ops []Op) error
	// Ping verifies the backing table is reachable.
	Ping(ctx context.Context) error
}

// Key addresses one item.
type Key struct {
	PK string
	SK string
}

// Record is one stored item. Values are restricted to string, int64 and
// map[string]int64; every backend round-trips exactly those three shapes.
type Record map[string]any

func (r Record) String(name string) (string, bool) {
	v, ok := r[name].(string)
	return v, ok
}

func (r Record) Int64(name string) (int64, bool) {
	v, ok := r[name].(int64)
	return v, ok
}

func (r Record) Int64Map(name string) (map[string]int64, bool) {
	v, ok := r[name].(map[string]int64)
	return v, ok
}

// Clone deep-copies the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for name, v := range r {
		if m, ok := v.(map[string]int64); ok {
			cp := make(map[string]int64, len(m))
			for k, n := range m {
				cp[k] = n
			}
			out[name] = cp
			continue
		}
		out[name] = v
	}
	return out
}

// QueryInput selects a contiguous sort-key range of one partition. Empty
// bounds leave that side open; set bounds are inclusive. StartToken resumes a
// previous page and is opaque outside the store that minted it.
type QueryInput struct {
	PK         string
	SKFrom     string
	SKTo       string
	Desc       bool
	Limit      int
	StartToken string
}

// Page is one query result. NextToken is empty when the range is exhausted.
type Page struct {
	Records   []Record
	NextToken string
}

// OpKind discriminates transactional write operations.
type OpKind int

const (
	OpPut OpKind = iota
	OpPutIfAbsent
	OpPutIfVersion
	OpUpdateIfVersion
	OpDelete
)

// VersionAttr is the numeric attribute checked by version-guarded ops.
const VersionAttr = "version"

// GSIPKAttr and GSISKAttr name the attributes that project a record into the
// date index. Records without them stay out of the index.
const (
	GSIPKAttr = "gsi_pk"
	GSISKAttr = "gsi_sk"
)

// Op is one write inside a transaction.
type Op struct {
	Kind            OpKind
	Key             Key
	Record          Record
	ExpectedVersion int64
}

// Put writes the record unconditionally.
func Put(pk, sk string, rec Record) Op {
	return Op{Kind: OpPut, Key: Key{PK: pk, SK: sk}, Record: rec}
}

// PutIfAbsent writes the record provided no item exists at the key.
func PutIfAbsent(pk, sk string, rec Record) Op {
	return Op{Kind: OpPutIfAbsent, Key: Key{PK: pk, SK: sk}, Record: rec}
}

// PutIfVersion replaces the item provided its current VersionAttr equals
// expected.
func PutIfVersion(pk, sk string, rec Record, expected int64) Op {
	return Op{Kind: OpPutIfVersion, Key: Key{PK: pk, SK: sk}, Record: rec, ExpectedVersion: expected}
}

// UpdateIfVersion rewrites the full item under the same version guard as
// PutIfVersion; the kinds stay distinct so transactions read as intended.
func UpdateIfVersion(pk, sk string, rec Record, expected int64) Op {
	return Op{Kind: OpUpdateIfVersion, Key: Key{PK: pk, SK: sk}, Record: rec, ExpectedVersion: expected}
}

// Delete removes the item at the key; deleting a missing item is not an
// error.
func Delete(pk, sk string) Op {
	return Op{Kind: OpDelete, Key: Key{PK: pk, SK: sk}}
}

var (
	// ErrNotFound marks a missing item.
	ErrNotFound = errors.New("kv: item not found")
	// ErrConflict marks a collision with a concurrent transaction.
	ErrConflict = errors.New("kv: transaction conflict")
	// ErrInvalidToken marks a pagination token the store cannot parse.
	ErrInvalidToken = errors.New("kv: invalid pagination token")
)

// PreconditionError reports which transaction ops failed their condition.
type PreconditionError struct {
	Failed []int
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("kv: precondition failed on ops %v", e.Failed)
}

// TransientError wraps retryable I/O failures: throttling, timeouts,
// connection drops.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "kv: transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error { return &TransientError{Err: err} }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/kvledger/internal/adapter/repository/kv"
)

// PostgreSQL error codes this store reacts to.
const (
	pgErrSerializationFailure = "40001"
	pgErrDeadlock             = "40P01"
	pgErrUniqueViolation      = "23505"
)

// Store implements kv.Store on PostgreSQL: one row per item with the record
// held as JSONB, and indexed gsi columns standing in for the date index.
// Transactions lock their target rows in key order before checking
// preconditions, so competing batches against one account queue up instead of
// deadlocking.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) GetItem(ctx context.Context, pk, sk string) (kv.Record, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT attrs FROM ledger_items WHERE pk = $1 AND sk = $2`,
		pk, sk,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return decodeAttrs(raw)
}

func (s *Store) BatchGet(ctx context.Context, keys []kv.Key) (map[kv.Key]kv.Record, error) {
	out := make(map[kv.Key]kv.Record, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	pks, sks := splitKeys(keys)
	rows, err := s.pool.Query(ctx, `
		SELECT i.pk, i.sk, i.attrs
		FROM ledger_items i
		JOIN unnest($1::text[], $2::text[]) AS k(pk, sk)
		  ON i.pk = k.pk AND i.sk = k.sk`,
		pks, sks)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		var pk, sk string
		var raw []byte
		if err := rows.Scan(&pk, &sk, &raw); err != nil {
			return nil, classify(err)
		}
		rec, err := decodeAttrs(raw)
		if err != nil {
			return nil, err
		}
		out[kv.Key{PK: pk, SK: sk}] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (s *Store) Query(ctx context.Context, in kv.QueryInput) (kv.Page, error) {
	args := []any{in.PK}
	sql := `SELECT sk, attrs FROM ledger_items WHERE pk = $1`
	if in.SKFrom != "" {
		args = append(args, in.SKFrom)
		sql += fmt.Sprintf(" AND sk >= $%d", len(args))
	}
	if in.SKTo != "" {
		args = append(args, in.SKTo)
		sql += fmt.Sprintf(" AND sk <= $%d", len(args))
	}
	if in.StartToken != "" {
		pos, err := parseToken(in.StartToken, 1)
		if err != nil {
			return kv.Page{}, err
		}
		args = append(args, pos[0])
		if in.Desc {
			sql += fmt.Sprintf(" AND sk < $%d", len(args))
		} else {
			sql += fmt.Sprintf(" AND sk > $%d", len(args))
		}
	}
	if in.Desc {
		sql += " ORDER BY sk DESC"
	} else {
		sql += " ORDER BY sk"
	}
	// One extra row decides whether a next page exists.
	if in.Limit > 0 {
		args = append(args, in.Limit+1)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return kv.Page{}, classify(err)
	}
	defer rows.Close()

	var page kv.Page
	var sks []string
	for rows.Next() {
		var sk string
		var raw []byte
		if err := rows.Scan(&sk, &raw); err != nil {
			return kv.Page{}, classify(err)
		}
		rec, err := decodeAttrs(raw)
		if err != nil {
			return kv.Page{}, err
		}
		page.Records = append(page.Records, rec)
		sks = append(sks, sk)
	}
	if err := rows.Err(); err != nil {
		return kv.Page{}, classify(err)
	}
	if in.Limit > 0 && len(page.Records) > in.Limit {
		page.Records = page.Records[:in.Limit]
		page.NextToken = makeToken(sks[in.Limit-1])
	}
	return page, nil
}

func (s *Store) QueryIndex(ctx context.Context, _ string, in kv.QueryInput) (kv.Page, error) {
	args := []any{in.PK}
	sql := `SELECT gsi_sk, pk, sk, attrs FROM ledger_items WHERE gsi_pk = $1`
	if in.SKFrom != "" {
		args = append(args, in.SKFrom)
		sql += fmt.Sprintf(" AND gsi_sk >= $%d", len(args))
	}
	if in.SKTo != "" {
		args = append(args, in.SKTo)
		sql += fmt.Sprintf(" AND gsi_sk <= $%d", len(args))
	}
	if in.StartToken != "" {
		pos, err := parseToken(in.StartToken, 3)
		if err != nil {
			return kv.Page{}, err
		}
		op := ">"
		if in.Desc {
			op = "<"
		}
		args = append(args, pos[0], pos[1], pos[2])
		sql += fmt.Sprintf(" AND (gsi_sk, pk, sk) %s ($%d, $%d, $%d)", op, len(args)-2, len(args)-1, len(args))
	}
	if in.Desc {
		sql += " ORDER BY gsi_sk DESC, pk DESC, sk DESC"
	} else {
		sql += " ORDER BY gsi_sk, pk, sk"
	}
	if in.Limit > 0 {
		args = append(args, in.Limit+1)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return kv.Page{}, classify(err)
	}
	defer rows.Close()

	var page kv.Page
	type position struct{ gsiSK, pk, sk string }
	var positions []position
	for rows.Next() {
		var pos position
		var raw []byte
		if err := rows.Scan(&pos.gsiSK, &pos.pk, &pos.sk, &raw); err != nil {
			return kv.Page{}, classify(err)
		}
		rec, err := decodeAttrs(raw)
		if err != nil {
			return kv.Page{}, err
		}
		page.Records = append(page.Records, rec)
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return kv.Page{}, classify(err)
	}
	if in.Limit > 0 && len(page.Records) > in.Limit {
		page.Records = page.Records[:in.Limit]
		last := positions[in.Limit-1]
		page.NextToken = makeToken(last.gsiSK, last.pk, last.sk)
	}
	return page, nil
}

func (s *Store) TransactWrite(ctx context.Context, ops []kv.Op) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	if err := applyOps(ctx, tx, ops); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func applyOps(ctx context.Context, tx pgx.Tx, ops []kv.Op) error {
	keys := make([]kv.Key, 0, len(ops))
	seen := make(map[kv.Key]bool, len(ops))
	for _, op := range ops {
		if seen[op.Key] {
			return fmt.Errorf("postgres: duplicate key %v in transaction", op.Key)
		}
		seen[op.Key] = true
		keys = append(keys, op.Key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].PK != keys[j].PK {
			return keys[i].PK < keys[j].PK
		}
		return keys[i].SK < keys[j].SK
	})

	existing, err := lockRows(ctx, tx, keys)
	if err != nil {
		return err
	}

	var failed []int
	for i, op := range ops {
		rec, exists := existing[op.Key]
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
			version, ok := rec.Int64(kv.VersionAttr)
			if !ok || version != op.ExpectedVersion {
				failed = append(failed, i)
			}
		}
	}
	if len(failed) > 0 {
		return &kv.PreconditionError{Failed: failed}
	}

	for _, op := range ops {
		if err := applyOp(ctx, tx, op); err != nil {
			return err
		}
	}
	return nil
}

// lockRows takes row locks on every existing target, in key order. Rows that
// do not exist yet cannot be locked; inserts racing on the same key are
// caught by the primary key instead.
func lockRows(ctx context.Context, tx pgx.Tx, keys []kv.Key) (map[kv.Key]kv.Record, error) {
	pks, sks := splitKeys(keys)
	rows, err := tx.Query(ctx, `
		SELECT i.pk, i.sk, i.attrs
		FROM ledger_items i
		JOIN unnest($1::text[], $2::text[]) AS k(pk, sk)
		  ON i.pk = k.pk AND i.sk = k.sk
		ORDER BY i.pk, i.sk
		FOR UPDATE OF i`,
		pks, sks)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make(map[kv.Key]kv.Record, len(keys))
	for rows.Next() {
		var pk, sk string
		var raw []byte
		if err := rows.Scan(&pk, &sk, &raw); err != nil {
			return nil, classify(err)
		}
		rec, err := decodeAttrs(raw)
		if err != nil {
			return nil, err
		}
		out[kv.Key{PK: pk, SK: sk}] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func applyOp(ctx context.Context, tx pgx.Tx, op kv.Op) error {
	if op.Kind == kv.OpDelete {
		if _, err := tx.Exec(ctx,
			`DELETE FROM ledger_items WHERE pk = $1 AND sk = $2`,
			op.Key.PK, op.Key.SK,
		); err != nil {
			return classify(err)
		}
		return nil
	}

	raw, err := encodeAttrs(op.Record)
	if err != nil {
		return err
	}
	var gsiPK, gsiSK *string
	if v, ok := op.Record.String(kv.GSIPKAttr); ok {
		gsiPK = &v
	}
	if v, ok := op.Record.String(kv.GSISKAttr); ok {
		gsiSK = &v
	}

	// PutIfAbsent stays a bare insert: its target had no row to lock, so a
	// concurrent insert must fail on the primary key, not silently win.
	if op.Kind == kv.OpPutIfAbsent {
		if _, err := tx.Exec(ctx, `
			INSERT INTO ledger_items (pk, sk, attrs, gsi_pk, gsi_sk)
			VALUES ($1, $2, $3, $4, $5)`,
			op.Key.PK, op.Key.SK, raw, gsiPK, gsiSK,
		); err != nil {
			return classify(err)
		}
		return nil
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO ledger_items (pk, sk, attrs, gsi_pk, gsi_sk)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pk, sk) DO UPDATE
		SET attrs = EXCLUDED.attrs, gsi_pk = EXCLUDED.gsi_pk, gsi_sk = EXCLUDED.gsi_sk`,
		op.Key.PK, op.Key.SK, raw, gsiPK, gsiSK,
	); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func splitKeys(keys []kv.Key) ([]string, []string) {
	pks := make([]string, len(keys))
	sks := make([]string, len(keys))
	for i, k := range keys {
		pks[i], sks[i] = k.PK, k.SK
	}
	return pks, sks
}

// classify maps pgx failures onto the store error taxonomy. Unique-key
// violations mean a writer slipped in between lock and insert; lock ordering
// makes deadlocks and serialization failures rare, and both are retryable.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return kv.ErrConflict
		case pgErrSerializationFailure, pgErrDeadlock:
			return kv.Transient(err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) {
		return kv.Transient(err)
	}
	return err
}

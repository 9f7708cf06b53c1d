package kv

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iho/kvledger/internal/domain"
)

// Key layout, shared with every other reader of the table. Do not change.
//
//	entry item    pk=ACCOUNT_ID:{account}|ENTRY_ID:{entry}  sk=|~ or |HISTORY:{seq}
//	balance item  pk=ACCOUNT_ID:{account}                   sk=|~
//
// The live sort key |~ collates after every |HISTORY: key, so a descending
// partition scan yields the live record first and history newest-first after
// it.
const (
	// CurrentSK is the sort key of live records.
	CurrentSK = "|~"

	entryPKFormat   = "ACCOUNT_ID:%s|ENTRY_ID:%s"
	balancePKFormat = "ACCOUNT_ID:%s"
	historySKPrefix = "|HISTORY:"

	// timeLayout pads fractional seconds to nine digits so encoded
	// timestamps collate in chronological order.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// EntryPK builds the partition key of one entry's chain.
func EntryPK(accountID, entryID string) string {
	return fmt.Sprintf(entryPKFormat, accountID, entryID)
}

// BalancePK builds the partition key of an account's balance row.
func BalancePK(accountID string) string {
	return fmt.Sprintf(balancePKFormat, accountID)
}

// HistorySK builds the sort key of one archived record. Sequences are
// zero-padded to ten digits so they collate numerically.
func HistorySK(sequence uint64) string {
	return fmt.Sprintf("%s%010d", historySKPrefix, sequence)
}

// HistorySequence parses the sequence back out of a history sort key.
func HistorySequence(sk string) (uint64, error) {
	raw, ok := strings.CutPrefix(sk, historySKPrefix)
	if !ok {
		return 0, fmt.Errorf("not a history sort key: %q", sk)
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not a history sort key: %q", sk)
	}
	return seq, nil
}

// HistoryRange bounds a partition query to history records only, excluding
// the live row.
func HistoryRange() (from, to string) {
	return historySKPrefix + "0000000000", historySKPrefix + "9999999999"
}

// GSIPK shards the date index by account and UTC day.
func GSIPK(accountID string, t time.Time) string {
	return accountID + "|" + domain.DatePartition(t)
}

// GSIPKForDate builds the index partition key from an already-formatted day.
func GSIPKForDate(accountID, date string) string {
	return accountID + "|" + date
}

// FormatTime encodes a timestamp in the fixed-width form used by index sort
// keys.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime decodes FormatTime output, tolerating shorter RFC 3339 variants.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

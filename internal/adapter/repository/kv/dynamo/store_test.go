package dynamo

import (
	"errors"
	"reflect"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/iho/kvledger/internal/adapter/repository/kv"
)

func TestItemRoundTrip(t *testing.T) {
	key := kv.Key{PK: "ACCOUNT_ID:abc|ENTRY_ID:e-1", SK: "|~"}
	rec := kv.Record{
		"entry_id":      "e-1",
		"sequence":      int64(3),
		"ledger_fields": map[string]int64{"credits": 100, "debits": -20},
	}

	item, err := toItem(key, rec)
	if err != nil {
		t.Fatalf("toItem: %v", err)
	}
	if got := item[pkAttr].(*types.AttributeValueMemberS).Value; got != key.PK {
		t.Errorf("pk attribute = %q", got)
	}
	if got := item["sequence"].(*types.AttributeValueMemberN).Value; got != "3" {
		t.Errorf("sequence attribute = %q, want numeric string", got)
	}

	gotKey, gotRec, err := fromItem(item)
	if err != nil {
		t.Fatalf("fromItem: %v", err)
	}
	if gotKey != key {
		t.Errorf("key = %+v, want %+v", gotKey, key)
	}
	if !reflect.DeepEqual(gotRec, rec) {
		t.Errorf("record = %+v, want %+v", gotRec, rec)
	}
}

func TestToItemRejectsUnsupportedTypes(t *testing.T) {
	_, err := toItem(kv.Key{PK: "p", SK: "s"}, kv.Record{"bad": 3.14})
	if err == nil {
		t.Fatal("expected error for float attribute")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	lek := map[string]types.AttributeValue{
		"pk":     &types.AttributeValueMemberS{Value: "a"},
		"sk":     &types.AttributeValueMemberS{Value: "b"},
		"gsi_pk": &types.AttributeValueMemberS{Value: "c"},
		"gsi_sk": &types.AttributeValueMemberS{Value: "d"},
	}
	token, err := encodeToken(lek)
	if err != nil {
		t.Fatalf("encodeToken: %v", err)
	}
	got, err := decodeToken(token)
	if err != nil {
		t.Fatalf("decodeToken: %v", err)
	}
	if !reflect.DeepEqual(got, lek) {
		t.Errorf("token round trip = %+v, want %+v", got, lek)
	}

	for _, bad := range []string{"", "junk", "[]", "{}"} {
		if _, err := decodeToken(bad); !errors.Is(err, kv.ErrInvalidToken) {
			t.Errorf("decodeToken(%q) = %v, want ErrInvalidToken", bad, err)
		}
	}
}

func TestTransactItemConditions(t *testing.T) {
	s := New(nil, "ledger")

	item, err := s.transactItem(kv.PutIfAbsent("p", "s", kv.Record{"v": int64(1)}))
	if err != nil {
		t.Fatalf("transactItem: %v", err)
	}
	if got := aws.ToString(item.Put.ConditionExpression); got != "attribute_not_exists(pk)" {
		t.Errorf("PutIfAbsent condition = %q", got)
	}

	item, err = s.transactItem(kv.PutIfVersion("p", "s", kv.Record{"v": int64(1)}, 7))
	if err != nil {
		t.Fatalf("transactItem: %v", err)
	}
	if got := aws.ToString(item.Put.ConditionExpression); got != "#v = :expected" {
		t.Errorf("PutIfVersion condition = %q", got)
	}
	if got := item.Put.ExpressionAttributeNames["#v"]; got != kv.VersionAttr {
		t.Errorf("PutIfVersion name = %q", got)
	}
	if got := item.Put.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberN).Value; got != "7" {
		t.Errorf("PutIfVersion expected = %q", got)
	}

	item, err = s.transactItem(kv.Delete("p", "s"))
	if err != nil {
		t.Fatalf("transactItem: %v", err)
	}
	if item.Delete == nil || item.Put != nil {
		t.Errorf("Delete op produced %+v", item)
	}
}

func TestClassify(t *testing.T) {
	reasons := func(codes ...string) []types.CancellationReason {
		out := make([]types.CancellationReason, len(codes))
		for i, code := range codes {
			out[i] = types.CancellationReason{Code: aws.String(code)}
		}
		return out
	}

	t.Run("condition failures carry op indexes", func(t *testing.T) {
		err := classify(&types.TransactionCanceledException{
			CancellationReasons: reasons("None", "ConditionalCheckFailed", "None", "ConditionalCheckFailed"),
		})
		var precondition *kv.PreconditionError
		if !errors.As(err, &precondition) {
			t.Fatalf("classify = %v, want PreconditionError", err)
		}
		if !reflect.DeepEqual(precondition.Failed, []int{1, 3}) {
			t.Errorf("failed = %v, want [1 3]", precondition.Failed)
		}
	})

	t.Run("writer collision", func(t *testing.T) {
		err := classify(&types.TransactionCanceledException{
			CancellationReasons: reasons("None", "TransactionConflict"),
		})
		if !errors.Is(err, kv.ErrConflict) {
			t.Errorf("classify = %v, want ErrConflict", err)
		}
		if err := classify(&types.TransactionConflictException{}); !errors.Is(err, kv.ErrConflict) {
			t.Errorf("classify conflict exception = %v, want ErrConflict", err)
		}
	})

	t.Run("throttling is transient", func(t *testing.T) {
		err := classify(&types.TransactionCanceledException{
			CancellationReasons: reasons("ThrottlingError", "None"),
		})
		if !kv.IsTransient(err) {
			t.Errorf("classify = %v, want transient", err)
		}
		apiErr := &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}
		if err := classify(apiErr); !kv.IsTransient(err) {
			t.Errorf("classify(api throttle) = %v, want transient", err)
		}
	})

	t.Run("unknown errors pass through", func(t *testing.T) {
		plain := errors.New("boom")
		if got := classify(plain); got != plain {
			t.Errorf("classify = %v, want the original error", got)
		}
	})
}

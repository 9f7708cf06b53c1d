package dynamo

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/iho/kvledger/internal/adapter/repository/kv"
)

// pkAttr and skAttr are the table's own key attributes; they live alongside
// the record's payload attributes in every item.
const (
	pkAttr = "pk"
	skAttr = "sk"
)

func keyAttrs(k kv.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		pkAttr: &types.AttributeValueMemberS{Value: k.PK},
		skAttr: &types.AttributeValueMemberS{Value: k.SK},
	}
}

// toItem flattens a record into DynamoDB attributes. Conversion is
// hand-rolled rather than reflective so int64 amounts go through N values
// without ever touching a float.
func toItem(k kv.Key, rec kv.Record) (map[string]types.AttributeValue, error) {
	item := keyAttrs(k)
	for name, v := range rec {
		switch val := v.(type) {
		case string:
			item[name] = &types.AttributeValueMemberS{Value: val}
		case int64:
			item[name] = &types.AttributeValueMemberN{Value: strconv.FormatInt(val, 10)}
		case map[string]int64:
			m := make(map[string]types.AttributeValue, len(val))
			for k, n := range val {
				m[k] = &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
			}
			item[name] = &types.AttributeValueMemberM{Value: m}
		default:
			return nil, fmt.Errorf("dynamo: unsupported attribute type %T for %s", v, name)
		}
	}
	return item, nil
}

func fromItem(item map[string]types.AttributeValue) (kv.Key, kv.Record, error) {
	var key kv.Key
	rec := make(kv.Record, len(item))
	for name, av := range item {
		switch val := av.(type) {
		case *types.AttributeValueMemberS:
			switch name {
			case pkAttr:
				key.PK = val.Value
			case skAttr:
				key.SK = val.Value
			default:
				rec[name] = val.Value
			}
		case *types.AttributeValueMemberN:
			n, err := strconv.ParseInt(val.Value, 10, 64)
			if err != nil {
				return key, nil, fmt.Errorf("dynamo: attribute %s: %w", name, err)
			}
			rec[name] = n
		case *types.AttributeValueMemberM:
			m := make(map[string]int64, len(val.Value))
			for k, sub := range val.Value {
				nav, ok := sub.(*types.AttributeValueMemberN)
				if !ok {
					return key, nil, fmt.Errorf("dynamo: attribute %s.%s is not numeric", name, k)
				}
				n, err := strconv.ParseInt(nav.Value, 10, 64)
				if err != nil {
					return key, nil, fmt.Errorf("dynamo: attribute %s.%s: %w", name, k, err)
				}
				m[k] = n
			}
			rec[name] = m
		default:
			return key, nil, fmt.Errorf("dynamo: unsupported attribute type %T for %s", av, name)
		}
	}
	return key, rec, nil
}

// Pagination tokens carry the LastEvaluatedKey as flat JSON. Every key
// attribute in this schema is a string.
func encodeToken(key map[string]types.AttributeValue) (string, error) {
	flat := make(map[string]string, len(key))
	for name, av := range key {
		s, ok := av.(*types.AttributeValueMemberS)
		if !ok {
			return "", fmt.Errorf("dynamo: non-string key attribute %s in page token", name)
		}
		flat[name] = s.Value
	}
	raw, err := json.Marshal(flat)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeToken(token string) (map[string]types.AttributeValue, error) {
	var flat map[string]string
	if err := json.Unmarshal([]byte(token), &flat); err != nil || len(flat) == 0 {
		return nil, kv.ErrInvalidToken
	}
	key := make(map[string]types.AttributeValue, len(flat))
	for name, v := range flat {
		key[name] = &types.AttributeValueMemberS{Value: v}
	}
	return key, nil
}

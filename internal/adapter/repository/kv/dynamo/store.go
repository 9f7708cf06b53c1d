package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/iho/kvledger/internal/adapter/repository/kv"
)

const batchGetLimit = 100

// DynamoDB returns unprocessed keys under load; the chunk is retried until
// empty or this many rounds have passed.
const batchGetAttempts = 5

// Store implements kv.Store over a single DynamoDB table with a string
// pk/sk primary key and a sparse gsi_pk/gsi_sk secondary index. Reads off
// the base table are strongly consistent so a committed write is visible to
// the next call.
type Store struct {
	client *dynamodb.Client
	table  string
}

func New(client *dynamodb.Client, table string) *Store {
	return &Store{client: client, table: table}
}

func (s *Store) GetItem(ctx context.Context, pk, sk string) (kv.Record, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            keyAttrs(kv.Key{PK: pk, SK: sk}),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(out.Item) == 0 {
		return nil, kv.ErrNotFound
	}
	_, rec, err := fromItem(out.Item)
	return rec, err
}

func (s *Store) BatchGet(ctx context.Context, keys []kv.Key) (map[kv.Key]kv.Record, error) {
	out := make(map[kv.Key]kv.Record, len(keys))
	for start := 0; start < len(keys); start += batchGetLimit {
		chunk := keys[start:min(start+batchGetLimit, len(keys))]
		if err := s.batchGetChunk(ctx, chunk, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) batchGetChunk(ctx context.Context, keys []kv.Key, out map[kv.Key]kv.Record) error {
	request := make([]map[string]types.AttributeValue, 0, len(keys))
	for _, k := range keys {
		request = append(request, keyAttrs(k))
	}

	for attempt := 0; len(request) > 0; attempt++ {
		if attempt == batchGetAttempts {
			return kv.Transient(fmt.Errorf("dynamo: %d keys unprocessed after %d rounds", len(request), attempt))
		}
		resp, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{
				s.table: {Keys: request, ConsistentRead: aws.Bool(true)},
			},
		})
		if err != nil {
			return classify(err)
		}
		for _, item := range resp.Responses[s.table] {
			key, rec, err := fromItem(item)
			if err != nil {
				return err
			}
			out[key] = rec
		}
		request = nil
		if un, ok := resp.UnprocessedKeys[s.table]; ok {
			request = un.Keys
		}
	}
	return nil
}

func (s *Store) Query(ctx context.Context, in kv.QueryInput) (kv.Page, error) {
	return s.query(ctx, nil, pkAttr, skAttr, true, in)
}

func (s *Store) QueryIndex(ctx context.Context, index string, in kv.QueryInput) (kv.Page, error) {
	return s.query(ctx, aws.String(index), kv.GSIPKAttr, kv.GSISKAttr, false, in)
}

func (s *Store) query(ctx context.Context, index *string, hashAttr, rangeAttr string, consistent bool, in kv.QueryInput) (kv.Page, error) {
	names := map[string]string{"#pk": hashAttr}
	values := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: in.PK},
	}
	cond := "#pk = :pk"
	switch {
	case in.SKFrom != "" && in.SKTo != "":
		cond += " AND #sk BETWEEN :from AND :to"
		names["#sk"] = rangeAttr
		values[":from"] = &types.AttributeValueMemberS{Value: in.SKFrom}
		values[":to"] = &types.AttributeValueMemberS{Value: in.SKTo}
	case in.SKFrom != "":
		cond += " AND #sk >= :from"
		names["#sk"] = rangeAttr
		values[":from"] = &types.AttributeValueMemberS{Value: in.SKFrom}
	case in.SKTo != "":
		cond += " AND #sk <= :to"
		names["#sk"] = rangeAttr
		values[":to"] = &types.AttributeValueMemberS{Value: in.SKTo}
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		IndexName:                 index,
		KeyConditionExpression:    aws.String(cond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(!in.Desc),
		ConsistentRead:            aws.Bool(consistent),
	}
	if in.Limit > 0 {
		input.Limit = aws.Int32(int32(in.Limit))
	}
	if in.StartToken != "" {
		start, err := decodeToken(in.StartToken)
		if err != nil {
			return kv.Page{}, err
		}
		input.ExclusiveStartKey = start
	}

	out, err := s.client.Query(ctx, input)
	if err != nil {
		return kv.Page{}, classify(err)
	}
	page := kv.Page{Records: make([]kv.Record, 0, len(out.Items))}
	for _, item := range out.Items {
		_, rec, err := fromItem(item)
		if err != nil {
			return kv.Page{}, err
		}
		page.Records = append(page.Records, rec)
	}
	if len(out.LastEvaluatedKey) > 0 {
		token, err := encodeToken(out.LastEvaluatedKey)
		if err != nil {
			return kv.Page{}, err
		}
		page.NextToken = token
	}
	return page, nil
}

func (s *Store) TransactWrite(ctx context.Context, ops []kv.Op) error {
	items := make([]types.TransactWriteItem, 0, len(ops))
	for _, op := range ops {
		item, err := s.transactItem(op)
		if err != nil {
			return err
		}
		items = append(items, item)
	}
	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) transactItem(op kv.Op) (types.TransactWriteItem, error) {
	if op.Kind == kv.OpDelete {
		return types.TransactWriteItem{Delete: &types.Delete{
			TableName: aws.String(s.table),
			Key:       keyAttrs(op.Key),
		}}, nil
	}

	item, err := toItem(op.Key, op.Record)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	put := &types.Put{
		TableName: aws.String(s.table),
		Item:      item,
	}
	switch op.Kind {
	case kv.OpPutIfAbsent:
		put.ConditionExpression = aws.String("attribute_not_exists(pk)")
	case kv.OpPutIfVersion, kv.OpUpdateIfVersion:
		put.ConditionExpression = aws.String("#v = :expected")
		put.ExpressionAttributeNames = map[string]string{"#v": kv.VersionAttr}
		put.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(op.ExpectedVersion, 10)},
		}
	}
	return types.TransactWriteItem{Put: put}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	})
	if err != nil {
		return fmt.Errorf("dynamo: describe table %s: %w", s.table, err)
	}
	return nil
}

// classify maps SDK failures onto the store error taxonomy. A cancelled
// transaction reports the indexes of the ops whose conditions failed;
// concurrent-writer collisions and throttling get their own shapes so
// callers can decide whether to retry.
func classify(err error) error {
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		var failed []int
		conflict, throttled := false, false
		for i, reason := range canceled.CancellationReasons {
			switch aws.ToString(reason.Code) {
			case "ConditionalCheckFailed":
				failed = append(failed, i)
			case "TransactionConflict":
				conflict = true
			case "ThrottlingError", "ProvisionedThroughputExceeded":
				throttled = true
			}
		}
		switch {
		case len(failed) > 0:
			return &kv.PreconditionError{Failed: failed}
		case conflict:
			return kv.ErrConflict
		case throttled:
			return kv.Transient(err)
		default:
			return err
		}
	}

	var conflictErr *types.TransactionConflictException
	if errors.As(err, &conflictErr) {
		return kv.ErrConflict
	}

	var api smithy.APIError
	if errors.As(err, &api) {
		switch api.ErrorCode() {
		case "ThrottlingException",
			"ProvisionedThroughputExceededException",
			"RequestLimitExceeded",
			"InternalServerError",
			"ServiceUnavailable",
			"TransactionInProgressException",
			"LimitExceededException":
			return kv.Transient(err)
		}
	}
	return err
}

package cachemanager

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/goforj/cachemanager/cachecore"
)

// DynamoAPI captures the subset of DynamoDB client methods used by the
// backend.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoOptions configure the DynamoDb backend.
type DynamoOptions struct {
	Table    string    `option:"table"`
	Region   string    `option:"region"`
	Endpoint string    `option:"endpoint"`
	Prefix   string    `option:"prefix"`
	Client   DynamoAPI `option:"client"`
}

func (o DynamoOptions) withDefaults() DynamoOptions {
	if o.Table == "" {
		o.Table = "cache_entries"
	}
	if o.Region == "" {
		o.Region = "us-east-1"
	}
	return o
}

const (
	dynamoEnsureTableMaxAttempts = 20
	dynamoEnsureTableRetryDelay  = 150 * time.Millisecond
	dynamoBatchWriteLimit        = 25
	dynamoBatchMaxAttempts       = 8
	dynamoBatchRetryDelay        = 25 * time.Millisecond
)

// dynamoBackend stores items with attributes k (key), v (value), ea (expiry
// in unix milliseconds, 0 for never) and tg (string set of tags).
type dynamoBackend struct {
	cachecore.Base
	client DynamoAPI
	table  string
	prefix string
}

// NewDynamoBackend returns a DynamoDB backend, creating the table when it
// does not exist.
func NewDynamoBackend(ctx context.Context, opts DynamoOptions) (Backend, error) {
	opts = opts.withDefaults()
	if opts.Client == nil {
		if opts.Endpoint == "" {
			return nil, cachecore.NewConfigError(`backend "DynamoDb"`, "endpoint or client is required")
		}
		client, err := newDynamoClient(ctx, opts)
		if err != nil {
			return nil, &BackendUnavailableError{Backend: "DynamoDb", Err: err}
		}
		opts.Client = client
	}
	if err := ensureDynamoTable(ctx, opts.Client, opts.Table); err != nil {
		return nil, &BackendUnavailableError{Backend: "DynamoDb", Err: err}
	}
	return &dynamoBackend{
		Base:   cachecore.NewBase("DynamoDb"),
		client: opts.Client,
		table:  opts.Table,
		prefix: opts.Prefix,
	}, nil
}

func newDynamoBackend(ctx context.Context, opts Options) (Backend, error) {
	var cfg DynamoOptions
	if err := cachecore.DecodeOptions(`backend "DynamoDb"`, opts, &cfg); err != nil {
		return nil, err
	}
	return NewDynamoBackend(ctx, cfg)
}

func newDynamoClient(ctx context.Context, opts DynamoOptions) (*dynamodb.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")),
	)
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(opts.Endpoint)
	}), nil
}

func (b *dynamoBackend) Capabilities() cachecore.Capabilities {
	return cachecore.Capabilities{Tags: true, AutomaticCleaning: true, Persistent: true}
}

func (b *dynamoBackend) Load(ctx context.Context, id string) ([]byte, bool, error) {
	out, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(b.table),
		Key:       b.itemKey(b.cacheKey(id)),
	})
	if err != nil {
		return nil, false, err
	}
	if out.Item == nil {
		return nil, false, nil
	}
	if dynamoExpired(out.Item, time.Now().UnixMilli()) {
		_ = b.Remove(ctx, id)
		return nil, false, nil
	}
	v, ok := out.Item["v"].(*types.AttributeValueMemberB)
	if !ok {
		return nil, false, errors.New("dynamodb item missing binary value")
	}
	return cloneBytes(v.Value), true, nil
}

func (b *dynamoBackend) Save(ctx context.Context, id string, data []byte, tags []string, lifetime time.Duration) error {
	var exp int64
	if lifetime > 0 {
		exp = time.Now().Add(lifetime).UnixMilli()
	}
	item := map[string]types.AttributeValue{
		"k":  &types.AttributeValueMemberS{Value: b.cacheKey(id)},
		"v":  &types.AttributeValueMemberB{Value: cloneBytes(data)},
		"ea": &types.AttributeValueMemberN{Value: strconv.FormatInt(exp, 10)},
	}
	if len(tags) > 0 {
		item["tg"] = &types.AttributeValueMemberSS{Value: dedupeTags(tags)}
	}
	_, err := b.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(b.table),
		Item:      item,
	})
	return err
}

func (b *dynamoBackend) Remove(ctx context.Context, id string) error {
	_, err := b.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(b.table),
		Key:       b.itemKey(b.cacheKey(id)),
	})
	return err
}

func (b *dynamoBackend) Clean(ctx context.Context, mode CleaningMode, tags ...string) error {
	if err := b.CheckMode(mode); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	var lastEvaluatedKey map[string]types.AttributeValue
	for {
		out, err := b.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(b.table),
			ProjectionExpression: aws.String("k, ea, tg"),
			ExclusiveStartKey:    lastEvaluatedKey,
		})
		if err != nil {
			return err
		}
		var keys []string
		for _, item := range out.Items {
			kv, ok := item["k"].(*types.AttributeValueMemberS)
			if !ok || (b.prefix != "" && !strings.HasPrefix(kv.Value, b.prefix+":")) {
				continue
			}
			remove := mode == CleanAll || dynamoExpired(item, now)
			if !remove && mode != CleanOld {
				var entryTags []string
				if ss, ok := item["tg"].(*types.AttributeValueMemberSS); ok {
					entryTags = ss.Value
				}
				remove = cachecore.MatchTags(mode, entryTags, tags)
			}
			if remove {
				keys = append(keys, kv.Value)
			}
		}
		if err := b.deleteKeys(ctx, keys); err != nil {
			return err
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		lastEvaluatedKey = out.LastEvaluatedKey
	}
}

func (b *dynamoBackend) deleteKeys(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += dynamoBatchWriteLimit {
		end := min(start+dynamoBatchWriteLimit, len(keys))
		writes := make([]types.WriteRequest, 0, end-start)
		for _, k := range keys[start:end] {
			writes = append(writes, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: b.itemKey(k)},
			})
		}
		if err := b.batchWrite(ctx, map[string][]types.WriteRequest{b.table: writes}); err != nil {
			return err
		}
	}
	return nil
}

// batchWrite sends pending and resends whatever DynamoDB reports as
// unprocessed until nothing is left or the attempts run out.
func (b *dynamoBackend) batchWrite(ctx context.Context, pending map[string][]types.WriteRequest) error {
	for attempt := 1; ; attempt++ {
		out, err := b.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return err
		}
		pending = out.UnprocessedItems
		left := 0
		for _, writes := range pending {
			left += len(writes)
		}
		if left == 0 {
			return nil
		}
		if attempt == dynamoBatchMaxAttempts {
			return fmt.Errorf("dynamodb batch write: %d requests still unprocessed after %d attempts", left, attempt)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * dynamoBatchRetryDelay):
		}
	}
}

func (b *dynamoBackend) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"k": &types.AttributeValueMemberS{Value: key}}
}

func (b *dynamoBackend) cacheKey(id string) string {
	if b.prefix == "" {
		return id
	}
	return b.prefix + ":" + id
}

// dedupeTags drops repeated tags; DynamoDB rejects string sets with
// duplicates.
func dedupeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if !seen[tag] {
			seen[tag] = true
			out = append(out, tag)
		}
	}
	return out
}

func dynamoExpired(item map[string]types.AttributeValue, nowMs int64) bool {
	av, ok := item["ea"].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	exp, err := strconv.ParseInt(av.Value, 10, 64)
	if err != nil {
		return false
	}
	return exp > 0 && nowMs > exp
}

func ensureDynamoTable(ctx context.Context, client DynamoAPI, table string) error {
	var lastErr error
	for attempt := 1; attempt <= dynamoEnsureTableMaxAttempts; attempt++ {
		_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
		if err == nil {
			return nil
		}

		var rnfe *types.ResourceNotFoundException
		if errors.As(err, &rnfe) {
			_, createErr := client.CreateTable(ctx, &dynamodb.CreateTableInput{
				TableName: aws.String(table),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("k"), KeyType: types.KeyTypeHash},
				},
				AttributeDefinitions: []types.AttributeDefinition{
					{AttributeName: aws.String("k"), AttributeType: types.ScalarAttributeTypeS},
				},
				BillingMode: types.BillingModePayPerRequest,
			})
			if createErr == nil {
				return nil
			}
			var inUse *types.ResourceInUseException
			if errors.As(createErr, &inUse) {
				return nil
			}
			if !isDynamoStartupRetryable(createErr) {
				return createErr
			}
			lastErr = createErr
		} else {
			if !isDynamoStartupRetryable(err) {
				return err
			}
			lastErr = err
		}

		if attempt == dynamoEnsureTableMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dynamoEnsureTableRetryDelay):
		}
	}
	if lastErr == nil {
		lastErr = errors.New("dynamo table ensure failed")
	}
	return fmt.Errorf("ensure dynamo table %q: %w", table, lastErr)
}

func isDynamoStartupRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "request send failed") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "eof")
}

package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/rzpsarthak13/entity-dao/internal/backend"
	"github.com/rzpsarthak13/entity-dao/internal/core"
	"github.com/rzpsarthak13/entity-dao/internal/registry"
)

const (
	dynamoType = "dynamodb"

	attrID      = "id"
	attrGen     = "gen"
	attrDoc     = "doc"
	attrTable   = "tbl"
	attrMapping = "mapping"

	// batchGetLimit is the BatchGetItem key limit per request.
	batchGetLimit = 100

	// maxUnprocessedBackoff caps the wait before re-requesting unprocessed keys.
	maxUnprocessedBackoff = 2 * time.Second
)

// DynamoDBAPI is the subset of the DynamoDB client the store uses.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoDBStore implements core.Backend on DynamoDB. Each logical table is a
// DynamoDB table {namespace}_{table} keyed by "id" with a numeric "gen" and a
// msgpack "doc"; mappings live in {namespace}__mappings.
type DynamoDBStore struct {
	client      DynamoDBAPI
	namespace   string
	logger      *slog.Logger
	waitTimeout time.Duration
	retryBase   time.Duration
	closed      atomic.Bool
}

// NewDynamoDBStore wraps a client. A nil logger uses slog.Default().
func NewDynamoDBStore(client DynamoDBAPI, namespace string, logger *slog.Logger) *DynamoDBStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DynamoDBStore{
		client:      client,
		namespace:   namespace,
		logger:      logger.With(slog.String("component", dynamoType)),
		waitTimeout: 2 * time.Minute,
		retryBase:   50 * time.Millisecond,
	}
}

// Type implements core.Backend.
func (d *DynamoDBStore) Type() string { return dynamoType }

// KeyFor implements core.Backend.
func (d *DynamoDBStore) KeyFor(table, id string) core.Key {
	return core.Key{Namespace: d.namespace, Table: table, ID: id}
}

func (d *DynamoDBStore) tableName(table string) string {
	if d.namespace == "" {
		return table
	}
	return d.namespace + "_" + table
}

func (d *DynamoDBStore) catalogName() string {
	return d.tableName("_mappings")
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attrID: &types.AttributeValueMemberS{Value: id}}
}

// Put implements core.Backend with a single conditional UpdateItem that
// replaces the document and increments the generation.
func (d *DynamoDBStore) Put(ctx context.Context, table, id string, doc map[string]any, opts core.PutOptions) (*core.Record, error) {
	if err := d.checkOpen("put"); err != nil {
		return nil, err
	}
	blob, err := encodeDoc(doc)
	if err != nil {
		return nil, core.NewBackendError(core.KindBackendFailure, dynamoType, "put", "", err)
	}

	names := map[string]string{"#doc": attrDoc, "#gen": attrGen}
	values := map[string]types.AttributeValue{
		":doc": &types.AttributeValueMemberB{Value: blob},
		":one": &types.AttributeValueMemberN{Value: "1"},
	}
	var conds []string
	switch opts.Mode {
	case core.WriteModeCreate:
		conds = append(conds, "attribute_not_exists(#id)")
		names["#id"] = attrID
	case core.WriteModeUpdate:
		conds = append(conds, "attribute_exists(#id)")
		names["#id"] = attrID
	}
	if opts.ExpectedGeneration != nil {
		conds = append(conds, "#gen = :expected")
		values[":expected"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(*opts.ExpectedGeneration, 10)}
	}

	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.tableName(table)),
		Key:                       idKey(id),
		UpdateExpression:          aws.String("SET #doc = :doc ADD #gen :one"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueUpdatedNew,
	}
	if len(conds) > 0 {
		input.ConditionExpression = aws.String(strings.Join(conds, " AND "))
		input.ReturnValuesOnConditionCheckFailure = types.ReturnValuesOnConditionCheckFailureAllOld
	}

	out, err := d.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, core.NewBackendError(putConflictKind(opts, ccf.Item), dynamoType, "put", "ConditionalCheckFailedException", err)
		}
		return nil, d.fail("put", err)
	}
	gen, err := numberAttr(out.Attributes, attrGen)
	if err != nil {
		return nil, core.NewBackendError(core.KindBackendFailure, dynamoType, "put", "", err)
	}
	return &core.Record{Key: d.KeyFor(table, id), Generation: gen, Doc: doc}, nil
}

// putConflictKind tells which condition failed from the old item.
func putConflictKind(opts core.PutOptions, old map[string]types.AttributeValue) core.ErrorKind {
	switch {
	case opts.Mode == core.WriteModeCreate && len(old) > 0:
		return core.KindRecordExists
	case opts.Mode == core.WriteModeUpdate && len(old) == 0:
		return core.KindRecordNotFound
	default:
		return core.KindGenerationConflict
	}
}

// Get implements core.Backend.
func (d *DynamoDBStore) Get(ctx context.Context, table, id string, fields []string) (*core.Record, error) {
	if err := d.checkOpen("get"); err != nil {
		return nil, err
	}
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName(table)),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, d.fail("get", err)
	}
	if len(out.Item) == 0 {
		return nil, core.NewBackendError(core.KindRecordNotFound, dynamoType, "get", "", nil)
	}
	rec, err := d.recordFrom(table, out.Item)
	if err != nil {
		return nil, core.NewBackendError(core.KindBackendFailure, dynamoType, "get", "", err)
	}
	rec.Doc = core.Project(rec.Doc, fields)
	return rec, nil
}

// GetMany implements core.Backend with BatchGetItem in chunks, retrying
// unprocessed keys with exponential backoff.
func (d *DynamoDBStore) GetMany(ctx context.Context, table string, ids []string, fields []string) ([]*core.Record, error) {
	if err := d.checkOpen("get_many"); err != nil {
		return nil, err
	}
	name := d.tableName(table)
	found := make(map[string]*core.Record, len(ids))

	for start := 0; start < len(ids); start += batchGetLimit {
		end := min(start+batchGetLimit, len(ids))
		seen := make(map[string]bool)
		keys := make([]map[string]types.AttributeValue, 0, end-start)
		for _, id := range ids[start:end] {
			if seen[id] {
				continue
			}
			seen[id] = true
			keys = append(keys, idKey(id))
		}

		request := map[string]types.KeysAndAttributes{
			name: {Keys: keys, ConsistentRead: aws.Bool(true)},
		}
		backoff := d.retryBase
		for len(request) > 0 {
			out, err := d.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
			if err != nil {
				return nil, d.fail("get_many", err)
			}
			for _, item := range out.Responses[name] {
				rec, err := d.recordFrom(table, item)
				if err != nil {
					return nil, core.NewBackendError(core.KindBackendFailure, dynamoType, "get_many", "", err)
				}
				found[rec.Key.ID] = rec
			}
			request = out.UnprocessedKeys
			if len(request) == 0 {
				break
			}
			d.logger.DebugContext(ctx, "retrying unprocessed keys",
				slog.Int("keys", len(request[name].Keys)),
				slog.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return nil, d.fail("get_many", ctx.Err())
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxUnprocessedBackoff)
		}
	}

	recs := make([]*core.Record, len(ids))
	for i, id := range ids {
		rec, ok := found[id]
		if !ok {
			continue
		}
		cp := *rec
		cp.Doc = core.Project(rec.Doc, fields)
		recs[i] = &cp
	}
	return recs, nil
}

// Delete implements core.Backend.
func (d *DynamoDBStore) Delete(ctx context.Context, key core.Key) error {
	if err := d.checkOpen("delete"); err != nil {
		return err
	}
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(d.tableName(key.Table)),
		Key:                      idKey(key.ID),
		ConditionExpression:      aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": attrID},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return core.NewBackendError(core.KindRecordNotFound, dynamoType, "delete", "ConditionalCheckFailedException", err)
		}
		return d.fail("delete", err)
	}
	return nil
}

// Exists implements core.Backend.
func (d *DynamoDBStore) Exists(ctx context.Context, table, id string) (bool, error) {
	if err := d.checkOpen("exists"); err != nil {
		return false, err
	}
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(d.tableName(table)),
		Key:                      idKey(id),
		ProjectionExpression:     aws.String("#id"),
		ExpressionAttributeNames: map[string]string{"#id": attrID},
	})
	if err != nil {
		return false, d.fail("exists", err)
	}
	return len(out.Item) > 0, nil
}

// Scan implements core.Backend.
func (d *DynamoDBStore) Scan(ctx context.Context, table string, fields []string) (core.Cursor, error) {
	return d.Query(ctx, table, nil, fields)
}

// Query implements core.Backend. Pages come from a paginated Scan and are
// filtered client-side.
func (d *DynamoDBStore) Query(ctx context.Context, table string, pred core.Predicate, fields []string) (core.Cursor, error) {
	if err := d.checkOpen("query"); err != nil {
		return nil, err
	}
	return &dynamoCursor{
		store:  d,
		table:  table,
		pred:   pred,
		fields: fields,
		pages:  dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{
			TableName:      aws.String(d.tableName(table)),
			ConsistentRead: aws.Bool(true),
		}),
	}, nil
}

// CreateStore creates the mapping catalog table if it is absent.
func (d *DynamoDBStore) CreateStore(ctx context.Context) error {
	if err := d.checkOpen("create_store"); err != nil {
		return err
	}
	return d.ensureTable(ctx, "create_store", d.catalogName(), attrTable)
}

// CreateTable creates the record table if absent and writes its mapping to
// the catalog.
func (d *DynamoDBStore) CreateTable(ctx context.Context, table string, mapping core.Mapping) error {
	if err := d.checkOpen("create_table"); err != nil {
		return err
	}
	if err := d.ensureTable(ctx, "create_table", d.tableName(table), attrID); err != nil {
		return err
	}

	fields := make(map[string]types.AttributeValue)
	for k, v := range encodeMapping(mapping) {
		fields[k] = &types.AttributeValueMemberS{Value: v}
	}
	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.catalogName()),
		Item: map[string]types.AttributeValue{
			attrTable:   &types.AttributeValueMemberS{Value: table},
			attrMapping: &types.AttributeValueMemberM{Value: fields},
		},
	})
	if err != nil {
		return d.fail("create_table", err)
	}
	d.logger.InfoContext(ctx, "installed mapping", slog.String("table", table), slog.Int("fields", len(mapping.Fields)))
	return nil
}

// Mapping returns the installed mapping of table.
func (d *DynamoDBStore) Mapping(ctx context.Context, table string) (core.Mapping, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.catalogName()),
		Key:       map[string]types.AttributeValue{attrTable: &types.AttributeValueMemberS{Value: table}},
	})
	if err != nil {
		return core.Mapping{}, d.fail("mapping", err)
	}
	m, ok := out.Item[attrMapping].(*types.AttributeValueMemberM)
	if !ok {
		return core.Mapping{}, core.NewBackendError(core.KindStoreNotFound, dynamoType, "mapping", "", nil)
	}
	raw := make(map[string]string, len(m.Value))
	for k, v := range m.Value {
		if s, ok := v.(*types.AttributeValueMemberS); ok {
			raw[k] = s.Value
		}
	}
	return decodeMapping(table, raw), nil
}

func (d *DynamoDBStore) ensureTable(ctx context.Context, op, name, hashKey string) error {
	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
	if err == nil {
		return nil
	}
	var rnf *types.ResourceNotFoundException
	if !errors.As(err, &rnf) {
		return d.fail(op, err)
	}

	d.logger.InfoContext(ctx, "creating table", slog.String("dynamo_table", name))
	_, err = d.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(name),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(hashKey), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(hashKey), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return d.fail(op, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(d.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)}, d.waitTimeout); err != nil {
		return d.fail(op, err)
	}
	return nil
}

func (d *DynamoDBStore) recordFrom(table string, item map[string]types.AttributeValue) (*core.Record, error) {
	id, ok := item[attrID].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("item without %q attribute", attrID)
	}
	gen, err := numberAttr(item, attrGen)
	if err != nil {
		return nil, err
	}
	blob, ok := item[attrDoc].(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("item %s without %q attribute", id.Value, attrDoc)
	}
	doc, err := decodeDoc(blob.Value)
	if err != nil {
		return nil, err
	}
	return &core.Record{Key: d.KeyFor(table, id.Value), Generation: gen, Doc: doc}, nil
}

func numberAttr(item map[string]types.AttributeValue, name string) (int64, error) {
	n, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("missing numeric %q attribute", name)
	}
	return strconv.ParseInt(n.Value, 10, 64)
}

// Close marks the store closed. The SDK client holds no connection to release.
func (d *DynamoDBStore) Close() error {
	d.closed.Store(true)
	return nil
}

func (d *DynamoDBStore) checkOpen(op string) error {
	if d.closed.Load() {
		return core.NewBackendError(core.KindBackendFailure, dynamoType, op, "", errors.New("store is closed"))
	}
	return nil
}

// fail maps an SDK error to a backend error carrying the API error code.
func (d *DynamoDBStore) fail(op string, err error) error {
	kind := core.KindBackendFailure
	var rnf *types.ResourceNotFoundException
	if errors.As(err, &rnf) {
		kind = core.KindStoreNotFound
	}
	code := ""
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
	}
	return core.NewBackendError(kind, dynamoType, op, code, err)
}

type dynamoCursor struct {
	store  *DynamoDBStore
	table  string
	pred   core.Predicate
	fields []string
	pages  *dynamodb.ScanPaginator

	closed bool
	buf    []*core.Record
	cur    *core.Record
	err    error
}

func (c *dynamoCursor) Next(ctx context.Context) bool {
	for len(c.buf) == 0 {
		if c.closed || c.err != nil || !c.pages.HasMorePages() {
			c.cur = nil
			return false
		}
		page, err := c.pages.NextPage(ctx)
		if err != nil {
			c.err = c.store.fail("scan", err)
			c.cur = nil
			return false
		}
		for _, item := range page.Items {
			rec, err := c.store.recordFrom(c.table, item)
			if err != nil {
				c.err = core.NewBackendError(core.KindBackendFailure, dynamoType, "scan", "", err)
				return false
			}
			if c.pred != nil && !core.Match(c.pred, rec.Doc) {
				continue
			}
			rec.Doc = core.Project(rec.Doc, c.fields)
			c.buf = append(c.buf, rec)
		}
	}
	c.cur = c.buf[0]
	c.buf = c.buf[1:]
	return true
}

func (c *dynamoCursor) Record() *core.Record { return c.cur }

func (c *dynamoCursor) Err() error { return c.err }

func (c *dynamoCursor) Close() error {
	c.closed = true
	c.buf = nil
	return nil
}

// DynamoDBFactory creates DynamoDB stores from configuration.
type DynamoDBFactory struct{}

// Type returns the type identifier for this factory.
func (f *DynamoDBFactory) Type() string {
	return dynamoType
}

// Validate validates the DynamoDB-specific configuration.
func (f *DynamoDBFactory) Validate(config *registry.InternalConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	dc := config.Backend.DynamoDB
	if dc.Region == "" {
		return fmt.Errorf("region is required for DynamoDB")
	}
	if (dc.AccessKeyID == "") != (dc.SecretAccessKey == "") {
		return fmt.Errorf("access_key_id and secret_access_key must be set together")
	}
	if strings.ContainsAny(config.Namespace, ":/ ") {
		return fmt.Errorf("namespace %q is not a valid DynamoDB table prefix", config.Namespace)
	}
	return nil
}

// Create loads the AWS configuration and builds a client. Static
// credentials and a custom endpoint (e.g. LocalStack) are optional.
func (f *DynamoDBFactory) Create(config *registry.InternalConfig, logger *slog.Logger) (core.Backend, error) {
	dc := config.Backend.DynamoDB

	ctx, cancel := context.WithTimeout(context.Background(), config.Backend.DialTimeout)
	defer cancel()

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(dc.Region),
		awsconfig.WithRetryMaxAttempts(config.Backend.MaxRetries + 1),
	}
	if dc.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(dc.AccessKeyID, dc.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOptions []func(*dynamodb.Options)
	if dc.Endpoint != "" {
		clientOptions = append(clientOptions, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(dc.Endpoint)
		})
	}
	return NewDynamoDBStore(dynamodb.NewFromConfig(cfg, clientOptions...), config.Namespace, logger), nil
}

func init() {
	backend.RegisterFactory(&DynamoDBFactory{})
}

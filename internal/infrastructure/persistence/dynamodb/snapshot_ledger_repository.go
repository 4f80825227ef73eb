package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dreschagin/desertyard/internal/application/port"
)

const (
	attrPK          = "PK"
	attrSK          = "SK"
	attrSourceID    = "source_id"
	attrObjectKey   = "object_key"
	attrDigest      = "digest"
	attrSizeBytes   = "size_bytes"
	attrFirstSeenAt = "first_seen_at"
)

type Config struct {
	TableName       string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// API is the subset of the DynamoDB client used by the ledger.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// SnapshotLedgerRepository implements port.SnapshotLedger. One item per
// (source, digest); the first write wins so first_seen_at never moves.
type SnapshotLedgerRepository struct {
	client    API
	tableName string
}

func NewSnapshotLedgerRepository(ctx context.Context, cfg Config) (*SnapshotLedgerRepository, error) {
	if strings.TrimSpace(cfg.TableName) == "" {
		return nil, fmt.Errorf("dynamodb table name is required")
	}

	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	accessKeyID := strings.TrimSpace(cfg.AccessKeyID)
	secretAccessKey := strings.TrimSpace(cfg.SecretAccessKey)
	if accessKeyID != "" || secretAccessKey != "" {
		if accessKeyID == "" || secretAccessKey == "" {
			return nil, fmt.Errorf("both dynamodb access key id and secret access key are required for static credentials")
		}
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID,
			secretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws config for dynamodb: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(options *dynamodb.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			options.BaseEndpoint = &endpoint
		}
	})

	return NewSnapshotLedgerRepositoryWithClient(client, cfg.TableName), nil
}

func NewSnapshotLedgerRepositoryWithClient(client API, tableName string) *SnapshotLedgerRepository {
	return &SnapshotLedgerRepository{
		client:    client,
		tableName: strings.TrimSpace(tableName),
	}
}

func (r *SnapshotLedgerRepository) Record(ctx context.Context, record port.SnapshotRecord) (bool, error) {
	item, err := toItem(record)
	if err != nil {
		return false, err
	}

	condition := "attribute_not_exists(#pk)"
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                &r.tableName,
		Item:                     item,
		ConditionExpression:      &condition,
		ExpressionAttributeNames: map[string]string{"#pk": attrPK},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return false, nil
		}
		return false, fmt.Errorf("dynamodb put item failed: %w", err)
	}

	return true, nil
}

func toItem(record port.SnapshotRecord) (map[string]types.AttributeValue, error) {
	sourceID := strings.TrimSpace(record.SourceID)
	digest := strings.TrimSpace(record.Digest)
	if sourceID == "" {
		return nil, fmt.Errorf("source_id is required")
	}
	if digest == "" {
		return nil, fmt.Errorf("digest is required")
	}
	if strings.TrimSpace(record.Key) == "" {
		return nil, fmt.Errorf("object key is required")
	}

	firstSeen := record.FirstSeenAt.UTC()
	if firstSeen.IsZero() {
		firstSeen = time.Now().UTC()
	}

	return map[string]types.AttributeValue{
		attrPK:          &types.AttributeValueMemberS{Value: buildPK(sourceID)},
		attrSK:          &types.AttributeValueMemberS{Value: buildSK(digest)},
		attrSourceID:    &types.AttributeValueMemberS{Value: sourceID},
		attrObjectKey:   &types.AttributeValueMemberS{Value: record.Key},
		attrDigest:      &types.AttributeValueMemberS{Value: digest},
		attrSizeBytes:   &types.AttributeValueMemberN{Value: strconv.FormatInt(record.SizeBytes, 10)},
		attrFirstSeenAt: &types.AttributeValueMemberN{Value: strconv.FormatInt(firstSeen.UnixMilli(), 10)},
	}, nil
}

func fromItem(item map[string]types.AttributeValue) (port.SnapshotRecord, error) {
	sourceID, err := attrString(item, attrSourceID)
	if err != nil {
		return port.SnapshotRecord{}, err
	}
	key, err := attrString(item, attrObjectKey)
	if err != nil {
		return port.SnapshotRecord{}, err
	}
	digest, err := attrString(item, attrDigest)
	if err != nil {
		return port.SnapshotRecord{}, err
	}
	firstSeenMS, err := attrInt64(item, attrFirstSeenAt)
	if err != nil {
		return port.SnapshotRecord{}, err
	}
	size, err := attrInt64(item, attrSizeBytes)
	if err != nil {
		return port.SnapshotRecord{}, err
	}

	return port.SnapshotRecord{
		SourceID:    sourceID,
		Key:         key,
		Digest:      digest,
		SizeBytes:   size,
		FirstSeenAt: time.UnixMilli(firstSeenMS).UTC(),
	}, nil
}

func buildPK(sourceID string) string {
	return "SOURCE#" + sourceID
}

func buildSK(digest string) string {
	return "DIGEST#" + digest
}

func attrString(item map[string]types.AttributeValue, name string) (string, error) {
	raw, ok := item[name]
	if !ok {
		return "", fmt.Errorf("missing attribute %s", name)
	}
	value, ok := raw.(*types.AttributeValueMemberS)
	if !ok || strings.TrimSpace(value.Value) == "" {
		return "", fmt.Errorf("invalid attribute %s", name)
	}
	return value.Value, nil
}

func attrInt64(item map[string]types.AttributeValue, name string) (int64, error) {
	raw, ok := item[name]
	if !ok {
		return 0, fmt.Errorf("missing attribute %s", name)
	}
	value, ok := raw.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("invalid attribute %s", name)
	}
	parsed, err := strconv.ParseInt(value.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid attribute %s: %w", name, err)
	}
	return parsed, nil
}

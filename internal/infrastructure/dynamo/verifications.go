package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/trinck-api/internal/domain"
)

// mutateRetries bounds optimistic-lock retries in Mutate.
const mutateRetries = 5

// VerificationRepo stores verification requests keyed by verification_id.
// Concurrent writers are serialized with a version attribute.
type VerificationRepo struct {
	client    api
	tableName string
}

func NewVerificationRepo(client api, tableName string) *VerificationRepo {
	return &VerificationRepo{client: client, tableName: tableName}
}

func (r *VerificationRepo) Create(ctx context.Context, v *domain.VerificationRequest) error {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return fmt.Errorf("marshal verification: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": fieldVerificationID},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("verification %s exists: %w", v.ID, domain.ErrConflict)
	}
	return err
}

func (r *VerificationRepo) Get(ctx context.Context, verificationID string) (*domain.VerificationRequest, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldVerificationID, verificationID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("verification not found: %w", domain.ErrNotFound)
	}
	var v domain.VerificationRequest
	if err := attributevalue.UnmarshalMap(out.Item, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Mutate reads the record, applies fn, and writes it back only if no other
// writer bumped the version in between. fn may run more than once.
func (r *VerificationRepo) Mutate(ctx context.Context, verificationID string, fn func(*domain.VerificationRequest) error) (*domain.VerificationRequest, error) {
	for i := 0; i < mutateRetries; i++ {
		cur, err := r.Get(ctx, verificationID)
		if err != nil {
			return nil, err
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			if errors.Is(err, domain.ErrNoChange) {
				return cur, nil
			}
			return nil, err
		}
		next.Version = cur.Version + 1
		item, err := attributevalue.MarshalMap(next)
		if err != nil {
			return nil, fmt.Errorf("marshal verification: %w", err)
		}
		_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                aws.String(r.tableName),
			Item:                     item,
			ConditionExpression:      aws.String("#ver = :ver"),
			ExpressionAttributeNames: map[string]string{"#ver": fieldVersion},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":ver": &types.AttributeValueMemberN{Value: strconv.FormatInt(cur.Version, 10)},
			},
		})
		if err == nil {
			return next, nil
		}
		if !isConditionFailed(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("verification %s: concurrent update: %w", verificationID, domain.ErrConflict)
}

// DeleteExpired removes records whose TTL has passed. DynamoDB TTL deletion
// lags by up to a day, so the sweep does not rely on it.
func (r *VerificationRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	nowUnix := &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)}
	n := 0
	var start map[string]types.AttributeValue
	for {
		out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(r.tableName),
			FilterExpression:          aws.String("#exp < :now"),
			ProjectionExpression:      aws.String("#id"),
			ExpressionAttributeNames:  map[string]string{"#exp": fieldExpiresAt, "#id": fieldVerificationID},
			ExpressionAttributeValues: map[string]types.AttributeValue{":now": nowUnix},
			ExclusiveStartKey:         start,
		})
		if err != nil {
			return n, err
		}
		for _, item := range out.Items {
			_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName:                 aws.String(r.tableName),
				Key:                       strKey(fieldVerificationID, stringAttr(item, fieldVerificationID)),
				ConditionExpression:       aws.String("#exp < :now"),
				ExpressionAttributeNames:  map[string]string{"#exp": fieldExpiresAt},
				ExpressionAttributeValues: map[string]types.AttributeValue{":now": nowUnix},
			})
			if err != nil {
				if isConditionFailed(err) {
					continue
				}
				return n, err
			}
			n++
		}
		if len(out.LastEvaluatedKey) == 0 {
			return n, nil
		}
		start = out.LastEvaluatedKey
	}
}

package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/trinck-api/internal/domain"
)

// SessionRepo stores session records keyed by their opaque token.
type SessionRepo struct {
	client    api
	tableName string
}

func NewSessionRepo(client api, tableName string) *SessionRepo {
	return &SessionRepo{client: client, tableName: tableName}
}

func (r *SessionRepo) Put(ctx context.Context, rec *domain.SessionRecord) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#tok)"),
		ExpressionAttributeNames: map[string]string{"#tok": fieldToken},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("session token exists: %w", domain.ErrConflict)
	}
	return err
}

func (r *SessionRepo) Get(ctx context.Context, token string) (*domain.SessionRecord, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldToken, token),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("session not found: %w", domain.ErrNotFound)
	}
	var rec domain.SessionRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Touch slides last_activity to now if the session was active after cutoff.
// The write is conditioned on the value read so a concurrent sweep wins.
func (r *SessionRepo) Touch(ctx context.Context, token string, now, cutoff time.Time) (*domain.SessionRecord, error) {
	rec, err := r.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if rec.IdleSince(cutoff) {
		return nil, fmt.Errorf("session idle: %w", domain.ErrSessionInvalid)
	}
	prev, err := attributevalue.Marshal(rec.LastActivity)
	if err != nil {
		return nil, err
	}
	next, err := attributevalue.Marshal(now)
	if err != nil {
		return nil, err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      strKey(fieldToken, token),
		UpdateExpression:         aws.String("SET #la = :now"),
		ConditionExpression:      aws.String("#la = :prev"),
		ExpressionAttributeNames: map[string]string{"#la": fieldLastActivity},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":  next,
			":prev": prev,
		},
	})
	if isConditionFailed(err) {
		// Removed or touched concurrently; re-read to decide which.
		return r.Get(ctx, token)
	}
	if err != nil {
		return nil, err
	}
	rec.LastActivity = now
	return rec, nil
}

func (r *SessionRepo) Delete(ctx context.Context, token string) (bool, error) {
	out, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(r.tableName),
		Key:          strKey(fieldToken, token),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, err
	}
	return len(out.Attributes) > 0, nil
}

// Rotate deletes oldToken and inserts next in one transaction.
func (r *SessionRepo) Rotate(ctx context.Context, oldToken string, next *domain.SessionRecord) error {
	item, err := attributevalue.MarshalMap(next)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Delete: &types.Delete{
				TableName:                aws.String(r.tableName),
				Key:                      strKey(fieldToken, oldToken),
				ConditionExpression:      aws.String("attribute_exists(#tok)"),
				ExpressionAttributeNames: map[string]string{"#tok": fieldToken},
			}},
			{Put: &types.Put{
				TableName:                aws.String(r.tableName),
				Item:                     item,
				ConditionExpression:      aws.String("attribute_not_exists(#tok)"),
				ExpressionAttributeNames: map[string]string{"#tok": fieldToken},
			}},
		},
	})
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		reasons := tce.CancellationReasons
		if len(reasons) > 0 && aws.ToString(reasons[0].Code) == "ConditionalCheckFailed" {
			return fmt.Errorf("session not found: %w", domain.ErrNotFound)
		}
		if len(reasons) > 1 && aws.ToString(reasons[1].Code) == "ConditionalCheckFailed" {
			return fmt.Errorf("session token exists: %w", domain.ErrConflict)
		}
	}
	return err
}

func (r *SessionRepo) ListByIdentity(ctx context.Context, identityID string) ([]domain.SessionRecord, error) {
	var out []domain.SessionRecord
	var start map[string]types.AttributeValue
	for {
		page, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                aws.String(r.tableName),
			IndexName:                aws.String(indexIdentityID),
			KeyConditionExpression:   aws.String("#iid = :iid"),
			ExpressionAttributeNames: map[string]string{"#iid": fieldIdentityID},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":iid": &types.AttributeValueMemberS{Value: identityID},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, err
		}
		var recs []domain.SessionRecord
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, err
		}
		out = append(out, recs...)
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		start = page.LastEvaluatedKey
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteIdleSince scans for idle sessions and removes each one unless it
// was touched after the scan read it.
func (r *SessionRepo) DeleteIdleSince(ctx context.Context, cutoff time.Time) ([]domain.SessionRecord, error) {
	var removed []domain.SessionRecord
	var start map[string]types.AttributeValue
	for {
		page, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(r.tableName),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return removed, err
		}
		var recs []domain.SessionRecord
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return removed, err
		}
		for i := range recs {
			if !recs[i].IdleSince(cutoff) {
				continue
			}
			ok, err := r.deleteIfUnchanged(ctx, &recs[i])
			if err != nil {
				return removed, err
			}
			if ok {
				removed = append(removed, recs[i])
			}
		}
		if len(page.LastEvaluatedKey) == 0 {
			return removed, nil
		}
		start = page.LastEvaluatedKey
	}
}

func (r *SessionRepo) deleteIfUnchanged(ctx context.Context, rec *domain.SessionRecord) (bool, error) {
	prev, err := attributevalue.Marshal(rec.LastActivity)
	if err != nil {
		return false, err
	}
	_, err = r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldToken, rec.Token),
		ConditionExpression:       aws.String("#la = :prev"),
		ExpressionAttributeNames:  map[string]string{"#la": fieldLastActivity},
		ExpressionAttributeValues: map[string]types.AttributeValue{":prev": prev},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	return err == nil, err
}

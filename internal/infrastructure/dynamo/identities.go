package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/trinck-api/internal/domain"
)

// updatableIdentityFields lists the attributes Update accepts.
var updatableIdentityFields = map[string]bool{
	fieldEmailConfirmed: true,
	fieldPhoneConfirmed: true,
	fieldGoogleSub:      true,
	fieldName:           true,
}

// IdentityRepo provides typed DynamoDB operations for the identities table.
type IdentityRepo struct {
	client    api
	tableName string
}

func NewIdentityRepo(client api, tableName string) *IdentityRepo {
	return &IdentityRepo{client: client, tableName: tableName}
}

// Put inserts a new identity. Email and phone uniqueness is checked through
// their GSIs before the conditional put.
func (r *IdentityRepo) Put(ctx context.Context, ident *domain.Identity) error {
	if ident.Email != "" {
		if err := r.ensureAbsent(ctx, indexEmail, fieldEmail, ident.Email); err != nil {
			return err
		}
	}
	if ident.Phone != "" {
		if err := r.ensureAbsent(ctx, indexPhone, fieldPhone, ident.Phone); err != nil {
			return err
		}
	}
	item, err := attributevalue.MarshalMap(ident)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": fieldIdentityID},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("identity exists: %w", domain.ErrConflict)
	}
	return err
}

func (r *IdentityRepo) Get(ctx context.Context, identityID string) (*domain.Identity, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(fieldIdentityID, identityID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("identity not found: %w", domain.ErrNotFound)
	}
	var ident domain.Identity
	if err := attributevalue.UnmarshalMap(out.Item, &ident); err != nil {
		return nil, err
	}
	return &ident, nil
}

func (r *IdentityRepo) GetByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	return r.queryGSI(ctx, indexEmail, fieldEmail, email)
}

func (r *IdentityRepo) GetByPhone(ctx context.Context, phone string) (*domain.Identity, error) {
	return r.queryGSI(ctx, indexPhone, fieldPhone, phone)
}

func (r *IdentityRepo) Update(ctx context.Context, identityID string, updates map[string]interface{}) error {
	for k := range updates {
		if !updatableIdentityFields[k] {
			return fmt.Errorf("field %s not updatable: %w", k, domain.ErrBadRequest)
		}
	}
	fields := make(map[string]interface{}, len(updates)+1)
	for k, v := range updates {
		fields[k] = v
	}
	fields[fieldUpdatedAt] = time.Now().UTC()
	ue, err := buildUpdateExpr(fields)
	if err != nil {
		return err
	}
	ue.Names["#pk"] = fieldIdentityID
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldIdentityID, identityID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(#pk)"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if isConditionFailed(err) {
		return fmt.Errorf("identity not found: %w", domain.ErrNotFound)
	}
	return err
}

func (r *IdentityRepo) ensureAbsent(ctx context.Context, index, attr, value string) error {
	_, err := r.queryGSI(ctx, index, attr, value)
	if err == nil {
		return fmt.Errorf("identity with %s exists: %w", attr, domain.ErrConflict)
	}
	if domainNotFound(err) {
		return nil
	}
	return err
}

func (r *IdentityRepo) queryGSI(ctx context.Context, index, attr, value string) (*domain.Identity, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    aws.String("#a = :v"),
		ExpressionAttributeNames:  map[string]string{"#a": attr},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: value}},
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("identity not found: %w", domain.ErrNotFound)
	}
	var ident domain.Identity
	if err := attributevalue.UnmarshalMap(out.Items[0], &ident); err != nil {
		return nil, err
	}
	return &ident, nil
}

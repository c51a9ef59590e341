package dynamo

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/trinck-api/internal/domain"
)

type mockAPI struct{ mock.Mock }

func (m *mockAPI) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.GetItemOutput)
	return out, args.Error(1)
}

func (m *mockAPI) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.PutItemOutput)
	return out, args.Error(1)
}

func (m *mockAPI) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.UpdateItemOutput)
	return out, args.Error(1)
}

func (m *mockAPI) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.DeleteItemOutput)
	return out, args.Error(1)
}

func (m *mockAPI) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.QueryOutput)
	return out, args.Error(1)
}

func (m *mockAPI) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.ScanOutput)
	return out, args.Error(1)
}

func (m *mockAPI) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.TransactWriteItemsOutput)
	return out, args.Error(1)
}

func verificationItem(t *testing.T, version int64) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(&domain.VerificationRequest{
		ID: "v1", Destination: "919876543210", Type: domain.DestinationPhone,
		State: domain.StatePending, Version: version,
	})
	require.NoError(t, err)
	return item
}

func TestVerificationRepo_Mutate_RetriesOnVersionConflict(t *testing.T) {
	m := new(mockAPI)
	r := NewVerificationRepo(m, "verifications")

	m.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: verificationItem(t, 1)}, nil).Once()
	m.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: verificationItem(t, 2)}, nil).Once()
	m.On("PutItem", mock.Anything, mock.Anything).Return(nil, &types.ConditionalCheckFailedException{}).Once()
	m.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		v, ok := in.ExpressionAttributeValues[":ver"].(*types.AttributeValueMemberN)
		return ok && v.Value == "2"
	})).Return(&dynamodb.PutItemOutput{}, nil).Once()

	calls := 0
	got, err := r.Mutate(context.Background(), "v1", func(v *domain.VerificationRequest) error {
		calls++
		v.Attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(3), got.Version)
	assert.Equal(t, 1, got.Attempts)
	m.AssertExpectations(t)
}

func TestVerificationRepo_Mutate_NoChangeSkipsWrite(t *testing.T) {
	m := new(mockAPI)
	r := NewVerificationRepo(m, "verifications")
	m.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: verificationItem(t, 4)}, nil)

	got, err := r.Mutate(context.Background(), "v1", func(*domain.VerificationRequest) error { return domain.ErrNoChange })
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Version)
	m.AssertNotCalled(t, "PutItem", mock.Anything, mock.Anything)
}

func TestVerificationRepo_Get_NotFound(t *testing.T) {
	m := new(mockAPI)
	r := NewVerificationRepo(m, "verifications")
	m.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

	_, err := r.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSessionRepo_Rotate_MapsCancellationReasons(t *testing.T) {
	cases := []struct {
		name    string
		reasons []types.CancellationReason
		want    error
	}{
		{"old token gone", []types.CancellationReason{{Code: aws.String("ConditionalCheckFailed")}, {Code: aws.String("None")}}, domain.ErrNotFound},
		{"new token taken", []types.CancellationReason{{Code: aws.String("None")}, {Code: aws.String("ConditionalCheckFailed")}}, domain.ErrConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := new(mockAPI)
			r := NewSessionRepo(m, "sessions")
			m.On("TransactWriteItems", mock.Anything, mock.Anything).
				Return(nil, &types.TransactionCanceledException{CancellationReasons: tc.reasons})

			err := r.Rotate(context.Background(), "old", &domain.SessionRecord{Token: "new"})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSessionRepo_Delete_ReportsExistence(t *testing.T) {
	m := new(mockAPI)
	r := NewSessionRepo(m, "sessions")
	m.On("DeleteItem", mock.Anything, mock.Anything).Return(&dynamodb.DeleteItemOutput{
		Attributes: strKey(fieldToken, "tok"),
	}, nil).Once()
	m.On("DeleteItem", mock.Anything, mock.Anything).Return(&dynamodb.DeleteItemOutput{}, nil).Once()

	ok, err := r.Delete(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.Delete(context.Background(), "tok")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionRepo_Touch_IdleSessionRejected(t *testing.T) {
	m := new(mockAPI)
	r := NewSessionRepo(m, "sessions")
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	item, err := attributevalue.MarshalMap(&domain.SessionRecord{Token: "tok", LastActivity: now.Add(-48 * time.Hour)})
	require.NoError(t, err)
	m.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: item}, nil)

	_, err = r.Touch(context.Background(), "tok", now, now.Add(-24*time.Hour))
	assert.ErrorIs(t, err, domain.ErrSessionInvalid)
	m.AssertNotCalled(t, "UpdateItem", mock.Anything, mock.Anything)
}

func TestIdentityRepo_Update_RejectsImmutableField(t *testing.T) {
	r := NewIdentityRepo(new(mockAPI), "identities")
	err := r.Update(context.Background(), "id1", map[string]interface{}{"email": "x@y.z"})
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestIdentityRepo_Put_DuplicateEmail(t *testing.T) {
	m := new(mockAPI)
	r := NewIdentityRepo(m, "identities")
	existing, err := attributevalue.MarshalMap(&domain.Identity{IdentityID: "other", Email: "a@b.com"})
	require.NoError(t, err)
	m.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return aws.ToString(in.IndexName) == indexEmail
	})).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{existing}}, nil)

	err = r.Put(context.Background(), &domain.Identity{IdentityID: "new", Email: "a@b.com"})
	assert.ErrorIs(t, err, domain.ErrConflict)
	m.AssertNotCalled(t, "PutItem", mock.Anything, mock.Anything)
}

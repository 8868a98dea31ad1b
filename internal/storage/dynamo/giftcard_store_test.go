package dynamo

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cimillas/checkout-engine/internal/domain"
	"github.com/cimillas/checkout-engine/internal/redemption"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTable applies the store's condition expressions atomically under a
// mutex, the way DynamoDB serializes writes to one item.
type fakeTable struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newFakeTable() *fakeTable {
	return &fakeTable{items: map[string]map[string]types.AttributeValue{}}
}

func keyOf(key map[string]types.AttributeValue) string {
	return key["code"].(*types.AttributeValueMemberS).Value
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func (f *fakeTable) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	code := keyOf(in.Item)
	if _, exists := f.items[code]; exists {
		return nil, conditionFailed()
	}
	f.items[code] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeTable) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[keyOf(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return &dynamodb.GetItemOutput{Item: out}, nil
}

func (f *fakeTable) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[keyOf(in.Key)]
	if !ok {
		return nil, conditionFailed()
	}
	active := item["is_active"].(*types.AttributeValueMemberBOOL).Value
	balance := item["balance_cents"].(*types.AttributeValueMemberN).Value
	if !active || balance == "0" {
		return nil, conditionFailed()
	}
	v := in.ExpressionAttributeValues
	item["balance_cents"] = v[":zero"]
	item["is_active"] = v[":false"]
	item["redeemed_by"] = v[":user"]
	item["redeemed_at"] = v[":at"]
	return &dynamodb.UpdateItemOutput{}, nil
}

func newCard(code string) domain.GiftCard {
	amount := decimal.RequireFromString("25.00")
	return domain.GiftCard{
		ID: "gc-1", Code: code, Amount: amount, Balance: amount,
		Currency: "usd", IsActive: true, CreatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestGiftCardStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewGiftCardStore(newFakeTable(), "gift_cards")

	require.NoError(t, store.CreateGiftCard(ctx, newCard("ABC")))
	assert.ErrorIs(t, store.CreateGiftCard(ctx, newCard("ABC")), domain.ErrGiftCardExists)

	got, err := store.GetGiftCardByCode(ctx, "ABC")
	require.NoError(t, err)
	assert.Equal(t, "gc-1", got.ID)
	assert.Equal(t, "25.00", got.Balance.StringFixed(2))
	assert.True(t, got.Claimable())

	_, err = store.GetGiftCardByCode(ctx, "MISSING")
	assert.ErrorIs(t, err, domain.ErrGiftCardNotFound)
}

func TestGiftCardStore_UsesConditionalStrategy(t *testing.T) {
	guard := redemption.New(NewGiftCardStore(newFakeTable(), "gift_cards"))
	assert.Equal(t, redemption.StrategyConditional, guard.Strategy())
}

func TestGiftCardStore_ConcurrentRedeemOneWinner(t *testing.T) {
	ctx := context.Background()
	store := NewGiftCardStore(newFakeTable(), "gift_cards")
	require.NoError(t, store.CreateGiftCard(ctx, newCard("RACE")))
	guard := redemption.New(store)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := guard.Claim(ctx, redemption.Claim{Key: "RACE", UserID: "user-1", At: time.Now()})
			if err == nil {
				wins.Add(1)
			} else if !redemption.IsNotClaimable(err) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
	got, err := store.GetGiftCardByCode(ctx, "RACE")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.True(t, got.Balance.IsZero())
	assert.Equal(t, "user-1", got.RedeemedBy)
	assert.NotNil(t, got.RedeemedAt)
}

func TestGiftCardStore_UnknownCodeIsNotClaimable(t *testing.T) {
	store := NewGiftCardStore(newFakeTable(), "gift_cards")
	ok, err := store.ClaimIfClaimable(context.Background(), redemption.Claim{Key: "NOPE", UserID: "u", At: time.Now()})
	require.NoError(t, err)
	assert.False(t, ok)
}

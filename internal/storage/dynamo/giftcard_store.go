// Package dynamo stores gift cards in DynamoDB. The backend has no row
// locks, so redemption uses a single conditional update.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cimillas/checkout-engine/internal/domain"
	"github.com/cimillas/checkout-engine/internal/redemption"
	"github.com/shopspring/decimal"
)

// API is the subset of *dynamodb.Client the store calls.
type API interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

type giftCardItem struct {
	Code         string `dynamodbav:"code"`
	ID           string `dynamodbav:"id"`
	Amount       string `dynamodbav:"amount"`
	BalanceCents int64  `dynamodbav:"balance_cents"`
	Currency     string `dynamodbav:"currency"`
	IsActive     bool   `dynamodbav:"is_active"`
	RedeemedBy   string `dynamodbav:"redeemed_by,omitempty"`
	RedeemedAt   string `dynamodbav:"redeemed_at,omitempty"`
	CreatedAt    string `dynamodbav:"created_at"`
}

type GiftCardStore struct {
	client API
	table  string
}

func NewGiftCardStore(client API, table string) *GiftCardStore {
	return &GiftCardStore{client: client, table: table}
}

var _ redemption.Store = (*GiftCardStore)(nil)

func (s *GiftCardStore) CreateGiftCard(ctx context.Context, card domain.GiftCard) error {
	av, err := attributevalue.MarshalMap(giftCardItem{
		Code:         card.Code,
		ID:           card.ID,
		Amount:       card.Amount.StringFixed(2),
		BalanceCents: domain.ToMinorUnits(card.Balance),
		Currency:     card.Currency,
		IsActive:     card.IsActive,
		CreatedAt:    card.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal gift card: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.table),
		Item:                     av,
		ConditionExpression:      aws.String("attribute_not_exists(#code)"),
		ExpressionAttributeNames: map[string]string{"#code": "code"},
	})
	if err != nil {
		if isConditionFailed(err) {
			return domain.ErrGiftCardExists
		}
		return fmt.Errorf("put gift card: %w", err)
	}
	return nil
}

func (s *GiftCardStore) GetGiftCardByCode(ctx context.Context, code string) (domain.GiftCard, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            codeKey(code),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.GiftCard{}, fmt.Errorf("get gift card: %w", err)
	}
	if len(out.Item) == 0 {
		return domain.GiftCard{}, domain.ErrGiftCardNotFound
	}

	var item giftCardItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return domain.GiftCard{}, fmt.Errorf("unmarshal gift card: %w", err)
	}
	return item.toDomain()
}

// ClaimIfClaimable drains the card only if it is active with a positive
// balance at write time.
func (s *GiftCardStore) ClaimIfClaimable(ctx context.Context, c redemption.Claim) (bool, error) {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 codeKey(c.Key),
		UpdateExpression:    aws.String("SET balance_cents = :zero, is_active = :false, redeemed_by = :user, redeemed_at = :at"),
		ConditionExpression: aws.String("attribute_exists(#code) AND is_active = :true AND balance_cents > :zero"),
		ExpressionAttributeNames: map[string]string{
			"#code": "code",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero":  &types.AttributeValueMemberN{Value: "0"},
			":true":  &types.AttributeValueMemberBOOL{Value: true},
			":false": &types.AttributeValueMemberBOOL{Value: false},
			":user":  &types.AttributeValueMemberS{Value: c.UserID},
			":at":    &types.AttributeValueMemberS{Value: c.At.UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("redeem gift card: %w", err)
	}
	return true, nil
}

func codeKey(code string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"code": &types.AttributeValueMemberS{Value: code},
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (i giftCardItem) toDomain() (domain.GiftCard, error) {
	amount, err := decimal.NewFromString(i.Amount)
	if err != nil {
		return domain.GiftCard{}, fmt.Errorf("parse gift card amount: %w", err)
	}
	card := domain.GiftCard{
		ID:         i.ID,
		Code:       i.Code,
		Amount:     amount,
		Balance:    decimal.New(i.BalanceCents, -2),
		Currency:   i.Currency,
		IsActive:   i.IsActive,
		RedeemedBy: i.RedeemedBy,
	}
	if i.CreatedAt != "" {
		if card.CreatedAt, err = time.Parse(time.RFC3339Nano, i.CreatedAt); err != nil {
			return domain.GiftCard{}, fmt.Errorf("parse gift card created_at: %w", err)
		}
	}
	if i.RedeemedAt != "" {
		at, err := time.Parse(time.RFC3339Nano, i.RedeemedAt)
		if err != nil {
			return domain.GiftCard{}, fmt.Errorf("parse gift card redeemed_at: %w", err)
		}
		card.RedeemedAt = &at
	}
	return card, nil
}

package notestore

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jun/secondbrain/internal/markdown"
	"github.com/jun/secondbrain/internal/model"
)

// DynamoRepository stores notes in a table keyed by (user_id, id).
// If client is nil, notes live in a map (tests and DEV_MODE without LocalStack).
type DynamoRepository struct {
	client    *dynamodb.Client
	tableName string
	renderer  *markdown.Renderer

	notes map[string]model.Note
	mu    sync.RWMutex
}

func NewDynamoRepository(client *dynamodb.Client, tableName string, renderer *markdown.Renderer) *DynamoRepository {
	return &DynamoRepository{
		client:    client,
		tableName: tableName,
		renderer:  renderer,
		notes:     make(map[string]model.Note),
	}
}

func memKey(userID, noteID string) string {
	return userID + "/" + noteID
}

func (r *DynamoRepository) Create(ctx context.Context, userID, title, content string) (*model.Note, error) {
	note, err := newNote(r.renderer, userID, title, content)
	if err != nil {
		return nil, err
	}

	if r.client == nil {
		r.mu.Lock()
		r.notes[memKey(userID, note.ID)] = *note
		r.mu.Unlock()
		return note, nil
	}

	item, err := attributevalue.MarshalMap(note)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal note: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to put note: %w", err)
	}
	return note, nil
}

func (r *DynamoRepository) Get(ctx context.Context, userID, noteID string) (*model.Note, error) {
	if r.client == nil {
		r.mu.RLock()
		n, ok := r.notes[memKey(userID, noteID)]
		r.mu.RUnlock()
		if !ok {
			return nil, ErrNotFound
		}
		return &n, nil
	}

	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
			"id":      &types.AttributeValueMemberS{Value: noteID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var note model.Note
	if err := attributevalue.UnmarshalMap(out.Item, &note); err != nil {
		return nil, fmt.Errorf("failed to unmarshal note: %w", err)
	}
	return &note, nil
}

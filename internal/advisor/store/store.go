// Package store persists conversations, their append-only messages and the
// variant links between them.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "gap-advisor/internal/common/errors"
	"gap-advisor/internal/models"

	"github.com/google/uuid"
)

// DefaultMaxMessageLength bounds user message size in runes.
const DefaultMaxMessageLength = 4000

// Store is the conversation persistence contract shared by the SQL and
// in-memory implementations.
type Store interface {
	// GetOrCreate is idempotent per (analysisID, userID), including under
	// concurrent first access.
	GetOrCreate(ctx context.Context, analysisID, userID string) (*models.Conversation, error)
	Get(ctx context.Context, conversationID string) (*models.Conversation, error)
	ListByUser(ctx context.Context, userID string) ([]models.Conversation, error)
	AddUserMessage(ctx context.Context, conversationID, text string, meta models.UserMetadata) (*models.Message, error)
	AddAssistantMessage(ctx context.Context, conversationID, text string, meta models.AssistantMetadata) (*models.Message, error)
	// GetMessages returns history oldest first; limit > 0 keeps only the tail.
	GetMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	// LinkVariant is a no-op when the pair is already linked.
	LinkVariant(ctx context.Context, originalID, variantID string, params map[string]string) error
	// Delete removes the conversation, its messages and every link touching it.
	Delete(ctx context.Context, conversationID string) error
}

// Options tune both store implementations.
type Options struct {
	MaxMessageLength int
	Now              func() time.Time
	NewID            func() string
}

func (o Options) withDefaults() Options {
	if o.MaxMessageLength <= 0 {
		o.MaxMessageLength = DefaultMaxMessageLength
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.New().String() }
	}
	return o
}

// ValidateText rejects blank messages and messages longer than maxLen runes.
func ValidateText(text string, maxLen int) error {
	if strings.TrimSpace(text) == "" {
		return apperrors.NewInvalidInputError("message text is empty")
	}
	if n := utf8.RuneCountInString(text); n > maxLen {
		return apperrors.NewInvalidInputError(fmt.Sprintf("message has %d characters, maximum is %d", n, maxLen))
	}
	return nil
}

func validateIDs(ids ...string) error {
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return apperrors.NewInvalidInputError("identifier is empty")
		}
	}
	return nil
}

func conversationNotFound(id string) error {
	return apperrors.NewNotFoundError("conversation", id)
}

func invalidSelfLink() error {
	return apperrors.NewInvalidInputError("a conversation cannot be its own variant")
}

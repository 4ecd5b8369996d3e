package store

import (
	"context"
	"sort"
	"sync"

	"gap-advisor/internal/models"
)

// MemoryStore keeps everything in process memory. It is used for local runs
// and tests and has the same semantics as SQLStore.
type MemoryStore struct {
	mu            sync.RWMutex
	opts          Options
	conversations map[string]*models.Conversation
	byPair        map[[2]string]string
	messages      map[string][]models.Message
	links         map[string][]models.VariantLink
}

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:          opts.withDefaults(),
		conversations: make(map[string]*models.Conversation),
		byPair:        make(map[[2]string]string),
		messages:      make(map[string][]models.Message),
		links:         make(map[string][]models.VariantLink),
	}
}

func (s *MemoryStore) GetOrCreate(_ context.Context, analysisID, userID string) (*models.Conversation, error) {
	if err := validateIDs(analysisID, userID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := [2]string{analysisID, userID}
	if id, ok := s.byPair[key]; ok {
		return s.snapshot(id), nil
	}

	now := s.opts.Now()
	conv := &models.Conversation{
		ID:         s.opts.NewID(),
		AnalysisID: analysisID,
		UserID:     userID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.conversations[conv.ID] = conv
	s.byPair[key] = conv.ID
	return s.snapshot(conv.ID), nil
}

func (s *MemoryStore) Get(_ context.Context, conversationID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, conversationNotFound(conversationID)
	}
	return s.snapshot(conversationID), nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Conversation{}
	for id, conv := range s.conversations {
		if conv.UserID == userID {
			out = append(out, *s.snapshot(id))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) AddUserMessage(ctx context.Context, conversationID, text string, meta models.UserMetadata) (*models.Message, error) {
	if err := ValidateText(text, s.opts.MaxMessageLength); err != nil {
		return nil, err
	}
	return s.append(conversationID, models.RoleUser, text, meta)
}

func (s *MemoryStore) AddAssistantMessage(_ context.Context, conversationID, text string, meta models.AssistantMetadata) (*models.Message, error) {
	return s.append(conversationID, models.RoleAssistant, text, meta)
}

func (s *MemoryStore) append(conversationID string, role models.Role, text string, meta models.Metadata) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, conversationNotFound(conversationID)
	}

	now := s.opts.Now()
	msg := models.Message{
		ID:             s.opts.NewID(),
		ConversationID: conversationID,
		Seq:            int64(len(s.messages[conversationID]) + 1),
		Role:           role,
		Content:        text,
		Metadata:       meta,
		CreatedAt:      now,
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	conv.UpdatedAt = now

	return &msg, nil
}

func (s *MemoryStore) GetMessages(_ context.Context, conversationID string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, conversationNotFound(conversationID)
	}

	all := s.messages[conversationID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]models.Message, len(all))
	copy(out, all)
	return out, nil
}

func (s *MemoryStore) LinkVariant(_ context.Context, originalID, variantID string, params map[string]string) error {
	if err := validateIDs(originalID, variantID); err != nil {
		return err
	}
	if originalID == variantID {
		return invalidSelfLink()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	orig, ok := s.conversations[originalID]
	if !ok {
		return conversationNotFound(originalID)
	}
	if _, ok := s.conversations[variantID]; !ok {
		return conversationNotFound(variantID)
	}
	for _, l := range s.links[originalID] {
		if l.VariantID == variantID {
			return nil
		}
	}

	now := s.opts.Now()
	copied := make(map[string]string, len(params))
	for k, v := range params {
		copied[k] = v
	}
	s.links[originalID] = append(s.links[originalID], models.VariantLink{
		OriginalID:         originalID,
		VariantID:          variantID,
		ModifiedParameters: copied,
		CreatedAt:          now,
	})
	orig.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return conversationNotFound(conversationID)
	}

	delete(s.conversations, conversationID)
	delete(s.byPair, [2]string{conv.AnalysisID, conv.UserID})
	delete(s.messages, conversationID)
	delete(s.links, conversationID)

	for origID, links := range s.links {
		kept := links[:0]
		for _, l := range links {
			if l.VariantID != conversationID {
				kept = append(kept, l)
			}
		}
		s.links[origID] = kept
	}
	return nil
}

// snapshot copies a conversation so callers never alias store state. Callers
// hold the lock.
func (s *MemoryStore) snapshot(id string) *models.Conversation {
	conv := *s.conversations[id]
	conv.VariantIDs = make([]string, 0, len(s.links[id]))
	for _, l := range s.links[id] {
		conv.VariantIDs = append(conv.VariantIDs, l.VariantID)
	}
	return &conv
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gap-advisor/internal/common/database"
	apperrors "gap-advisor/internal/common/errors"
	"gap-advisor/internal/common/logger"
	"gap-advisor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// ==========================
// Test Helper Functions
// ==========================

// tickingClock advances one millisecond per call so ordering by timestamp is
// deterministic.
func tickingClock() func() time.Time {
	var n int64
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		return base.Add(time.Duration(atomic.AddInt64(&n, 1)) * time.Millisecond)
	}
}

func testOptions() Options {
	return Options{MaxMessageLength: 50, Now: tickingClock()}
}

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := NewSQLStore(db, database.DriverSQLite, testOptions(), logger.NewTestLogger(t))
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func implementations(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore(testOptions()) },
		"sqlite": func(t *testing.T) Store { return newSQLiteStore(t) },
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, build := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, build(t))
		})
	}
}

// ==========================
// Get-or-create
// ==========================

func TestStore_GetOrCreate_Idempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		first, err := s.GetOrCreate(ctx, "analysis-1", "user-1")
		require.NoError(t, err)
		second, err := s.GetOrCreate(ctx, "analysis-1", "user-1")
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "analysis-1", second.AnalysisID)
		assert.Empty(t, second.VariantIDs)

		other, err := s.GetOrCreate(ctx, "analysis-1", "user-2")
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, other.ID)
	})
}

func TestStore_GetOrCreate_Concurrent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		const workers = 8
		ids := make([]string, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				conv, err := s.GetOrCreate(ctx, "analysis-race", "user-race")
				if assert.NoError(t, err) {
					ids[i] = conv.ID
				}
			}(i)
		}
		wg.Wait()

		for _, id := range ids {
			assert.Equal(t, ids[0], id)
		}
		list, err := s.ListByUser(ctx, "user-race")
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

func TestStore_GetOrCreate_RejectsBlankIDs(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.GetOrCreate(context.Background(), "", "user-1")
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidInput))
	})
}

// ==========================
// Messages
// ==========================

func TestStore_AddUserMessage_Errors(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		conv, err := s.GetOrCreate(ctx, "analysis-1", "user-1")
		require.NoError(t, err)

		tests := []struct {
			name           string
			conversationID string
			text           string
			code           apperrors.ErrorCode
		}{
			{"missing conversation", "nope", "hello", apperrors.ErrCodeNotFound},
			{"empty text", conv.ID, "", apperrors.ErrCodeInvalidInput},
			{"blank text", conv.ID, "   \n\t", apperrors.ErrCodeInvalidInput},
			{"too long", conv.ID, strings.Repeat("x", 51), apperrors.ErrCodeInvalidInput},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := s.AddUserMessage(ctx, tt.conversationID, tt.text, models.UserMetadata{})
				assert.True(t, apperrors.Is(err, tt.code), "got %v", err)
			})
		}

		msgs, err := s.GetMessages(ctx, conv.ID, 0)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestStore_AppendOnlyOrdering(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		conv, err := s.GetOrCreate(ctx, "analysis-1", "user-1")
		require.NoError(t, err)

		_, err = s.AddUserMessage(ctx, conv.ID, "What is the biggest gap?", models.UserMetadata{})
		require.NoError(t, err)
		_, err = s.AddAssistantMessage(ctx, conv.ID, "Last-mile logistics.", models.AssistantMetadata{
			ProcessingTimeMs: 800,
			Tokens:           models.TokenUsage{Input: 100, Output: 20, Total: 120},
		})
		require.NoError(t, err)

		before, err := s.GetMessages(ctx, conv.ID, 0)
		require.NoError(t, err)
		require.Len(t, before, 2)

		// Consecutive same-role messages are tolerated.
		_, err = s.AddUserMessage(ctx, conv.ID, "And the second?", models.UserMetadata{})
		require.NoError(t, err)
		_, err = s.AddUserMessage(ctx, conv.ID, "Also pricing?", models.UserMetadata{TurnID: "job-77"})
		require.NoError(t, err)

		after, err := s.GetMessages(ctx, conv.ID, 0)
		require.NoError(t, err)
		require.Len(t, after, 4)
		assert.Equal(t, before, after[:2])

		for i, m := range after {
			assert.Equal(t, int64(i+1), m.Seq)
		}
		assert.Equal(t, models.RoleAssistant, after[1].Role)
		meta, ok := after[1].Metadata.(models.AssistantMetadata)
		require.True(t, ok)
		assert.Equal(t, 120, meta.Tokens.Total)
		assert.Equal(t, models.MetadataUser, after[0].Metadata.Kind())
		assert.Equal(t, models.UserMetadata{TurnID: "job-77"}, after[3].Metadata)

		tail, err := s.GetMessages(ctx, conv.ID, 2)
		require.NoError(t, err)
		require.Len(t, tail, 2)
		assert.Equal(t, "And the second?", tail[0].Content)
		assert.Equal(t, "Also pricing?", tail[1].Content)
	})
}

func TestStore_GetMessages_UnknownConversation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.GetMessages(context.Background(), "missing", 0)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))
	})
}

// ==========================
// Variant links and deletion
// ==========================

func TestStore_LinkVariant(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		orig, err := s.GetOrCreate(ctx, "analysis-1", "user-1")
		require.NoError(t, err)
		variant, err := s.GetOrCreate(ctx, "analysis-2", "user-1")
		require.NoError(t, err)

		params := map[string]string{"market": "Europe"}
		require.NoError(t, s.LinkVariant(ctx, orig.ID, variant.ID, params))
		require.NoError(t, s.LinkVariant(ctx, orig.ID, variant.ID, params))

		got, err := s.Get(ctx, orig.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{variant.ID}, got.VariantIDs)

		err = s.LinkVariant(ctx, orig.ID, orig.ID, params)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidInput))

		err = s.LinkVariant(ctx, orig.ID, "ghost", params)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))

		list, err := s.ListByUser(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, orig.ID, list[0].ID)
		assert.Equal(t, []string{variant.ID}, list[0].VariantIDs)
		assert.Empty(t, list[1].VariantIDs)
	})
}

func TestStore_Delete_CascadesAndPrunesLinks(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		orig, err := s.GetOrCreate(ctx, "analysis-1", "user-1")
		require.NoError(t, err)
		variant, err := s.GetOrCreate(ctx, "analysis-2", "user-1")
		require.NoError(t, err)
		require.NoError(t, s.LinkVariant(ctx, orig.ID, variant.ID, map[string]string{"budget": "$10k"}))

		for i := 0; i < 3; i++ {
			_, err := s.AddUserMessage(ctx, variant.ID, fmt.Sprintf("question %d", i), models.UserMetadata{})
			require.NoError(t, err)
		}

		require.NoError(t, s.Delete(ctx, variant.ID))

		_, err = s.Get(ctx, variant.ID)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))
		_, err = s.GetMessages(ctx, variant.ID, 0)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))

		got, err := s.Get(ctx, orig.ID)
		require.NoError(t, err)
		assert.Empty(t, got.VariantIDs)

		assert.True(t, apperrors.Is(s.Delete(ctx, variant.ID), apperrors.ErrCodeNotFound))

		recreated, err := s.GetOrCreate(ctx, "analysis-2", "user-1")
		require.NoError(t, err)
		assert.NotEqual(t, variant.ID, recreated.ID)
	})
}

func TestValidateText(t *testing.T) {
	assert.NoError(t, ValidateText("ünïcödé", 7))
	assert.Error(t, ValidateText("ünïcödé!", 7))
	assert.Error(t, ValidateText("", 7))
}

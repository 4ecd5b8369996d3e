package jobs

import (
	"testing"

	apperrors "gap-advisor/internal/common/errors"
	"gap-advisor/internal/common/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var schema = validation.MustCompile(`{
  "type": "object",
  "required": ["userId"],
  "properties": {"userId": {"type": "string", "minLength": 1}}
}`)

func TestDecode(t *testing.T) {
	var in struct {
		UserID string `json:"userId"`
	}

	require.NoError(t, Decode(`{"userId":"u-1","extra":true}`, schema, &in))
	assert.Equal(t, "u-1", in.UserID)

	err := Decode(`{"userId":""}`, schema, &in)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidInput))

	err = Decode(`{not json`, nil, &in)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidInput))
}

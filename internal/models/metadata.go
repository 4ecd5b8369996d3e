package models

import (
	"encoding/json"
	"fmt"
)

type MetadataKind string

const (
	MetadataUser      MetadataKind = "user"
	MetadataAssistant MetadataKind = "assistant"
)

// Metadata is a closed set of per-message metadata shapes.
type Metadata interface {
	Kind() MetadataKind
}

// UserMetadata tags a user message with the turn that submitted it. TurnID is
// empty for messages written outside a process job.
type UserMetadata struct {
	TurnID string `json:"turnId,omitempty"`
}

func (UserMetadata) Kind() MetadataKind { return MetadataUser }

type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// AssistantMetadata records how an answer was produced.
type AssistantMetadata struct {
	ProcessingTimeMs int64      `json:"processingTimeMs"`
	Tokens           TokenUsage `json:"tokens"`
	PromptTokens     int        `json:"promptTokens"`
	Summarized       bool       `json:"summarized"`
	Attempts         int        `json:"attempts"`
	IntentConfidence int        `json:"intentConfidence"`
}

func (AssistantMetadata) Kind() MetadataKind { return MetadataAssistant }

type metadataEnvelope struct {
	Kind MetadataKind    `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EncodeMetadata serializes metadata as {"kind": ..., "data": ...}.
func EncodeMetadata(m Metadata) ([]byte, error) {
	if m == nil {
		m = UserMetadata{}
	}
	env := metadataEnvelope{Kind: m.Kind()}
	switch v := m.(type) {
	case AssistantMetadata:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		env.Data = data
	case UserMetadata:
		if v.TurnID != "" {
			data, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			env.Data = data
		}
	}
	return json.Marshal(env)
}

// DecodeMetadata is the inverse of EncodeMetadata. Empty input decodes as
// UserMetadata.
func DecodeMetadata(raw []byte) (Metadata, error) {
	if len(raw) == 0 {
		return UserMetadata{}, nil
	}
	var env metadataEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	switch env.Kind {
	case MetadataUser, "":
		var um UserMetadata
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &um); err != nil {
				return nil, fmt.Errorf("decode user metadata: %w", err)
			}
		}
		return um, nil
	case MetadataAssistant:
		var am AssistantMetadata
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &am); err != nil {
				return nil, fmt.Errorf("decode assistant metadata: %w", err)
			}
		}
		return am, nil
	default:
		return nil, fmt.Errorf("unknown metadata kind %q", env.Kind)
	}
}

// MetadataFor returns the zero metadata shape for a role.
func MetadataFor(role Role) Metadata {
	if role == RoleAssistant {
		return AssistantMetadata{}
	}
	return UserMetadata{}
}

func (m Message) MarshalJSON() ([]byte, error) {
	type plain Message
	meta, err := EncodeMetadata(m.Metadata)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		plain
		Metadata json.RawMessage `json:"metadata"`
	}{plain(m), meta})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	aux := struct {
		*plain
		Metadata json.RawMessage `json:"metadata"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	meta, err := DecodeMetadata(aux.Metadata)
	if err != nil {
		return err
	}
	m.Metadata = meta
	return nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     ChatRequest
		wantErr bool
	}{
		{
			name:    "valid minimal",
			req:     ChatRequest{Message: "what does feng shui say about desks?"},
			wantErr: false,
		},
		{
			name:    "missing message",
			req:     ChatRequest{},
			wantErr: true,
		},
		{
			name:    "message too long",
			req:     ChatRequest{Message: strings.Repeat("a", 8001)},
			wantErr: true,
		},
		{
			name: "valid history",
			req: ChatRequest{
				Message: "and what about mirrors?",
				History: []ChatMessage{
					{Role: "user", Content: "tell me about feng shui"},
					{Role: "assistant", Content: "Feng shui is..."},
				},
			},
			wantErr: false,
		},
		{
			name: "invalid history role",
			req: ChatRequest{
				Message: "hello",
				History: []ChatMessage{{Role: "system", Content: "x"}},
			},
			wantErr: true,
		},
		{
			name: "history content required",
			req: ChatRequest{
				Message: "hello",
				History: []ChatMessage{{Role: "user"}},
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChatRequestEnsureDefaults(t *testing.T) {
	req := ChatRequest{Message: "hi"}
	req.EnsureDefaults()
	assert.NotEmpty(t, req.SessionID)
	assert.Equal(t, "anonymous", req.UserID)

	// Provided identifiers survive.
	req2 := ChatRequest{Message: "hi", SessionID: "s-1", UserID: "u-1"}
	req2.EnsureDefaults()
	assert.Equal(t, "s-1", req2.SessionID)
	assert.Equal(t, "u-1", req2.UserID)
}

func TestNewChatResponse(t *testing.T) {
	state := NewConversationState("hello", nil)
	state.SessionID = "s-9"
	state.Intent = "money"
	state.Confidence = 0.82
	state.SelectedNamespaces = []string{"money"}
	state.FinalResponse = "Invest steadily."
	state.SafetyFlags = []string{"disclaimer_added_financial"}
	state.Status = StatusComplete

	resp := NewChatResponse(state)
	require.Equal(t, "Invest steadily.", resp.Response)
	assert.Equal(t, "s-9", resp.SessionID)
	assert.Equal(t, state.MessageID, resp.MessageID)
	assert.Equal(t, StatusComplete, resp.Status)
	assert.Equal(t, "money", resp.Diagnostics.Intent)
	assert.InDelta(t, 0.82, resp.Diagnostics.Confidence, 1e-9)
	assert.Equal(t, []string{"disclaimer_added_financial"}, resp.Diagnostics.SafetyFlags)
	assert.NotEmpty(t, resp.Timestamp)
}

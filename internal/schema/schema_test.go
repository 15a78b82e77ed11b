package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }

func TestEnvelopeValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     Envelope
		wantErr string
	}{
		{
			name: "valid",
			env: Envelope{Actions: []Action{
				{Code: "0x21010130", Param: floatPtr(0.5), Semantic: "move_x"},
				{Code: "0x21010202"},
			}},
		},
		{
			name:    "empty",
			env:     Envelope{},
			wantErr: "no actions",
		},
		{
			name:    "missing code",
			env:     Envelope{Actions: []Action{{Semantic: "move_x"}}},
			wantErr: "action 0 missing code",
		},
		{
			name:    "malformed code",
			env:     Envelope{Actions: []Action{{Code: "0x21010130"}, {Code: "stand"}}},
			wantErr: "action 1 has malformed code",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestEnvelopeWireForm(t *testing.T) {
	env := Envelope{Actions: []Action{
		{Code: "0x21010130", Param: floatPtr(0.5), Semantic: "move_x"},
		{Code: "0x21010202"},
	}}

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"actions":[
		{"code":"0x21010130","param":0.5,"semantic":"move_x"},
		{"code":"0x21010202"}
	]}`, string(raw))

	var back Envelope
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, env, back)
}

func TestTaskStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusSucceeded.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestSemanticCode(t *testing.T) {
	code, ok := SemanticCode("move_x")
	require.True(t, ok)
	assert.Equal(t, CodeAxisX, code)

	// Posture and move labels share axis codes; the motion-host mode
	// decides the interpretation.
	posture, ok := SemanticCode("posture_pitch")
	require.True(t, ok)
	assert.Equal(t, code, posture)

	_, ok = SemanticCode("do_a_barrel_roll")
	assert.False(t, ok)
}

package transport

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageClassification(t *testing.T) {
	t.Parallel()

	request, err := NewRequestMessage("tools/list", nil, 7)
	require.NoError(t, err)
	assert.True(t, request.IsRequest())
	assert.False(t, request.IsResponse())
	assert.False(t, request.IsNotification())
	assert.NoError(t, request.Validate())

	notification, err := NewNotificationMessage("notifications/initialized", nil)
	require.NoError(t, err)
	assert.True(t, notification.IsNotification())
	assert.False(t, notification.IsRequest())
	assert.NoError(t, notification.Validate())

	response := &JSONRPCMessage{JSONRPC: "2.0", ID: 7, Result: json.RawMessage(`{}`)}
	assert.True(t, response.IsResponse())
	assert.NoError(t, response.Validate())

	errResponse := &JSONRPCMessage{JSONRPC: "2.0", ID: 7, Error: &JSONRPCError{Code: -1, Message: "boom"}}
	assert.True(t, errResponse.IsResponse())
}

func TestValidateRejectsMalformedMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  JSONRPCMessage
	}{
		{"wrong version", JSONRPCMessage{JSONRPC: "1.0", Method: "x", ID: 1}},
		{"empty message", JSONRPCMessage{JSONRPC: "2.0"}},
		{"id without result or method", JSONRPCMessage{JSONRPC: "2.0", ID: 3}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.msg.Validate()
			assert.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
}

func TestIDKeyNormalizesNumericIDs(t *testing.T) {
	t.Parallel()

	// Numbers decode as float64, so an int id must match its decoded form.
	assert.Equal(t, idKey(int64(7)), idKey(float64(7)))
	assert.Equal(t, "abc", idKey("abc"))
	assert.NotEqual(t, idKey(1), idKey(2))
}

func TestRequestParamsRoundTrip(t *testing.T) {
	t.Parallel()

	msg, err := NewRequestMessage("tools/call", callToolParams("echo", map[string]any{"text": "hi"}), 1)
	require.NoError(t, err)

	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	require.NoError(t, json.Unmarshal(msg.Params, &params))
	assert.Equal(t, "echo", params.Name)
	assert.Equal(t, "hi", params.Arguments["text"])

	// Nil arguments still serialize as an object.
	msg, err = NewRequestMessage("tools/call", callToolParams("echo", nil), 2)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(msg.Params, &params))
	assert.NotNil(t, params.Arguments)
}

func TestSanitizeJSONString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `{"a":1}`, sanitizeJSONString("\x01\x00\x00\x00{\"a\":1}"))
	assert.Equal(t, "no json here", sanitizeJSONString("no json here"))
}

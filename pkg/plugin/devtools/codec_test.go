package devtools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageMarshalOmitsEmptyParams(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(Message{ID: 7, Method: "Page.enable"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7,"method":"Page.enable"}`, string(raw))
}

func TestDecodeEnvelopeResponse(t *testing.T) {
	t.Parallel()

	env, ok := decodeEnvelope([]byte(`{"id":3,"result":{"frameId":"abc"}}`))
	require.True(t, ok)
	assert.Equal(t, int64(3), env.ID)
	assert.Nil(t, env.Error)
}

func TestDecodeEnvelopeErrorResponse(t *testing.T) {
	t.Parallel()

	env, ok := decodeEnvelope([]byte(`{"id":4,"error":{"code":-32000,"message":"boom"}}`))
	require.True(t, ok)
	require.NotNil(t, env.Error)
	assert.Equal(t, -32000, env.Error.Code)
	assert.Equal(t, "boom", env.Error.Message)
}

func TestDecodeEnvelopeDropsEventFrame(t *testing.T) {
	t.Parallel()

	_, ok := decodeEnvelope([]byte(`{"method":"Page.loadEventFired","params":{}}`))
	assert.False(t, ok)
}

func TestDecodeEnvelopeDropsGarbage(t *testing.T) {
	t.Parallel()

	_, ok := decodeEnvelope([]byte(`not json at all`))
	assert.False(t, ok)
}

func TestIOReadResultDecode(t *testing.T) {
	t.Parallel()

	var res IOReadResult
	require.NoError(t, json.Unmarshal([]byte(`{"base64Encoded":true,"data":"aGk=","eof":false}`), &res))
	assert.True(t, res.Base64Encoded)
	assert.Equal(t, "aGk=", res.Data)
	assert.False(t, res.EOF)
}

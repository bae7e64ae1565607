package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadMessage_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAuth(&buf, "shared-token", "client-1"))

	msgType, payload, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, byte(MsgTypeAuth), msgType)

	decoded, err := DecodeAuth(payload)
	require.NoError(t, err)
	assert.Equal(t, AuthMsg{Token: "shared-token", ClientID: "client-1"}, decoded)
}

func TestReadTypedMessage_WrongType(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHeartbeat(&buf, 42))

	_, err := ReadTypedMessage(&buf, MsgTypeAuth)
	assert.Error(t, err)
}

func TestReadMessage_EmptyErrorMessage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, MsgTypeError, ErrorMsg{Message: ""}))

	msgType, payload, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, byte(MsgTypeError), msgType)

	decoded, err := DecodeError(payload)
	require.NoError(t, err)
	assert.Equal(t, "", decoded.Message)
}

func TestReadMessage_FrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	header := []byte{MsgTypeData, 0xFF, 0xFF, 0xFF, 0xFF}
	buf.Write(header)

	_, _, err := ReadMessage(&buf)
	assert.Error(t, err)
}

func TestAuthResponse_OptionalFieldsRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAuthResponse(&buf, true, []byte("0123456789abcdef0123456789abcdef"), ""))

	payload, err := ReadTypedMessage(&buf, MsgTypeAuthResponse)
	require.NoError(t, err)

	decoded, err := DecodeAuthResponse(payload)
	require.NoError(t, err)
	assert.True(t, decoded.Success)
	assert.Equal(t, []byte("0123456789abcdef0123456789abcdef"), decoded.SessionKey)
	assert.Equal(t, "", decoded.Error)

	buf.Reset()
	require.NoError(t, WriteAuthResponse(&buf, false, nil, "invalid token"))
	payload, err = ReadTypedMessage(&buf, MsgTypeAuthResponse)
	require.NoError(t, err)
	decoded, err = DecodeAuthResponse(payload)
	require.NoError(t, err)
	assert.False(t, decoded.Success)
	assert.Nil(t, decoded.SessionKey)
	assert.Equal(t, "invalid token", decoded.Error)
}

func TestProxyConfigResponse_ErrorField(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteProxyConfigResponse(&buf, false, "", "port in use"))

	payload, err := ReadTypedMessage(&buf, MsgTypeProxyConfigResponse)
	require.NoError(t, err)
	decoded, err := DecodeProxyConfigResponse(payload)
	require.NoError(t, err)
	assert.False(t, decoded.Success)
	assert.Equal(t, "", decoded.ProxyID)
	assert.Equal(t, "port in use", decoded.Error)
}

func TestData_LargePayload(t *testing.T) {
	data := make([]byte, 256*1024)
	for i := range data {
		data[i] = byte(i)
	}

	var buf bytes.Buffer
	require.NoError(t, WriteData(&buf, "conn-1", data))

	payload, err := ReadTypedMessage(&buf, MsgTypeData)
	require.NoError(t, err)
	decoded, err := DecodeData(payload)
	require.NoError(t, err)
	assert.Equal(t, "conn-1", decoded.ConnectionID)
	assert.Equal(t, data, decoded.Data)
}

func TestDecode_TruncatedPayloadFails(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteProxyConfig(&buf, "127.0.0.1", 9001, 18001))

	_, payload, err := ReadMessage(&buf)
	require.NoError(t, err)

	_, err = DecodeProxyConfig(payload[:len(payload)-1])
	assert.Error(t, err)
}

package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteFrame(&buf, DialerSenderID, &Frame{Txseq: 1, Hello: &Hello{Payload: []byte("hi")}}))
	require.NoError(t, WriteFrame(&buf, DialerSenderID, &Frame{Txseq: 2, Approve: &Approve{}}))
	require.NoError(t, WriteFrame(&buf, DialerSenderID, &Frame{Txseq: 3, Ping: &Ping{ID: "abc"}}))

	f, err := ReadFrame(&buf, DialerSenderID)
	require.NoError(t, err)
	require.NotNil(t, f.Hello)
	assert.Equal(t, []byte("hi"), f.Hello.Payload)
	assert.Nil(t, f.Approve)

	f, err = ReadFrame(&buf, DialerSenderID)
	require.NoError(t, err)
	assert.NotNil(t, f.Approve)

	f, err = ReadFrame(&buf, DialerSenderID)
	require.NoError(t, err)
	require.NotNil(t, f.Ping)
	assert.Equal(t, "abc", f.Ping.ID)
}

func TestFrame_WrongSender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, ListenerSenderID, &Frame{Pong: &Pong{ID: "x"}}))

	_, err := ReadFrame(&buf, DialerSenderID)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestFrame_BadHeader(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0x00, 0x01, 0x01, 0, 0, 0, 0}), DialerSenderID)
	assert.ErrorIs(t, err, ErrProtocol)

	_, err = ReadFrame(bytes.NewReader([]byte{protocolPattern, protocolVersion, DialerSenderID, 0xff, 0xff, 0xff, 0x7f}), DialerSenderID)
	assert.ErrorIs(t, err, ErrProtocol)
}

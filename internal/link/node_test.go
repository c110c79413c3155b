package link

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/bmcam/internal/protocol"
)

type mockWriter struct {
	mock.Mock
	frames [][]byte
}

func (m *mockWriter) WriteFrame(frame []byte) error {
	m.frames = append(m.frames, frame)
	return m.Called(frame).Error(0)
}

func decodeWritten(t *testing.T, frame []byte) *protocol.Message {
	t.Helper()
	require.Equal(t, protocol.Delimiter, frame[len(frame)-1])
	packet, err := protocol.Decode(frame[:len(frame)-1])
	require.NoError(t, err)
	msg, err := protocol.NewParser(true).Parse(packet)
	require.NoError(t, err)
	return msg
}

func TestNodeSubscribeWire(t *testing.T) {
	w := &mockWriter{}
	w.On("WriteFrame", mock.Anything).Return(nil)
	n := NewNode(w, protocol.DefaultNodeID, protocol.DefaultVersion, SpotterTopics{})

	require.NoError(t, n.Subscribe("camera/status"))
	assert.Equal(t, "020304d8510d0e63616d6572612f73746174757300", hex.EncodeToString(w.frames[0]))
	w.AssertNumberOfCalls(t, "WriteFrame", 1)
}

func TestNodePublishText(t *testing.T) {
	w := &mockWriter{}
	w.On("WriteFrame", mock.Anything).Return(nil)
	n := NewNode(w, 0x42, protocol.DefaultVersion, SpotterTopics{})

	require.NoError(t, n.PublishText("camera/status", "OK op=image"))
	msg := decodeWritten(t, w.frames[0])
	assert.Equal(t, uint64(0x42), msg.NodeID)
	assert.Equal(t, "camera/status", msg.Topic)
	assert.Equal(t, PayloadText, msg.PayloadType)
	assert.Equal(t, []byte("OK op=image"), msg.Payload)
}

func TestNodeTransmit(t *testing.T) {
	w := &mockWriter{}
	w.On("WriteFrame", mock.Anything).Return(nil)
	n := NewNode(w, 1, protocol.DefaultVersion, SpotterTopics{})

	require.NoError(t, n.Transmit([]byte("<I0>AAAA\n")))
	msg := decodeWritten(t, w.frames[0])
	assert.Equal(t, "spotter/transmit-data", msg.Topic)
	assert.Equal(t, PayloadBinary, msg.PayloadType)
	assert.Equal(t, []byte("<I0>AAAA\n"), msg.Payload)
}

func TestNodePrintLayout(t *testing.T) {
	w := &mockWriter{}
	w.On("WriteFrame", mock.Anything).Return(nil)
	n := NewNode(w, 1, protocol.DefaultVersion, SpotterTopics{})

	require.NoError(t, n.Print("hi"))
	msg := decodeWritten(t, w.frames[0])
	assert.Equal(t, "spotter/printf", msg.Topic)

	// payload_type slot plus payload reproduce the console body
	body := append([]byte{msg.PayloadType}, msg.Payload...)
	assert.Equal(t, "000000000000000000000300"+hex.EncodeToString([]byte("hi\n")), hex.EncodeToString(body))
}

func TestNodeFileLogLayout(t *testing.T) {
	w := &mockWriter{}
	w.On("WriteFrame", mock.Anything).Return(nil)
	n := NewNode(w, 1, protocol.DefaultVersion, SpotterTopics{FileLog: "custom/fprintf"})

	require.NoError(t, n.FileLog("cam.log", "ok"))
	msg := decodeWritten(t, w.frames[0])
	assert.Equal(t, "custom/fprintf", msg.Topic)
	body := append([]byte{msg.PayloadType}, msg.Payload...)
	assert.Equal(t, []byte{7, 0, 3, 0}, body[8:12])
	assert.Equal(t, "cam.logok\n", string(body[12:]))
}

func TestNodeErrors(t *testing.T) {
	w := &mockWriter{}
	w.On("WriteFrame", mock.Anything).Return(errors.New("port closed"))
	n := NewNode(w, 1, protocol.DefaultVersion, SpotterTopics{})

	assert.ErrorIs(t, n.Publish("", 0, nil), ErrEmptyTopic)
	assert.ErrorIs(t, n.Subscribe(""), ErrEmptyTopic)
	assert.EqualError(t, n.Unsubscribe("a"), "unsubscribe a: port closed")
	assert.Error(t, n.PublishText("a", "b"))
}

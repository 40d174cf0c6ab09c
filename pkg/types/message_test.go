package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInboundMessage(t *testing.T) {
	data := []byte(`{
		"json_report": {
			"timestamp": "2024-05-01T10:00:00Z",
			"eye_rub_first_hand": {"report": false, "count": 0, "durations": []},
			"eye_rub_second_hand": {"report": false, "count": 0, "durations": []},
			"flicker": {"report": false, "count": 2},
			"micro_sleep": {"report": true, "count": 1, "durations": ["2.10"]},
			"pitch": {"report": false, "count": 0, "durations": []},
			"yawn": {"report": false, "count": 0, "durations": []}
		},
		"sketch_image": "abc",
		"original_image": "def"
	}`)

	msg, err := DecodeInboundMessage(data)
	require.NoError(t, err)

	assert.Equal(t, "abc", msg.SketchImage)
	assert.Equal(t, "def", msg.OriginalImage)
	assert.False(t, msg.HasError())
	require.NotNil(t, msg.JSONReport)
	assert.Equal(t, 2, msg.JSONReport.Flicker.Count)
	assert.Equal(t, []string{"2.10"}, msg.JSONReport.MicroSleep.Durations)
	assert.True(t, msg.JSONReport.Alerting())
}

func TestDecodeInboundMessageServerError(t *testing.T) {
	msg, err := DecodeInboundMessage([]byte(`{"error":"bad frame","json_report":{},"sketch_image":"","original_image":""}`))
	require.NoError(t, err)

	assert.True(t, msg.HasError())
	assert.False(t, msg.JSONReport.Alerting())
}

func TestDecodeInboundMessageRejectsNonObjects(t *testing.T) {
	for _, in := range []string{"", "   ", "not json", `["a"]`, `"str"`, `{"json_report": 5}`} {
		_, err := DecodeInboundMessage([]byte(in))
		assert.Error(t, err, "input %q", in)
	}
}

func TestAlertingNilReport(t *testing.T) {
	var r *DrowsinessReport
	assert.False(t, r.Alerting())

	var m *InboundMessage
	assert.False(t, m.HasError())
}

func TestEncodedFrameBase64(t *testing.T) {
	ef := &EncodedFrame{Data: []byte{0xFF, 0xD8, 0xFF}}
	assert.Equal(t, "/9j/", ef.Base64())
	assert.Equal(t, 3, ef.Size())
}

func TestFrameEmpty(t *testing.T) {
	var f *Frame
	assert.True(t, f.Empty())
	assert.True(t, (&Frame{Width: 10, Height: 10}).Empty())
}

func TestDefaultStreamConfig(t *testing.T) {
	cfg := DefaultStreamConfig()
	assert.Equal(t, 640, cfg.Width)
	assert.Equal(t, 480, cfg.Height)
	assert.Equal(t, 100*time.Millisecond, cfg.FrameInterval)
}

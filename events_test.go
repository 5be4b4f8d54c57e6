package live

import (
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerEventUnmarshal(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		check func(t *testing.T, e *ServerEvent)
	}{
		{
			name: "output audio delta",
			data: `{"event_id":"ev_1","type":"response.output_audio.delta","response_id":"resp_1","item_id":"item_1","output_index":0,"content_index":0,"delta":"AAAA"}`,
			check: func(t *testing.T, e *ServerEvent) {
				p, ok := e.Param.(*ServerEventParamResponseOutputAudioDelta)
				require.True(t, ok)
				assert.Equal(t, "AAAA", p.Delta)
				assert.Equal(t, "resp_1", p.ResponseId)
			},
		},
		{
			name: "speech started",
			data: `{"event_id":"ev_2","type":"input_audio_buffer.speech_started","audio_start_ms":1200,"item_id":"item_2"}`,
			check: func(t *testing.T, e *ServerEvent) {
				p, ok := e.Param.(*ServerEventParamInputAudioBufferSpeechStarted)
				require.True(t, ok)
				assert.Equal(t, 1200, p.AudioStartMs)
			},
		},
		{
			name: "response done",
			data: `{"event_id":"ev_3","type":"response.done","response":{"id":"resp_1","status":"cancelled"}}`,
			check: func(t *testing.T, e *ServerEvent) {
				p, ok := e.Param.(*ServerEventParamResponse)
				require.True(t, ok)
				assert.Equal(t, "cancelled", p.Status())
			},
		},
		{
			name: "error with null code",
			data: `{"event_id":"ev_4","type":"error","error":{"type":"invalid_request_error","code":null,"message":"bad audio","param":null,"event_id":null}}`,
			check: func(t *testing.T, e *ServerEvent) {
				p, ok := e.Param.(*ServerEventParamError)
				require.True(t, ok)
				assert.Equal(t, "invalid_request_error: bad audio", p.Error())
			},
		},
		{
			name: "session created",
			data: `{"event_id":"ev_5","type":"session.created","session":{"id":"sess_1","type":"realtime"}}`,
			check: func(t *testing.T, e *ServerEvent) {
				p, ok := e.Param.(*ServerEventParamSession)
				require.True(t, ok)
				assert.Equal(t, "sess_1", p.Session["id"])
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := new(ServerEvent)
			require.NoError(t, e.UnmarshalJSON([]byte(tt.data)))
			tt.check(t, e)
		})
	}
}

func TestServerEventUnmarshalErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		unknown bool
	}{
		{name: "unknown type", data: `{"type":"rate_limits.updated","rate_limits":[]}`, unknown: true},
		{name: "missing type", data: `{"event_id":"ev_1"}`},
		{name: "missing delta", data: `{"type":"response.output_audio.delta","response_id":"r","item_id":"i","output_index":0,"content_index":0}`},
		{name: "not json", data: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := new(ServerEvent).UnmarshalJSON([]byte(tt.data))
			require.Error(t, err)
			if tt.unknown {
				assert.ErrorIs(t, err, ErrUnknownEvent)
			} else {
				assert.NotErrorIs(t, err, ErrUnknownEvent)
			}
		})
	}
}

func TestClientEventMarshal(t *testing.T) {
	data, err := (&ClientEvent{
		Type:  ClientEventTypeInputAudioBufferAppend,
		Param: &ClientEventParamInputAudioBufferAppend{Audio: "AAAA"},
	}).MarshalJSON()
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, sonic.Unmarshal(data, &got))
	assert.Equal(t, map[string]any{"type": "input_audio_buffer.append", "audio": "AAAA"}, got)

	data, err = (&ClientEvent{Type: ClientEventTypeResponseCreate, Param: &ClientEventParamResponseCreate{}}).MarshalJSON()
	require.NoError(t, err)
	got = nil
	require.NoError(t, sonic.Unmarshal(data, &got))
	assert.Equal(t, "response.create", got["type"])
	assert.Equal(t, map[string]any{}, got["response"])

	_, err = (&ClientEvent{}).MarshalJSON()
	require.Error(t, err)
}

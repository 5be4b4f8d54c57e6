package live

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bt-bridge/consult-live/shared"
	"github.com/bt-bridge/consult-live/tools"
	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startWSServer serves handler on every websocket upgrade. Other requests go
// to fallback when set.
func startWSServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request), fallback http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fallback != nil && !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			fallback(w, r)
			return
		}
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := sonic.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

func newTestGemini(t *testing.T, srv *httptest.Server) *GeminiTransport {
	t.Helper()
	tr, err := NewGeminiTransport(GeminiOptions{
		APIKey:  "test-key",
		BaseURL: wsURL(srv),
		Logger:  shared.NewNopLogger(),
	})
	require.NoError(t, err)
	return tr
}

type receivedSetup struct {
	Setup struct {
		Model            string `json:"model"`
		GenerationConfig struct {
			ResponseModalities []string `json:"responseModalities"`
			SpeechConfig       struct {
				VoiceConfig struct {
					PrebuiltVoiceConfig struct {
						VoiceName string `json:"voiceName"`
					} `json:"prebuiltVoiceConfig"`
				} `json:"voiceConfig"`
			} `json:"speechConfig"`
		} `json:"generationConfig"`
		SystemInstruction struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"systemInstruction"`
	} `json:"setup"`
}

func TestNewGeminiTransportValidation(t *testing.T) {
	_, err := NewGeminiTransport(GeminiOptions{APIKey: "k"})
	require.ErrorIs(t, err, shared.ErrNoLogger)
	_, err = NewGeminiTransport(GeminiOptions{Logger: shared.NewNopLogger()})
	require.ErrorIs(t, err, shared.ErrNoAPIKey)

	tr, err := NewGeminiTransport(GeminiOptions{APIKey: "k", Logger: shared.NewNopLogger()})
	require.NoError(t, err)
	assert.Equal(t, AudioFormats{InputRate: 16000, OutputRate: 24000}, tr.Formats())
	assert.Equal(t, shared.ProviderGemini, tr.Name())
}

func TestGeminiSetup(t *testing.T) {
	tests := []struct {
		name      string
		setup     Setup
		wantVoice string
		wantModel string
	}{
		{name: "video default voice", setup: Setup{Video: true, SystemInstruction: "be kind"}, wantVoice: "Kore", wantModel: defaultGeminiModel},
		{name: "phone default voice", setup: Setup{SystemInstruction: "be kind"}, wantVoice: "Charon", wantModel: defaultGeminiModel},
		{name: "explicit voice", setup: Setup{Voice: "Puck", SystemInstruction: "be kind"}, wantVoice: "Puck", wantModel: defaultGeminiModel},
		{name: "explicit model", setup: Setup{Model: "gemini-live-2.5-flash", SystemInstruction: "be kind"}, wantVoice: "Charon", wantModel: "gemini-live-2.5-flash"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setups := make(chan receivedSetup, 1)
			keys := make(chan string, 1)
			srv := startWSServer(t, func(conn *websocket.Conn, r *http.Request) {
				keys <- r.URL.Query().Get("key")
				var got receivedSetup
				readJSON(t, conn, &got)
				setups <- got
				writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
				<-conn.CloseRead(context.Background()).Done()
			}, nil)

			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			c, err := newTestGemini(t, srv).Connect(ctx, tt.setup)
			require.NoError(t, err)
			defer c.Close()

			got := <-setups
			assert.Equal(t, "test-key", <-keys)
			assert.Equal(t, "models/"+tt.wantModel, got.Setup.Model)
			assert.Equal(t, []string{"AUDIO"}, got.Setup.GenerationConfig.ResponseModalities)
			assert.Equal(t, tt.wantVoice, got.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
			require.Len(t, got.Setup.SystemInstruction.Parts, 1)
			assert.Equal(t, "be kind", got.Setup.SystemInstruction.Parts[0].Text)
		})
	}
}

func TestGeminiSetupRejected(t *testing.T) {
	srv := startWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var got receivedSetup
		readJSON(t, conn, &got)
		writeJSON(t, conn, map[string]any{"error": map[string]any{"code": 400, "message": "model not found"}})
		<-conn.CloseRead(context.Background()).Done()
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := newTestGemini(t, srv).Connect(ctx, Setup{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestGeminiSendAndReceive(t *testing.T) {
	chunk := pcmChunk(480, 24000)
	media := make(chan []tools.Blob, 1)
	srv := startWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var got receivedSetup
		readJSON(t, conn, &got)
		writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})

		var in struct {
			RealtimeInput struct {
				MediaChunks []tools.Blob `json:"mediaChunks"`
			} `json:"realtimeInput"`
		}
		readJSON(t, conn, &in)
		media <- in.RealtimeInput.MediaChunks

		writeJSON(t, conn, map[string]any{"usageMetadata": map[string]any{"totalTokenCount": 3}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{
			"modelTurn": map[string]any{"parts": []any{
				map[string]any{"text": "thinking"},
				map[string]any{"inlineData": map[string]any{"mimeType": chunk.MIMEType, "data": chunk.Data}},
			}},
		}})
		writeJSON(t, conn, map[string]any{"goAway": map[string]any{"timeLeft": "10s"}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"interrupted": true}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		conn.Close(websocket.StatusNormalClosure, "bye")
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := newTestGemini(t, srv).Connect(ctx, Setup{})
	require.NoError(t, err)
	defer c.Close()

	out := tools.CreateBlob(make([]float32, 160), 16000)
	require.NoError(t, c.SendAudio(ctx, out))
	assert.Equal(t, []tools.Blob{out}, <-media)

	msg, err := c.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, ServerMessage{Audio: []tools.Blob{chunk}}, msg)

	msg, err = c.Recv(ctx)
	require.NoError(t, err)
	assert.True(t, msg.Interrupted)

	msg, err = c.Recv(ctx)
	require.NoError(t, err)
	assert.True(t, msg.TurnComplete)

	_, err = c.Recv(ctx)
	require.ErrorIs(t, err, shared.ErrRemoteClosed)
}

func TestGeminiAbnormalCloseIsNotRemoteClose(t *testing.T) {
	srv := startWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var got receivedSetup
		readJSON(t, conn, &got)
		writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
		conn.Close(websocket.StatusInternalError, "overloaded")
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := newTestGemini(t, srv).Connect(ctx, Setup{})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Recv(ctx)
	require.Error(t, err)
	assert.False(t, errors.Is(err, shared.ErrRemoteClosed))
}

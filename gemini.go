package live

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bt-bridge/consult-live/shared"
	"github.com/bt-bridge/consult-live/tools"
	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const (
	defaultGeminiModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultGeminiBaseURL = "wss://generativelanguage.googleapis.com/ws"

	geminiInputRate  = 16000
	geminiOutputRate = 24000

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	// inbound audio messages can be large; the library default is 32 KiB
	wsReadLimit = 16 << 20
)

type GeminiOptions struct {
	APIKey  string
	BaseURL string
	Model   string
	// VoiceVideo and VoicePhone are the default voices for video and phone
	// calls when the call does not name one.
	VoiceVideo string
	VoicePhone string
	Logger     shared.LoggerAdapter
}

// GeminiTransport speaks the BidiGenerateContent protocol of the Gemini Live
// API over a websocket.
type GeminiTransport struct {
	opts GeminiOptions
}

var _ Transport = (*GeminiTransport)(nil)

func NewGeminiTransport(opts GeminiOptions) (*GeminiTransport, error) {
	if opts.Logger == nil {
		return nil, shared.ErrNoLogger
	}
	if opts.APIKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultGeminiBaseURL
	}
	if opts.Model == "" {
		opts.Model = defaultGeminiModel
	}
	if opts.VoiceVideo == "" {
		opts.VoiceVideo = "Kore"
	}
	if opts.VoicePhone == "" {
		opts.VoicePhone = "Charon"
	}
	opts.Logger = opts.Logger.With(zap.String("transport", "gemini"))
	return &GeminiTransport{opts: opts}, nil
}

func (t *GeminiTransport) Name() string { return shared.ProviderGemini }

func (t *GeminiTransport) Formats() AudioFormats {
	return AudioFormats{InputRate: geminiInputRate, OutputRate: geminiOutputRate}
}

// Connect dials the endpoint, sends the setup message and waits for
// setupComplete.
func (t *GeminiTransport) Connect(ctx context.Context, setup Setup) (Conn, error) {
	endpoint := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		t.opts.BaseURL, url.QueryEscape(t.opts.APIKey),
	)
	ws, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dialing gemini: %w", err)
	}
	ws.SetReadLimit(wsReadLimit)

	voice := setup.Voice
	if voice == "" {
		voice = t.opts.VoicePhone
		if setup.Video {
			voice = t.opts.VoiceVideo
		}
	}
	model := setup.Model
	if model == "" {
		model = t.opts.Model
	}
	msg := geminiSetupMessage{Setup: geminiSetup{
		Model: "models/" + model,
		GenerationConfig: geminiGenerationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &geminiSpeechConfig{VoiceConfig: geminiVoiceConfig{
				PrebuiltVoiceConfig: geminiPrebuiltVoice{VoiceName: voice},
			}},
		},
	}}
	if setup.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: setup.SystemInstruction}}}
	}
	if err := writeSonic(ctx, ws, msg); err != nil {
		ws.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("sending setup: %w", err)
	}
	if err := awaitSetupComplete(ctx, ws); err != nil {
		ws.Close(websocket.StatusInternalError, "setup failed")
		return nil, err
	}
	t.opts.Logger.Debug("setup complete", zap.String("model", model), zap.String("voice", voice))

	c := &geminiConn{
		ws:     ws,
		logger: t.opts.Logger,
		done:   make(chan struct{}),
	}
	go c.keepalive()
	return c, nil
}

func awaitSetupComplete(ctx context.Context, ws *websocket.Conn) error {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return fmt.Errorf("waiting for setupComplete: %w", mapCloseError(err))
		}
		var msg geminiServerMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != nil {
			return fmt.Errorf("setup rejected: %s", msg.Error.Message)
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

func writeSonic(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

// mapCloseError turns a normal close by the peer into ErrRemoteClosed.
func mapCloseError(err error) error {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return fmt.Errorf("%w: %w", shared.ErrRemoteClosed, err)
	}
	return err
}

type geminiConn struct {
	ws     *websocket.Conn
	logger shared.LoggerAdapter

	closeOnce sync.Once
	done      chan struct{}
}

func (c *geminiConn) SendAudio(ctx context.Context, blob tools.Blob) error {
	return writeSonic(ctx, c.ws, geminiRealtimeInputMessage{
		RealtimeInput: geminiRealtimeInput{MediaChunks: []tools.Blob{blob}},
	})
}

// Recv returns the next message carrying audio or a turn signal. Malformed
// and unrelated messages are skipped.
func (c *geminiConn) Recv(ctx context.Context) (ServerMessage, error) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return ServerMessage{}, mapCloseError(err)
		}
		var msg geminiServerMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("skipping malformed message", zap.Error(err))
			continue
		}
		if msg.Error != nil {
			c.logger.Warn("server error",
				zap.Int("code", msg.Error.Code),
				zap.String("status", msg.Error.Status),
				zap.String("message", msg.Error.Message),
			)
			continue
		}
		if msg.GoAway != nil {
			c.logger.Warn("server is going away", zap.String("timeLeft", msg.GoAway.TimeLeft))
			continue
		}
		out := msg.toServerMessage()
		if out.Empty() {
			continue
		}
		return out, nil
	}
}

func (c *geminiConn) keepalive() {
	t := time.NewTicker(keepaliveInterval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), keepaliveTimeout)
			if err := c.ws.Ping(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				c.logger.Debug("keepalive ping failed", zap.Error(err))
			}
			cancel()
		}
	}
}

func (c *geminiConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close(websocket.StatusNormalClosure, "session ended")
	})
	return err
}

type geminiSetupMessage struct {
	Setup geminiSetup `json:"setup"`
}

type geminiSetup struct {
	Model             string                 `json:"model"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string            `json:"responseModalities"`
	SpeechConfig       *geminiSpeechConfig `json:"speechConfig,omitempty"`
}

type geminiSpeechConfig struct {
	VoiceConfig geminiVoiceConfig `json:"voiceConfig"`
}

type geminiVoiceConfig struct {
	PrebuiltVoiceConfig geminiPrebuiltVoice `json:"prebuiltVoiceConfig"`
}

type geminiPrebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *tools.Blob `json:"inlineData,omitempty"`
}

type geminiRealtimeInputMessage struct {
	RealtimeInput geminiRealtimeInput `json:"realtimeInput"`
}

type geminiRealtimeInput struct {
	MediaChunks []tools.Blob `json:"mediaChunks"`
}

type geminiServerMessage struct {
	SetupComplete *struct{}            `json:"setupComplete,omitempty"`
	ServerContent *geminiServerContent `json:"serverContent,omitempty"`
	GoAway        *geminiGoAway        `json:"goAway,omitempty"`
	Error         *geminiError         `json:"error,omitempty"`
}

type geminiServerContent struct {
	ModelTurn    *geminiContent `json:"modelTurn,omitempty"`
	TurnComplete bool           `json:"turnComplete,omitempty"`
	Interrupted  bool           `json:"interrupted,omitempty"`
}

type geminiGoAway struct {
	TimeLeft string `json:"timeLeft"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

func (m *geminiServerMessage) toServerMessage() ServerMessage {
	var out ServerMessage
	sc := m.ServerContent
	if sc == nil {
		return out
	}
	out.Interrupted = sc.Interrupted
	out.TurnComplete = sc.TurnComplete
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				out.Audio = append(out.Audio, *p.InlineData)
			}
		}
	}
	return out
}

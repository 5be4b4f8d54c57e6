package live

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/bt-bridge/consult-live/shared"
	"github.com/bt-bridge/consult-live/tools"
	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/realtime"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-realtime"
	openAIRate           = 24000
)

type OpenAIOptions struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
	// Eagerness of semantic VAD: low, medium, high or auto.
	Eagerness string
	Logger    shared.LoggerAdapter
	// Client mints client secrets. fasthttp's default client is used when
	// nil.
	Client *fasthttp.Client
}

// OpenAITransport speaks the OpenAI Realtime API over a websocket. Each
// Connect mints a short-lived client secret for the call's session config
// and dials with it.
type OpenAITransport struct {
	opts    OpenAIOptions
	baseURL *url.URL
}

var _ Transport = (*OpenAITransport)(nil)

func NewOpenAITransport(opts OpenAIOptions) (*OpenAITransport, error) {
	if opts.Logger == nil {
		return nil, shared.ErrNoLogger
	}
	if opts.APIKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultOpenAIBaseURL
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if opts.Model == "" {
		opts.Model = defaultOpenAIModel
	}
	if opts.Voice == "" {
		opts.Voice = "marin"
	}
	if opts.Eagerness == "" {
		opts.Eagerness = "auto"
	}
	opts.Logger = opts.Logger.With(zap.String("transport", "openai"))
	return &OpenAITransport{opts: opts, baseURL: base}, nil
}

func (t *OpenAITransport) Name() string { return shared.ProviderOpenAI }

func (t *OpenAITransport) Formats() AudioFormats {
	return AudioFormats{InputRate: openAIRate, OutputRate: openAIRate}
}

// SessionConfig builds the session a call with setup runs in.
func (t *OpenAITransport) SessionConfig(setup Setup) *realtime.RealtimeSessionCreateRequestParam {
	voice := setup.Voice
	if voice == "" {
		voice = t.opts.Voice
	}
	pcm := realtime.RealtimeAudioFormatsUnionParam{
		OfAudioPCM: &realtime.RealtimeAudioFormatsAudioPCMParam{
			Rate: openAIRate,
			Type: "audio/pcm",
		},
	}
	cfg := &realtime.RealtimeSessionCreateRequestParam{
		Model: t.model(setup),
		Audio: realtime.RealtimeAudioConfigParam{
			Input: realtime.RealtimeAudioConfigInputParam{
				TurnDetection: realtime.RealtimeAudioInputTurnDetectionUnionParam{
					OfSemanticVad: &realtime.RealtimeAudioInputTurnDetectionSemanticVadParam{
						CreateResponse:    param.NewOpt(true),
						InterruptResponse: param.NewOpt(true),
						Eagerness:         t.opts.Eagerness,
					},
				},
				Format: pcm,
			},
			Output: realtime.RealtimeAudioConfigOutputParam{
				Format: pcm,
				Voice:  realtime.RealtimeAudioConfigOutputVoice(voice),
			},
		},
	}
	if setup.SystemInstruction != "" {
		cfg.Instructions = param.NewOpt(setup.SystemInstruction)
	}
	return cfg
}

func (t *OpenAITransport) Connect(ctx context.Context, setup Setup) (Conn, error) {
	cfg := t.SessionConfig(setup)
	secret, err := t.mintSecret(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("minting client secret: %w", err)
	}

	model := t.model(setup)
	endpoint, err := t.realtimeURL(model)
	if err != nil {
		return nil, err
	}
	ws, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + secret},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dialing openai: %w", err)
	}
	ws.SetReadLimit(wsReadLimit)

	if err := awaitSessionCreated(ctx, ws); err != nil {
		ws.Close(websocket.StatusInternalError, "session not created")
		return nil, err
	}
	// semantic VAD only answers after the user spoke; ask for the greeting
	greet := &ClientEvent{Type: ClientEventTypeResponseCreate, Param: &ClientEventParamResponseCreate{}}
	if err := writeEvent(ctx, ws, greet); err != nil {
		ws.Close(websocket.StatusInternalError, "greeting failed")
		return nil, fmt.Errorf("requesting greeting: %w", err)
	}
	t.opts.Logger.Debug("session created", zap.String("model", model))

	return &openAIConn{ws: ws, logger: t.opts.Logger}, nil
}

func (t *OpenAITransport) model(setup Setup) string {
	if setup.Model != "" {
		return setup.Model
	}
	return t.opts.Model
}

func (t *OpenAITransport) realtimeURL(model string) (string, error) {
	u := t.baseURL.JoinPath("/realtime")
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base URL scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type clientSecretResponse struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

func (t *OpenAITransport) mintSecret(ctx context.Context, cfg *realtime.RealtimeSessionCreateRequestParam) (string, error) {
	sessBytes, err := cfg.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshaling config: %w", err)
	}
	body := make([]byte, 0, len(sessBytes)+16)
	body = append(body, `{"session":`...)
	body = append(body, sessBytes...)
	body = append(body, '}')

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	release := func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}

	req.SetRequestURI(t.baseURL.JoinPath("/realtime/client_secrets").String())
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set("Authorization", "Bearer "+t.opts.APIKey)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	do := fasthttp.Do
	if t.opts.Client != nil {
		do = t.opts.Client.Do
	}
	errC := make(chan error, 1)
	go func() {
		errC <- do(req, resp)
	}()
	select {
	case <-ctx.Done():
		// req and resp stay in use until the request returns
		go func() {
			<-errC
			release()
		}()
		return "", ctx.Err()
	case err := <-errC:
		defer release()
		if err != nil {
			return "", fmt.Errorf("performing HTTP request: %w", err)
		}
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), string(resp.Body()))
	}
	var out clientSecretResponse
	if err := sonic.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decoding client secret: %w", err)
	}
	if out.Value == "" {
		return "", errors.New("empty client secret")
	}
	return out.Value, nil
}

func awaitSessionCreated(ctx context.Context, ws *websocket.Conn) error {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return fmt.Errorf("waiting for session.created: %w", mapCloseError(err))
		}
		ev := new(ServerEvent)
		if err := ev.UnmarshalJSON(data); err != nil {
			continue
		}
		switch p := ev.Param.(type) {
		case *ServerEventParamError:
			return fmt.Errorf("session rejected: %w", p)
		case *ServerEventParamSession:
			if ev.Type == ServerEventTypeSessionCreated {
				return nil
			}
		}
	}
}

func writeEvent(ctx context.Context, ws *websocket.Conn, ev *ClientEvent) error {
	data, err := ev.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", ev.Type, err)
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

type openAIConn struct {
	ws     *websocket.Conn
	logger shared.LoggerAdapter

	closeOnce sync.Once
}

func (c *openAIConn) SendAudio(ctx context.Context, blob tools.Blob) error {
	return writeEvent(ctx, c.ws, &ClientEvent{
		Type:  ClientEventTypeInputAudioBufferAppend,
		Param: &ClientEventParamInputAudioBufferAppend{Audio: blob.Data},
	})
}

func (c *openAIConn) Recv(ctx context.Context) (ServerMessage, error) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return ServerMessage{}, mapCloseError(err)
		}
		ev := new(ServerEvent)
		if err := ev.UnmarshalJSON(data); err != nil {
			if errors.Is(err, ErrUnknownEvent) {
				c.logger.Trace("skipping event", zap.String("type", string(ev.Type)))
			} else {
				c.logger.Debug("skipping malformed event", zap.Error(err), zap.ByteString("data", data))
			}
			continue
		}
		switch p := ev.Param.(type) {
		case *ServerEventParamResponseOutputAudioDelta:
			return ServerMessage{Audio: []tools.Blob{{Data: p.Delta, MIMEType: tools.PCMMIMEType(openAIRate)}}}, nil
		case *ServerEventParamInputAudioBufferSpeechStarted:
			return ServerMessage{Interrupted: true}, nil
		case *ServerEventParamResponse:
			if ev.Type == ServerEventTypeResponseDone {
				c.logger.Debug("response done", zap.String("status", p.Status()))
				return ServerMessage{TurnComplete: true}, nil
			}
		case *ServerEventParamError:
			c.logger.Warn("server error", zap.String("event_id", ev.EventId), zap.Error(p))
		}
	}
}

func (c *openAIConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.ws.Close(websocket.StatusNormalClosure, "session ended")
	})
	return err
}

package live

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// Wire events of the OpenAI Realtime websocket API, reduced to the ones a
// voice-only session uses.

type EventType string

type ServerEventType EventType

type ClientEventType EventType

// Server event types
const (
	ServerEventTypeError                         ServerEventType = "error"
	ServerEventTypeSessionCreated                ServerEventType = "session.created"
	ServerEventTypeSessionUpdated                ServerEventType = "session.updated"
	ServerEventTypeInputAudioBufferSpeechStarted ServerEventType = "input_audio_buffer.speech_started"
	ServerEventTypeInputAudioBufferSpeechStopped ServerEventType = "input_audio_buffer.speech_stopped"
	ServerEventTypeResponseCreated               ServerEventType = "response.created"
	ServerEventTypeResponseDone                  ServerEventType = "response.done"
	ServerEventTypeResponseOutputAudioDelta      ServerEventType = "response.output_audio.delta"
	ServerEventTypeResponseOutputAudioDone       ServerEventType = "response.output_audio.done"
)

// Client event types
const (
	ClientEventTypeInputAudioBufferAppend ClientEventType = "input_audio_buffer.append"
	ClientEventTypeResponseCreate         ClientEventType = "response.create"
)

// ErrUnknownEvent is returned when decoding an event type this package does
// not model. Callers skip such events.
var ErrUnknownEvent = errors.New("unknown event type")

type ServerEvent struct {
	EventId string
	Type    ServerEventType
	Param   ServerEventParam
}

func (e *ServerEvent) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["event_id"].(string); ok {
		e.EventId = v
		delete(raw, "event_id")
	}
	if v, ok := raw["type"].(string); ok {
		e.Type = ServerEventType(v)
		delete(raw, "type")
	} else {
		return errors.New("missing type")
	}
	switch e.Type {
	case ServerEventTypeError:
		e.Param = new(ServerEventParamError)
	case ServerEventTypeSessionCreated, ServerEventTypeSessionUpdated:
		e.Param = new(ServerEventParamSession)
	case ServerEventTypeInputAudioBufferSpeechStarted:
		e.Param = new(ServerEventParamInputAudioBufferSpeechStarted)
	case ServerEventTypeInputAudioBufferSpeechStopped:
		e.Param = new(ServerEventParamInputAudioBufferSpeechStopped)
	case ServerEventTypeResponseCreated, ServerEventTypeResponseDone:
		e.Param = new(ServerEventParamResponse)
	case ServerEventTypeResponseOutputAudioDelta:
		e.Param = new(ServerEventParamResponseOutputAudioDelta)
	case ServerEventTypeResponseOutputAudioDone:
		e.Param = new(ServerEventParamResponseOutputAudioDone)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownEvent, e.Type)
	}
	return e.Param.New(raw)
}

type ClientEvent struct {
	EventId string
	Type    ClientEventType
	Param   ClientEventParam
}

func (e *ClientEvent) MarshalJSON() ([]byte, error) {
	if e.Type == "" {
		return nil, errors.New("Type is empty")
	}
	resp := map[string]any{}
	if e.Param != nil {
		for k, v := range e.Param.Json() {
			resp[k] = v
		}
	}
	if e.EventId != "" {
		resp["event_id"] = e.EventId
	}
	resp["type"] = e.Type
	return sonic.Marshal(resp)
}

// ServerEventParam is the payload of a decoded server event.
type ServerEventParam interface {
	New(map[string]any) error
}

// ClientEventParam is the payload of an outgoing client event.
type ClientEventParam interface {
	Json() map[string]any
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float32:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}

// error
type ServerEventParamError struct {
	Type    string
	EventId string
	Code    string
	Message string
	Param   any
}

func (p *ServerEventParamError) New(m map[string]any) error {
	errObj, ok := m["error"].(map[string]any)
	if !ok {
		return errors.New("missing error")
	}
	if v, ok := errObj["type"].(string); ok {
		p.Type = v
	} else {
		return errors.New("missing error.type")
	}
	if v, ok := errObj["message"].(string); ok {
		p.Message = v
	} else {
		return errors.New("missing error.message")
	}
	// code and event_id are null for some error types
	p.Code, _ = errObj["code"].(string)
	p.EventId, _ = errObj["event_id"].(string)
	p.Param = errObj["param"]
	return nil
}

func (p *ServerEventParamError) Error() string {
	if p.Code != "" {
		return fmt.Sprintf("%s (%s): %s", p.Type, p.Code, p.Message)
	}
	return fmt.Sprintf("%s: %s", p.Type, p.Message)
}

// session.created, session.updated
type ServerEventParamSession struct {
	Session map[string]any
}

func (p *ServerEventParamSession) New(m map[string]any) error {
	if session, ok := m["session"].(map[string]any); ok {
		p.Session = session
	} else {
		return errors.New("missing session")
	}
	return nil
}

// input_audio_buffer.speech_started
type ServerEventParamInputAudioBufferSpeechStarted struct {
	AudioStartMs int
	ItemId       string
}

func (p *ServerEventParamInputAudioBufferSpeechStarted) New(m map[string]any) error {
	if v, ok := asInt(m["audio_start_ms"]); ok {
		p.AudioStartMs = v
	} else {
		return errors.New("missing audio_start_ms")
	}
	if v, ok := m["item_id"].(string); ok {
		p.ItemId = v
	} else {
		return errors.New("missing item_id")
	}
	return nil
}

// input_audio_buffer.speech_stopped
type ServerEventParamInputAudioBufferSpeechStopped struct {
	AudioEndMs int
	ItemId     string
}

func (p *ServerEventParamInputAudioBufferSpeechStopped) New(m map[string]any) error {
	if v, ok := asInt(m["audio_end_ms"]); ok {
		p.AudioEndMs = v
	} else {
		return errors.New("missing audio_end_ms")
	}
	if v, ok := m["item_id"].(string); ok {
		p.ItemId = v
	} else {
		return errors.New("missing item_id")
	}
	return nil
}

// response.created, response.done
type ServerEventParamResponse struct {
	Response map[string]any
}

func (p *ServerEventParamResponse) New(m map[string]any) error {
	if v, ok := m["response"].(map[string]any); ok {
		p.Response = v
	} else {
		return errors.New("missing response")
	}
	return nil
}

// Status of the response, "completed", "cancelled", "failed" or
// "incomplete".
func (p *ServerEventParamResponse) Status() string {
	s, _ := p.Response["status"].(string)
	return s
}

// response.output_audio.delta
type ServerEventParamResponseOutputAudioDelta struct {
	ResponseId   string
	ItemId       string
	OutputIndex  int
	ContentIndex int
	// Delta is base64 PCM16 at the session's output rate.
	Delta string
}

func (p *ServerEventParamResponseOutputAudioDelta) New(m map[string]any) error {
	if v, ok := m["response_id"].(string); ok {
		p.ResponseId = v
	} else {
		return errors.New("missing response_id")
	}
	if v, ok := m["item_id"].(string); ok {
		p.ItemId = v
	} else {
		return errors.New("missing item_id")
	}
	if v, ok := asInt(m["output_index"]); ok {
		p.OutputIndex = v
	} else {
		return errors.New("missing output_index")
	}
	if v, ok := asInt(m["content_index"]); ok {
		p.ContentIndex = v
	} else {
		return errors.New("missing content_index")
	}
	if v, ok := m["delta"].(string); ok {
		p.Delta = v
	} else {
		return errors.New("missing delta")
	}
	return nil
}

// response.output_audio.done
type ServerEventParamResponseOutputAudioDone struct {
	ResponseId string
	ItemId     string
}

func (p *ServerEventParamResponseOutputAudioDone) New(m map[string]any) error {
	if v, ok := m["response_id"].(string); ok {
		p.ResponseId = v
	} else {
		return errors.New("missing response_id")
	}
	if v, ok := m["item_id"].(string); ok {
		p.ItemId = v
	} else {
		return errors.New("missing item_id")
	}
	return nil
}

// input_audio_buffer.append
type ClientEventParamInputAudioBufferAppend struct {
	// Audio is base64 PCM16 at the session's input rate.
	Audio string
}

func (p *ClientEventParamInputAudioBufferAppend) Json() map[string]any {
	return map[string]any{
		"audio": p.Audio,
	}
}

// response.create
type ClientEventParamResponseCreate struct {
	// Instructions override the session instructions for this response.
	Instructions string
}

func (p *ClientEventParamResponseCreate) Json() map[string]any {
	r := map[string]any{}
	if p.Instructions != "" {
		r["instructions"] = p.Instructions
	}
	return map[string]any{
		"response": r,
	}
}

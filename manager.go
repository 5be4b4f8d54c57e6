package live

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bt-bridge/consult-live/observe"
	"github.com/bt-bridge/consult-live/shared"
	"go.uber.org/zap"
)

type sessionOptions struct {
	captureRate     int
	frameSamples    int
	outboundQueue   int
	dropPolicy      DropPolicy
	maxPlaybackLead time.Duration
	tickInterval    time.Duration
	connectTimeout  time.Duration
}

func defaultSessionOptions() sessionOptions {
	return sessionOptions{
		captureRate:     16000,
		frameSamples:    4096,
		outboundQueue:   64,
		dropPolicy:      DropOldest,
		maxPlaybackLead: 30 * time.Second,
		tickInterval:    time.Second,
		connectTimeout:  15 * time.Second,
	}
}

// Manager starts live sessions against one transport and keeps at most one
// of them running.
type Manager struct {
	transport Transport
	media     MediaSource
	output    OutputSource
	logger    shared.LoggerAdapter
	metrics   *observe.Metrics
	opts      sessionOptions

	mu     sync.Mutex
	active *Session
}

type Option func(*Manager)

func WithLogger(l shared.LoggerAdapter) Option {
	return func(m *Manager) { m.logger = l }
}

func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// WithOutboundQueue sets the capacity and drop policy of the queue between
// capture and the transport.
func WithOutboundQueue(capacity int, policy DropPolicy) Option {
	return func(m *Manager) {
		m.opts.outboundQueue = capacity
		m.opts.dropPolicy = policy
	}
}

// WithMaxPlaybackLead bounds the inbound backlog. Zero disables the bound.
func WithMaxPlaybackLead(d time.Duration) Option {
	return func(m *Manager) { m.opts.maxPlaybackLead = d }
}

func WithTickInterval(d time.Duration) Option {
	return func(m *Manager) { m.opts.tickInterval = d }
}

func WithConnectTimeout(d time.Duration) Option {
	return func(m *Manager) { m.opts.connectTimeout = d }
}

// WithCapture sets the requested capture rate and frame size.
func WithCapture(sampleRate, frameSamples int) Option {
	return func(m *Manager) {
		m.opts.captureRate = sampleRate
		m.opts.frameSamples = frameSamples
	}
}

// OptionsFromConfig maps the session and audio sections of cfg to options.
// cfg is expected to be validated.
func OptionsFromConfig(cfg *shared.Config) []Option {
	policy, _ := ParseDropPolicy(cfg.Session.DropPolicy)
	return []Option{
		WithCapture(cfg.Audio.CaptureRate, cfg.Audio.FrameSamples),
		WithOutboundQueue(cfg.Session.OutboundQueue, policy),
		WithMaxPlaybackLead(cfg.Session.MaxPlaybackLead.Std()),
		WithTickInterval(cfg.Session.TickInterval.Std()),
		WithConnectTimeout(cfg.Session.ConnectTimeout.Std()),
	}
}

func NewManager(transport Transport, media MediaSource, output OutputSource, opts ...Option) (*Manager, error) {
	if transport == nil {
		return nil, shared.ErrNoTransport
	}
	if media == nil || output == nil {
		return nil, shared.ErrNoMediaSource
	}
	m := &Manager{
		transport: transport,
		media:     media,
		output:    output,
		opts:      defaultSessionOptions(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		return nil, shared.ErrNoLogger
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	if m.opts.tickInterval <= 0 {
		return nil, fmt.Errorf("tick interval must be positive, got %s", m.opts.tickInterval)
	}
	if m.opts.connectTimeout <= 0 {
		return nil, fmt.Errorf("connect timeout must be positive, got %s", m.opts.connectTimeout)
	}
	return m, nil
}

// Start opens a session for cfg and blocks until it is open. Events of the
// session, including the Connecting and Open transitions, go to h.
//
// On failure the session is already closed and released: h still receives
// the Closed and Ended events, and the returned error is a
// shared.MediaAccessError or shared.TransportError.
func (m *Manager) Start(ctx context.Context, cfg CallConfig, h EventHandler) (*Session, error) {
	if strings.TrimSpace(cfg.Persona.Name) == "" {
		return nil, shared.ErrNoPersona
	}
	if h == nil {
		return nil, shared.ErrNoEventHandler
	}

	m.mu.Lock()
	if m.runningLocked() != nil {
		m.mu.Unlock()
		return nil, shared.ErrSessionAlreadyRunning
	}
	s := newSession(m, cfg, h)
	m.active = s
	m.mu.Unlock()

	if err := s.start(ctx); err != nil {
		<-s.Done()
		m.release(s)
		if !errors.Is(err, shared.ErrSessionEnded) {
			m.logger.Warn("session failed to start", zap.String("session", s.ID()), zap.Error(err))
		}
		return nil, err
	}
	return s, nil
}

// Active returns the running session, or nil.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runningLocked()
}

// runningLocked forgets the active session once it has been released.
func (m *Manager) runningLocked() *Session {
	if m.active == nil {
		return nil
	}
	select {
	case <-m.active.Done():
		m.active = nil
	default:
	}
	return m.active
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == s {
		m.active = nil
	}
}

// End ends the running session, if any.
func (m *Manager) End() {
	if s := m.Active(); s != nil {
		s.End()
	}
}

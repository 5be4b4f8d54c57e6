package agents

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	live "github.com/bt-bridge/consult-live"
	"github.com/bt-bridge/consult-live/catalog"
	"github.com/bt-bridge/consult-live/shared"
	"github.com/goccy/go-yaml"
	"go.uber.org/zap"
)

// tickEvery controls how often the call timer is printed, in seconds.
const tickEvery = 15

type CLIOptions struct {
	Consultant catalog.Consultant
	Video      bool
	Voice      string
	Model      string
	// Config is printed, without credentials, before the call starts.
	Config *shared.Config
	// SessionConfig is the provider specific session description, printed
	// as YAML when set. Types implementing json.Marshaler are honoured.
	SessionConfig any
	// Input carries the user's commands: "m" toggles mute, "q" hangs up.
	Input io.Reader
}

// CLIAgent runs one call in a terminal.
type CLIAgent struct {
	logger  shared.LoggerAdapter
	printer *shared.Printer
	session *live.Session

	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
}

func (a *CLIAgent) Spawn(
	ctx context.Context,
	logger shared.LoggerAdapter,
	manager *live.Manager,
	printer *shared.Printer,
	opts CLIOptions,
) (err error) {
	if logger == nil {
		return shared.ErrNoLogger
	}
	if manager == nil {
		return shared.ErrNoTransport
	}
	if printer == nil {
		return errors.New("no printer provided")
	}
	a.logger = logger.With(zap.String("consultant", opts.Consultant.ID))
	a.printer = printer
	a.done = make(chan struct{})
	defer func() {
		if err != nil {
			close(a.done)
		}
	}()
	a.logger.Info("spawning CLI agent")

	if opts.Config != nil {
		if err := a.printYAML("📋 Config", opts.Config); err != nil {
			return err
		}
	}
	if opts.SessionConfig != nil {
		if err := a.printYAML("📋 Session Config", opts.SessionConfig); err != nil {
			return err
		}
	}

	kind := "phone"
	if opts.Video {
		kind = "video"
	}
	a.status("📞", "Calling %s (%s, %s) for a %s consultation...", opts.Consultant.Name, opts.Consultant.Title, opts.Consultant.Category, kind)

	session, err := manager.Start(ctx, live.CallConfig{
		Persona: opts.Consultant.Persona(),
		Video:   opts.Video,
		Voice:   opts.Voice,
		Model:   opts.Model,
	}, live.EventHandlerFunc(a.handleEvent))
	if err != nil {
		a.logger.Error("starting session", err)
		var media *shared.MediaAccessError
		if errors.As(err, &media) {
			a.status("❌", "Unable to access the %s. Please check that it is connected and that access is granted.", media.Device)
		} else {
			a.status("❌", "Call failed: %v", err)
		}
		return err
	}
	a.mu.Lock()
	a.session = session
	a.mu.Unlock()
	a.status("✅", "Connected. Type m + Enter to toggle mute, q + Enter to hang up.")

	go func() {
		<-session.Done()
		<-session.EventsDone()
		close(a.done)
	}()
	if opts.Input != nil {
		go a.readCommands(opts.Input)
	}
	return nil
}

func (a *CLIAgent) readCommands(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		select {
		case <-a.done:
			return
		default:
		}
		if a.command(sc.Text()) {
			return
		}
	}
	if err := sc.Err(); err != nil {
		a.logger.Warn("reading commands", zap.Error(err))
	}
}

// command runs one input line and reports whether the call was ended.
func (a *CLIAgent) command(line string) bool {
	a.mu.Lock()
	s := a.session
	a.mu.Unlock()
	if s == nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "m", "mute":
		s.SetMuted(!s.Muted())
	case "q", "quit", "hangup":
		s.End()
		return true
	case "":
	default:
		a.status("❔", "Unknown command %q", line)
	}
	return false
}

func (a *CLIAgent) handleEvent(e live.Event) {
	switch e.Kind {
	case live.EventStateChanged:
		a.logger.Debug("state changed", zap.Stringer("state", e.State))
		a.status("📡", "Session %s", e.State)
	case live.EventSpeakingChanged:
		if e.Speaking {
			a.status("🗣️", "Consultant speaking")
		} else {
			a.status("👂", "Listening")
		}
	case live.EventMuteChanged:
		if e.Muted {
			a.status("🔇", "Microphone muted")
		} else {
			a.status("🎤", "Microphone live")
		}
	case live.EventTick:
		if s := e.Seconds(); s > 0 && s%tickEvery == 0 {
			a.status("⏱️", "%02d:%02d", s/60, s%60)
		}
	case live.EventEnded:
		if e.Err != nil {
			a.status("❌", "Call ended with an error after %s: %v", e.Elapsed.Round(time.Second), e.Err)
		} else {
			a.status("👋", "Call ended (%s) after %s", e.Reason, e.Elapsed.Round(time.Second))
		}
	}
}

func (a *CLIAgent) printYAML(title string, v any) error {
	var (
		data []byte
		err  error
	)
	if cfg, ok := v.(*shared.Config); ok {
		data, err = cfg.Dump()
	} else {
		data, err = yaml.MarshalWithOptions(v, yaml.UseJSONMarshaler())
	}
	if err != nil {
		a.logger.Error("marshaling "+title, err)
		return err
	}
	if err := a.printer.Writeln(title+"\n", 0); err != nil {
		a.logger.Error("printing title", err)
	}
	if err := a.printer.Write(string(data), 1); err != nil {
		a.logger.Error("printing yaml", err)
		return err
	}
	return a.printer.Writeln("", 0)
}

func (a *CLIAgent) status(icon, format string, args ...any) {
	if err := a.printer.Status(icon, format, args...); err != nil {
		a.logger.Error("printing status", err)
	}
}

// Done is closed once the call ended and every event was printed.
func (a *CLIAgent) Done() <-chan struct{} {
	return a.done
}

// Session returns the running call, nil before Spawn succeeded.
func (a *CLIAgent) Session() *live.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// Close hangs up and waits for the call to wind down.
func (a *CLIAgent) Close() error {
	a.closeOnce.Do(func() {
		if s := a.Session(); s != nil {
			s.End()
		}
	})
	if a.done != nil {
		<-a.done
	}
	return nil
}

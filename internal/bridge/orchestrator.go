package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/nordlicht-labs/mayday/internal/casestore"
	"github.com/nordlicht-labs/mayday/internal/observe"
	"github.com/nordlicht-labs/mayday/internal/session"
	"github.com/nordlicht-labs/mayday/internal/telephony"
	"github.com/nordlicht-labs/mayday/internal/transcript"
)

// DefaultEchoCooldown is how long after the last outbound audio inbound
// frames are still discarded, so the assistant's own voice leaking back
// through the phone line is not misread as caller speech.
const DefaultEchoCooldown = 1500 * time.Millisecond

// errCallEnded signals a clean end of call through the errgroup without
// surfacing as a failure.
var errCallEnded = errors.New("bridge: call ended")

// Option is a functional option for configuring an Orchestrator.
type Option func(*Orchestrator)

// WithCooldown overrides the echo-suppression window.
func WithCooldown(d time.Duration) Option {
	return func(o *Orchestrator) { o.cooldown = d }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator runs one bridged call: two forwarding loops between the
// media stream and the backend, plus the tool-invocation and termination
// logic. One Orchestrator serves exactly one call.
type Orchestrator struct {
	stream  *telephony.MediaStream
	backend Backend
	cases   casestore.Store
	calls   telephony.CallControl

	metrics  *observe.Metrics
	log      *slog.Logger
	cooldown time.Duration
	now      func() time.Time
}

// New creates an Orchestrator for one call. calls may be nil, in which
// case termination skips the out-of-band hang-up.
func New(stream *telephony.MediaStream, backend Backend, cases casestore.Store, calls telephony.CallControl, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		stream:   stream,
		backend:  backend,
		cases:    cases,
		calls:    calls,
		cooldown: DefaultEchoCooldown,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// Run bridges the call until either side ends it. It blocks for the
// lifetime of the call and always releases both adapters before
// returning. A clean end of call (stop event, completed case, backend
// shutdown) returns nil; transport faults return the underlying error.
func (o *Orchestrator) Run(ctx context.Context, sess *session.Session) error {
	log := o.log.With("call_sid", sess.CallID, "stream_sid", sess.StreamID)

	o.metrics.ActiveCalls.Add(ctx, 1)
	defer o.metrics.ActiveCalls.Add(ctx, -1)

	// Registered before the backend starts so a failed start still
	// releases both adapters instead of leaving the caller in dead air.
	defer func() {
		if sess.Close() {
			_ = o.backend.Close()
			_ = o.stream.Close("call ended")
		}
		log.Info("call closed",
			"frames_forwarded", sess.FramesForwarded(),
			"frames_dropped", sess.FramesDropped(),
		)
	}()

	if err := sess.Transition(session.StateStreaming); err != nil {
		return err
	}
	if err := o.backend.Start(ctx, sess); err != nil {
		return fmt.Errorf("bridge: backend start: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.inboundLoop(gctx, sess, log) })
	g.Go(func() error { return o.outboundLoop(gctx, sess, log) })

	err := g.Wait()
	if err == nil || errors.Is(err, errCallEnded) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// inboundLoop reads the media stream and forwards admitted frames to the
// backend. It is the only reader of the speaking/cooldown flags.
func (o *Orchestrator) inboundLoop(ctx context.Context, sess *session.Session, log *slog.Logger) error {
	for {
		ev, err := o.stream.ReadEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("bridge: media stream: %w", err)
		}
		switch ev.Kind {
		case telephony.EventStop:
			log.Info("caller hung up")
			return errCallEnded
		case telephony.EventMedia:
			switch sess.State() {
			case session.StateCaseCreated, session.StateTerminating, session.StateClosed:
				// Queued outbound audio may still flush, but no new
				// inbound audio is admitted once termination begins.
				continue
			}
			if sess.Speaking() || sess.InCooldown(o.now(), o.cooldown) {
				sess.CountDropped()
				o.metrics.FramesDropped.Add(ctx, 1)
				continue
			}
			if err := o.backend.ForwardInbound(ev.Audio); err != nil {
				log.Warn("forward inbound frame", "err", err)
				continue
			}
			sess.CountForwarded()
			o.metrics.RecordFrame(ctx, "inbound")
		case telephony.EventDTMF:
			log.Debug("dtmf", "digit", ev.Digit)
		case telephony.EventMark:
			log.Debug("mark played out", "name", ev.MarkName)
		}
	}
}

// outboundLoop reads backend events and writes audio back to the caller.
// It is the only writer of the speaking/cooldown flags.
func (o *Orchestrator) outboundLoop(ctx context.Context, sess *session.Session, log *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-o.backend.Events():
			if !ok {
				log.Info("backend event stream closed")
				return errCallEnded
			}
			switch ev.Kind {
			case EventAudio:
				if !sess.Speaking() {
					sess.SetSpeaking(true)
					if err := sess.Transition(session.StateSpeaking); err != nil {
						log.Warn("speaking transition", "err", err)
					}
				}
				var err error
				if ev.Paced {
					err = o.stream.SendAudioPaced(ctx, sess.StreamID, ev.Audio.Data)
				} else {
					err = o.stream.SendAudio(ctx, sess.StreamID, ev.Audio.Data)
				}
				if err != nil {
					return err
				}
				sess.MarkOutboundAudio(o.now())
				o.metrics.RecordFrame(ctx, "outbound")
			case EventClear:
				if err := o.stream.Clear(ctx, sess.StreamID); err != nil {
					return err
				}
				sess.SetSpeaking(false)
			case EventTurnDone:
				sess.SetSpeaking(false)
				sess.MarkOutboundAudio(o.now())
				if sess.State() == session.StateCaseCreated {
					// The closing turn has played out.
					return o.terminate(ctx, sess, log)
				}
				if err := sess.Transition(session.StateListening); err != nil {
					log.Warn("listening transition", "err", err)
				}
			case EventTool:
				o.handleTool(ctx, sess, ev.Tool, log)
			}
		}
	}
}

// handleTool validates a case-creation invocation and persists the case.
// An incomplete invocation or a store failure keeps the call in listening
// so the caller gets another chance; neither ends the call.
func (o *Orchestrator) handleTool(ctx context.Context, sess *session.Session, inv *session.ToolInvocation, log *slog.Logger) {
	if inv == nil {
		return
	}
	sess.MergeExtraction(inv.Record)

	// The invocation stands on its own: an invocation with a missing
	// field is a protocol error even when earlier turns already resolved
	// that field in the session.
	if missing := inv.Record.MissingFields(); len(missing) > 0 {
		log.Warn("rejecting incomplete case invocation", "missing", missing)
		o.metrics.RecordToolInvocation(ctx, "rejected")
		if err := o.backend.FailTool(ctx, inv.CallID, "missing required fields: "+strings.Join(missing, ", ")); err != nil {
			log.Warn("report rejected tool call", "err", err)
		}
		return
	}

	record := sess.Extraction()
	caseID, err := o.cases.CreateCase(ctx, "voice-"+sess.CallID, record)
	if err != nil {
		log.Error("case creation failed", "err", err)
		o.metrics.RecordToolInvocation(ctx, "failed")
		if err := o.backend.FailTool(ctx, inv.CallID, "case creation failed, ask the caller to stay on the line"); err != nil {
			log.Warn("report failed tool call", "err", err)
		}
		return
	}

	log.Info("emergency case created", "case_id", caseID, "category", record.Category, "severity", record.Severity)
	o.metrics.RecordToolInvocation(ctx, "created")
	o.metrics.CasesCreated.Add(ctx, 1, metric.WithAttributes(observe.Attr("source", "voice")))

	// The realtime backend keeps no turn history; Format returns "" then
	// and the note is skipped.
	if note := transcript.Format(sess.CallID, sess.StartedAt, sess.Turns()); note != "" {
		if err := o.cases.AppendNote(ctx, caseID, note); err != nil {
			log.Warn("attach call transcript", "case_id", caseID, "err", err)
		}
	}

	if err := sess.Transition(session.StateCaseCreated); err != nil {
		log.Warn("case_created transition", "err", err)
	}
	if err := o.backend.CompleteTool(ctx, inv.CallID, fmt.Sprintf(`{"status": "created", "case_id": %q}`, caseID)); err != nil {
		log.Warn("report completed tool call", "err", err)
	}
}

// terminate issues the single out-of-band hang-up and ends the call.
func (o *Orchestrator) terminate(ctx context.Context, sess *session.Session, log *slog.Logger) error {
	if err := sess.Transition(session.StateTerminating); err != nil {
		log.Warn("terminating transition", "err", err)
	}
	if o.calls != nil {
		if err := o.calls.EndCall(ctx, sess.CallID); err != nil {
			log.Error("end-call control failed", "err", err)
		}
	}
	return errCallEnded
}

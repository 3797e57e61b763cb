package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/calluna-ai/calluna/pkg/adapters/stt"
	"github.com/calluna-ai/calluna/pkg/adapters/tts"
	"github.com/calluna-ai/calluna/pkg/audio"
	"github.com/calluna-ai/calluna/pkg/dispatch"
	"github.com/calluna-ai/calluna/pkg/errorsx"
	"github.com/calluna-ai/calluna/pkg/frames"
	"github.com/calluna-ai/calluna/pkg/llm"
	"github.com/calluna-ai/calluna/pkg/metrics"
	"github.com/calluna-ai/calluna/pkg/priority"
	"github.com/calluna-ai/calluna/pkg/redact"
	"github.com/calluna-ai/calluna/pkg/segmenter"
	"github.com/calluna-ai/calluna/pkg/sessionstore"
	"github.com/calluna-ai/calluna/pkg/transfer"
	"github.com/calluna-ai/calluna/pkg/transports"
)

// Config tunes per-call behaviour. Zero values take defaults.
type Config struct {
	SystemPrompt     string
	Greeting         string
	VoiceID          string
	ExitWords        []string
	ClosingUtterance string
	ApologyUtterance string
	// TransferDialURL is the webhook handed to the outbound leg of a
	// human transfer.
	TransferDialURL string
	MaxTurnHistory  int
	TurnTimeoutMS   int
	SessionTTL      time.Duration
	QueueHighCap    int
	QueueLowCap     int
	Segmenter       segmenter.Config
}

func (c *Config) applyDefaults() {
	if len(c.ExitWords) == 0 {
		c.ExitWords = []string{"goodbye", "bye bye", "hang up"}
	}
	if c.ClosingUtterance == "" {
		c.ClosingUtterance = "Thanks for calling. Goodbye."
	}
	if c.ApologyUtterance == "" {
		c.ApologyUtterance = "Sorry, I am having trouble hearing you. Could you say that again?"
	}
	if c.MaxTurnHistory <= 0 {
		c.MaxTurnHistory = DefaultMaxTurnHistory
	}
	if c.TurnTimeoutMS <= 0 {
		c.TurnTimeoutMS = 30000
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = time.Hour
	}
	if c.QueueHighCap <= 0 {
		c.QueueHighCap = 64
	}
	if c.QueueLowCap <= 0 {
		c.QueueLowCap = 512
	}
}

// Deps are the collaborators a call runs against. Transport, STT, LLM and
// TTS are required; the rest degrade to no-ops when nil.
type Deps struct {
	Transport transports.Transport
	STT       *dispatch.Dispatcher[stt.Request, stt.Transcript]
	LLM       *dispatch.Dispatcher[llm.Request, llm.Reply]
	TTS       *dispatch.Dispatcher[tts.Request, tts.Audio]
	Arbiter   *transfer.Arbiter
	// NewArbiter, when set, supplies a fresh arbiter per call so the
	// unknown-response streak never leaks across sessions.
	NewArbiter func() *transfer.Arbiter
	Dialer     transports.OutboundDialer
	Store      sessionstore.Store
	Observer   metrics.Observer
	Log        *slog.Logger
}

// turnOutcome is posted back into the queue's high lane by the turn
// goroutine so that all session mutation stays on the Run loop.
type turnOutcome struct {
	turnID        int64
	startedAt     time.Time
	userText      string
	assistantText string
	confidence    float64
	empty         bool
	exit          bool
	failed        bool
	canceled      bool
}

// speakingStarted marks the transition point between thinking and talking.
type speakingStarted struct {
	turnID int64
}

// Orchestrator drives one call: it owns the session state machine and
// consumes every frame for its stream on a single goroutine. Turns run on
// their own goroutine and report back through the queue, so the Run loop is
// the only writer of session state.
type Orchestrator struct {
	cfg   Config
	deps  Deps
	sess  *CallSession
	seg   *segmenter.Segmenter
	queue *priority.PriorityQueue
	obs   metrics.Observer
	log   *slog.Logger

	runCtx    context.Context
	runCancel context.CancelFunc

	turnSeq    int64
	activeTurn int64
	turnCancel context.CancelFunc
	pending    []*segmenter.Utterance

	markMu   sync.Mutex
	markName string
	markCh   chan struct{}

	started  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
}

func NewOrchestrator(cfg Config, deps Deps, sess *CallSession) *Orchestrator {
	cfg.applyDefaults()
	obs := deps.Observer
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		cfg:   cfg,
		deps:  deps,
		sess:  sess,
		seg:   segmenter.New(cfg.Segmenter),
		queue: priority.New(cfg.QueueHighCap, cfg.QueueLowCap, 0),
		obs:   obs,
		log:   log.With("stream_id", sess.StreamID, "call_sid", sess.CallSID),
		done:  make(chan struct{}),
	}
}

// Enqueue routes a frame into the call's queue. Control and system frames
// pre-empt buffered audio.
func (o *Orchestrator) Enqueue(f frames.Frame) {
	var ok bool
	if f.Kind() == frames.KindAudio {
		ok = o.queue.TryPushLow(f)
	} else {
		ok = o.queue.TryPushHigh(f)
	}
	if !ok {
		o.record(metrics.EventFrameDropped, 1, map[string]string{"frame_kind": string(f.Kind())})
	}
}

// Run consumes the call's queue until the call ends or Stop closes it.
func (o *Orchestrator) Run(ctx context.Context) {
	o.runCtx, o.runCancel = context.WithCancel(ctx)
	o.started.Store(true)
	defer close(o.done)
	defer o.runCancel()

	o.restore()
	if err := o.sess.Transition(StateListening); err != nil {
		o.log.Warn("session_start_state", "error", err)
	}
	if o.cfg.Greeting != "" {
		go o.speak(o.runCtx, o.cfg.Greeting)
	}

	for {
		item, ok := o.queue.Pop()
		if !ok {
			return
		}
		switch v := item.(type) {
		case frames.AudioFrame:
			o.handleAudio(v)
		case frames.ControlFrame:
			o.handleControl(v)
		case frames.SystemFrame:
			if o.handleSystem(v) {
				return
			}
		case speakingStarted:
			if v.turnID == o.activeTurn {
				if err := o.sess.Transition(StateSpeaking); err != nil {
					o.log.Warn("speaking_transition", "error", err)
				}
			}
		case turnOutcome:
			o.applyOutcome(v)
		}
	}
}

// Stop closes the queue and waits for the Run loop to drain out.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		o.queue.Close()
		if o.runCancel != nil {
			o.runCancel()
		}
	})
	if o.started.Load() {
		<-o.done
	}
}

func (o *Orchestrator) restore() {
	if o.deps.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(o.runCtx, 2*time.Second)
	defer cancel()
	data, err := o.deps.Store.Get(ctx, o.sess.SessionID)
	if err != nil {
		if !errors.Is(err, sessionstore.ErrNotFound) {
			o.log.Warn("session_restore_failed", "error", err)
		}
		return
	}
	streak, err := o.sess.RestoreSnapshot(data)
	if err != nil {
		o.log.Warn("session_restore_failed", "error", err)
		return
	}
	if o.deps.Arbiter != nil {
		o.deps.Arbiter.RestoreStreak(streak)
	}
	o.log.Info("session_restored", "turns", len(o.sess.History()))
}

func (o *Orchestrator) handleAudio(f frames.AudioFrame) {
	prev := o.seg.State()
	utt := o.seg.Feed(f)
	if prev == segmenter.StateSilence && o.seg.State() == segmenter.StateSpeech &&
		o.sess.State() == StateSpeaking {
		o.bargeIn()
	}
	if utt != nil {
		o.onUtterance(utt)
	}
	frames.ReleaseAudioFrame(f)
}

func (o *Orchestrator) handleControl(f frames.ControlFrame) {
	switch f.Code() {
	case frames.ControlMark:
		o.resolveMark(f.Meta()[frames.MetaMarkName])
	case frames.ControlDTMF:
		o.log.Info("dtmf_received", "digit", f.Meta()[frames.MetaDTMFDigit])
	}
}

// handleSystem reports whether the call is over.
func (o *Orchestrator) handleSystem(f frames.SystemFrame) bool {
	switch f.Name() {
	case "call_start":
		o.log.Info("call_started",
			"vendor", f.Meta()[frames.MetaVendor],
			"from", redact.Text(f.Meta()[frames.MetaFromNumber]),
		)
	case "call_end":
		o.endCall(f.Meta()[frames.MetaCallEndReason])
		return true
	}
	return false
}

func (o *Orchestrator) onUtterance(utt *segmenter.Utterance) {
	o.record(metrics.EventUtterance, float64(utt.DurationMS), map[string]string{
		"forced": fmt.Sprintf("%t", utt.ForceClosed),
	})
	if o.sess.State() == StateIdle || o.sess.TransferTriggered() {
		return
	}
	if o.activeTurn != 0 {
		o.pending = append(o.pending, utt)
		return
	}
	o.startTurn(utt)
}

func (o *Orchestrator) startTurn(utt *segmenter.Utterance) {
	if err := o.sess.Transition(StateProcessing); err != nil {
		o.log.Warn("turn_rejected", "error", err)
		return
	}
	o.turnSeq++
	id := o.turnSeq
	o.activeTurn = id
	ctx, cancel := context.WithTimeout(o.runCtx, time.Duration(o.cfg.TurnTimeoutMS)*time.Millisecond)
	o.turnCancel = cancel
	go o.processTurn(ctx, cancel, id, utt, o.baseMessages())
}

// processTurn runs off the main loop. It must not touch session state
// directly; anything that survives the turn rides back on turnOutcome.
func (o *Orchestrator) processTurn(ctx context.Context, cancel context.CancelFunc, id int64, utt *segmenter.Utterance, base []llm.Message) {
	defer cancel()
	res := turnOutcome{turnID: id, startedAt: utt.StartedAt}
	defer func() {
		if errors.Is(ctx.Err(), context.Canceled) {
			res.canceled = true
		}
		o.queue.TryPushHigh(res)
	}()

	var wav []byte
	if o.cfg.Segmenter.Encoding == "linear16" {
		wav = audio.Linear16ToWAV(utt.Audio)
	} else {
		wav = audio.MuLawToWAV(utt.Audio)
	}
	sttOut := o.deps.STT.Invoke(ctx, stt.Request{Audio: wav, ContentType: "audio/wav"})
	o.record(metrics.EventSTTDone, float64(sttOut.LatencyMS), map[string]string{"provider": sttOut.ProviderID})
	if sttOut.Failed {
		res.failed = true
		o.speak(ctx, o.cfg.ApologyUtterance)
		return
	}
	text := strings.TrimSpace(sttOut.Value.Text)
	if text == "" {
		res.empty = true
		return
	}
	res.userText = text
	res.confidence = sttOut.Value.Confidence
	o.log.Info("transcript", "text", redact.Text(text), "confidence", res.confidence)

	if o.isExitWord(text) {
		res.exit = true
		o.speak(ctx, o.cfg.ClosingUtterance)
		return
	}

	firstToken := false
	llmOut := o.deps.LLM.Invoke(ctx, llm.Request{
		Messages: append(base, llm.Message{Role: "user", Content: text}),
		OnDelta: func(string) {
			if !firstToken {
				firstToken = true
				o.record(metrics.EventLLMFirstToken, 0, map[string]string{})
			}
		},
	})
	o.record(metrics.EventLLMDone, float64(llmOut.LatencyMS), map[string]string{"provider": llmOut.ProviderID})
	if llmOut.Failed {
		res.failed = true
		o.speak(ctx, o.cfg.ApologyUtterance)
		return
	}
	reply := strings.TrimSpace(llmOut.Value.Text)
	if reply == "" {
		res.empty = true
		return
	}
	res.assistantText = reply

	o.queue.TryPushHigh(speakingStarted{turnID: id})
	ttsOut := o.deps.TTS.Invoke(ctx, tts.Request{Text: reply, VoiceID: o.cfg.VoiceID})
	o.record(metrics.EventTTSFirstAudio, float64(ttsOut.LatencyMS), map[string]string{"provider": ttsOut.ProviderID})
	if ttsOut.Failed {
		res.failed = true
		return
	}
	o.play(ctx, id, ttsOut.Value)
}

func (o *Orchestrator) applyOutcome(res turnOutcome) {
	if res.turnID != o.activeTurn {
		// Abandoned by barge-in or by call end.
		return
	}
	o.activeTurn = 0
	o.turnCancel = nil
	now := time.Now()

	switch {
	case res.canceled:
		_ = o.sess.Transition(StateListening)
	case res.exit:
		o.sess.AppendTurn(Turn{
			UserText:      res.userText,
			AssistantText: o.cfg.ClosingUtterance,
			StartedAt:     res.startedAt,
			EndedAt:       now,
		})
		_ = o.sess.Transition(StateIdle)
		o.record(metrics.EventTurnDone, 0, map[string]string{"outcome": "exit"})
		o.persist()
		return
	case res.failed:
		_ = o.sess.Transition(StateListening)
		o.record(metrics.EventTurnDone, 0, map[string]string{"outcome": "failed"})
	case res.empty:
		_ = o.sess.Transition(StateListening)
	default:
		_ = o.sess.Transition(StateListening)
		o.sess.AppendTurn(Turn{
			UserText:      res.userText,
			AssistantText: res.assistantText,
			StartedAt:     res.startedAt,
			EndedAt:       now,
		})
		o.record(metrics.EventTurnDone, 0, map[string]string{"outcome": "ok"})
		o.persist()
		if o.maybeTransfer(res) {
			return
		}
	}
	o.drainPending()
}

func (o *Orchestrator) drainPending() {
	if len(o.pending) == 0 || o.sess.State() != StateListening {
		return
	}
	next := o.pending[0]
	o.pending = o.pending[1:]
	o.startTurn(next)
}

// bargeIn cancels the in-flight turn, flushes vendor-side buffered audio
// with a single clear, and returns to listening. The canceled turn's
// outcome is discarded by turn id.
func (o *Orchestrator) bargeIn() {
	o.record(metrics.EventBargeIn, 0, nil)
	o.log.Info("barge_in")
	if o.turnCancel != nil {
		o.turnCancel()
		o.turnCancel = nil
	}
	o.activeTurn = 0
	clr := frames.NewControlFrame(o.sess.StreamID, time.Now().UnixNano(), frames.ControlClear, nil)
	if err := o.deps.Transport.Send(clr); err != nil {
		o.log.Warn("clear_send_failed", "error", err)
	}
	_ = o.sess.Transition(StateListening)
}

func (o *Orchestrator) maybeTransfer(res turnOutcome) bool {
	if o.deps.Arbiter == nil || o.sess.TransferTriggered() {
		return false
	}
	needed, reason := o.deps.Arbiter.Decide(res.userText, res.assistantText, res.confidence)
	if !needed {
		return false
	}
	o.sess.MarkTransferred()
	action := o.deps.Arbiter.BuildAction(reason, o.transferHistory())
	o.record(metrics.EventTransfer, 0, map[string]string{"transfer_reason": string(reason)})
	o.log.Info("transfer_initiated", "reason", string(reason), "target", action.TransferTarget)
	_ = o.sess.Transition(StateIdle)
	o.persist()
	go o.executeTransfer(o.runCtx, action)
	return true
}

func (o *Orchestrator) executeTransfer(ctx context.Context, action transfer.Action) {
	o.speak(ctx, o.deps.Arbiter.PreTransferUtterance())
	o.log.Info("transfer_context", "summary", redact.Text(action.ContextSummary))
	if o.deps.Dialer == nil {
		o.log.Warn("transfer_no_dialer", "target", action.TransferTarget)
		return
	}
	callSID, err := o.deps.Dialer.Dial(ctx, action.TransferTarget, o.sess.From, o.cfg.TransferDialURL)
	if err != nil {
		o.log.Error("transfer_dial_failed", "error", errorsx.Wrap(err, errorsx.ReasonTransferDial))
		return
	}
	o.log.Info("transfer_dialed", "transfer_call_sid", callSID)
}

func (o *Orchestrator) endCall(reason string) {
	if o.turnCancel != nil {
		o.turnCancel()
		o.turnCancel = nil
	}
	o.activeTurn = 0
	_ = o.sess.Transition(StateIdle)
	o.log.Info("call_ended", "reason", reason, "turns", len(o.sess.History()))
	if o.deps.Store == nil {
		return
	}
	// A failed end usually means the websocket dropped; the vendor may
	// reconnect with the same call sid, so the snapshot stays for restore
	// and the store TTL reaps it otherwise.
	if reason == "failed" {
		o.log.Info("session_kept_for_reconnect")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.deps.Store.Delete(ctx, o.sess.SessionID); err != nil && !errors.Is(err, sessionstore.ErrNotFound) {
		o.log.Warn("session_delete_failed", "error", err)
	}
}

func (o *Orchestrator) persist() {
	if o.deps.Store == nil {
		return
	}
	streak := 0
	if o.deps.Arbiter != nil {
		streak = o.deps.Arbiter.UnknownStreak()
	}
	data, err := o.sess.Snapshot(streak)
	if err != nil {
		o.log.Warn("session_snapshot_failed", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(o.runCtx, 2*time.Second)
	defer cancel()
	if err := o.deps.Store.Set(ctx, o.sess.SessionID, data, o.cfg.SessionTTL); err != nil {
		o.log.Warn("session_persist_failed", "error", err)
	}
}

// speak synthesizes and sends a canned line without playback tracking. Used
// for the greeting, apologies and the pre-transfer hand-off line.
func (o *Orchestrator) speak(ctx context.Context, text string) {
	if text == "" || ctx.Err() != nil {
		return
	}
	out := o.deps.TTS.Invoke(ctx, tts.Request{Text: text, VoiceID: o.cfg.VoiceID})
	if out.Failed {
		o.log.Warn("speak_failed", "error", out.Err)
		return
	}
	if err := o.sendAudio(out.Value); err != nil {
		o.log.Warn("audio_send_failed", "error", err)
	}
}

// play sends synthesized audio plus a mark and waits for the vendor's mark
// echo. Vendors that never echo fall back to a duration estimate.
func (o *Orchestrator) play(ctx context.Context, id int64, a tts.Audio) {
	if ctx.Err() != nil {
		return
	}
	mark := fmt.Sprintf("turn-%d", id)
	ch := make(chan struct{})
	o.setMark(mark, ch)
	defer o.clearMark(mark)

	if err := o.sendAudio(a); err != nil {
		o.log.Warn("audio_send_failed", "error", err)
		return
	}
	mk := frames.NewControlFrame(o.sess.StreamID, time.Now().UnixNano(), frames.ControlMark,
		map[string]string{frames.MetaMarkName: mark})
	if err := o.deps.Transport.Send(mk); err != nil {
		o.log.Warn("mark_send_failed", "error", err)
	}

	watchdog := time.NewTimer(playbackEstimate(a) + 500*time.Millisecond)
	defer watchdog.Stop()
	select {
	case <-ch:
	case <-watchdog.C:
		o.log.Debug("mark_echo_timeout", "mark", mark)
	case <-ctx.Done():
	}
}

func (o *Orchestrator) sendAudio(a tts.Audio) error {
	f := frames.NewAudioFrame(o.sess.StreamID, time.Now().UnixNano(), 0, a.Data, a.SampleRate, 1,
		map[string]string{frames.MetaEncoding: a.Encoding})
	if err := o.deps.Transport.Send(f); err != nil {
		return err
	}
	o.record(metrics.EventAudioOut, float64(len(a.Data)), map[string]string{"provider": a.ProviderID})
	return nil
}

// playbackEstimate is how long the vendor needs to drain the audio we
// sent, assuming one byte per sample for mu-law and two for linear16.
func playbackEstimate(a tts.Audio) time.Duration {
	rate := a.SampleRate
	if rate <= 0 {
		rate = 8000
	}
	bytesPerSec := rate
	if a.Encoding == "linear16" {
		bytesPerSec = rate * 2
	}
	return time.Duration(len(a.Data)) * time.Second / time.Duration(bytesPerSec)
}

func (o *Orchestrator) setMark(name string, ch chan struct{}) {
	o.markMu.Lock()
	o.markName = name
	o.markCh = ch
	o.markMu.Unlock()
}

func (o *Orchestrator) clearMark(name string) {
	o.markMu.Lock()
	if o.markName == name {
		o.markName = ""
		o.markCh = nil
	}
	o.markMu.Unlock()
}

func (o *Orchestrator) resolveMark(name string) {
	o.markMu.Lock()
	if name != "" && name == o.markName && o.markCh != nil {
		close(o.markCh)
		o.markCh = nil
		o.markName = ""
	}
	o.markMu.Unlock()
}

func (o *Orchestrator) baseMessages() []llm.Message {
	msgs := make([]llm.Message, 0, 2*len(o.sess.History())+1)
	if o.cfg.SystemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: o.cfg.SystemPrompt})
	}
	for _, t := range o.sess.History() {
		msgs = append(msgs, llm.Message{Role: "user", Content: t.UserText})
		msgs = append(msgs, llm.Message{Role: "assistant", Content: t.AssistantText})
	}
	return msgs
}

func (o *Orchestrator) transferHistory() []transfer.Turn {
	hist := o.sess.History()
	out := make([]transfer.Turn, 0, len(hist))
	for _, t := range hist {
		out = append(out, transfer.Turn{UserText: t.UserText, AssistantText: t.AssistantText})
	}
	return out
}

func (o *Orchestrator) isExitWord(text string) bool {
	lowered := strings.ToLower(text)
	for _, w := range o.cfg.ExitWords {
		if strings.Contains(lowered, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) record(name string, value float64, tags map[string]string) {
	if tags == nil {
		tags = map[string]string{}
	}
	tags["stream_id"] = o.sess.StreamID
	o.obs.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: value,
		Tags:  tags,
	})
}

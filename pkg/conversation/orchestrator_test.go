package conversation

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/calluna-ai/calluna/pkg/adapters/stt"
	"github.com/calluna-ai/calluna/pkg/adapters/tts"
	"github.com/calluna-ai/calluna/pkg/frames"
	"github.com/calluna-ai/calluna/pkg/llm"
	pmock "github.com/calluna-ai/calluna/pkg/providers/mock"
	"github.com/calluna-ai/calluna/pkg/segmenter"
	"github.com/calluna-ai/calluna/pkg/sessionstore"
	"github.com/calluna-ai/calluna/pkg/transfer"
	tmock "github.com/calluna-ai/calluna/pkg/transports/mock"
)

const (
	testStream   = "MZtest0001"
	frameBytes   = 160 // 20ms of mulaw at 8kHz
	speechByte   = 0x00
	silenceByte  = 0xFF
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		Segmenter: segmenter.Config{
			SilenceDurationMS:   100,
			MinSpeechDurationMS: 40,
		},
	}
}

func testDeps(tr *tmock.Transport, st *pmock.Transcriber, gen *pmock.Generator, syn *pmock.Synthesizer) Deps {
	return Deps{
		Transport: tr,
		STT:       stt.NewDispatcher([]stt.Transcriber{st}),
		LLM:       llm.NewDispatcher([]llm.Generator{gen}),
		TTS:       tts.NewDispatcher([]tts.Synthesizer{syn}, nil),
		Log:       testLogger(),
	}
}

func startOrchestrator(t *testing.T, cfg Config, deps Deps) (*Orchestrator, *CallSession, chan struct{}) {
	t.Helper()
	sess := NewCallSession("CAtest0001", "twilio", testStream, "CAtest0001", "+15550001", 0)
	orch := NewOrchestrator(cfg, deps, sess)
	done := make(chan struct{})
	go func() {
		orch.Run(context.Background())
		close(done)
	}()
	orch.Enqueue(frames.NewSystemFrame(testStream, 0, "call_start", map[string]string{
		frames.MetaVendor:  "twilio",
		frames.MetaCallSID: "CAtest0001",
	}))
	return orch, sess, done
}

func pushAudio(o *Orchestrator, b byte, n int) {
	payload := make([]byte, frameBytes)
	for i := range payload {
		payload[i] = b
	}
	for i := 0; i < n; i++ {
		o.Enqueue(frames.NewAudioFrame(testStream, time.Now().UnixNano(), int64(i), payload, 8000, 1, nil))
	}
}

// pushUtterance feeds enough speech plus trailing silence to close one
// utterance under testConfig.
func pushUtterance(o *Orchestrator) {
	pushAudio(o, speechByte, 12)
	pushAudio(o, silenceByte, 8)
}

func endCall(o *Orchestrator, done chan struct{}, t *testing.T) {
	t.Helper()
	o.Enqueue(frames.NewSystemFrame(testStream, 0, "call_end", map[string]string{
		frames.MetaCallEndReason: "completed",
	}))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("orchestrator did not exit after call_end")
	}
}

func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// pumpMarks echoes every outbound mark back to the orchestrator, the way a
// telephony vendor confirms playback.
func pumpMarks(o *Orchestrator, tr *tmock.Transport, stop chan struct{}) {
	seen := map[string]bool{}
	for {
		select {
		case <-stop:
			return
		case <-time.After(5 * time.Millisecond):
		}
		for _, cf := range tr.SentControls(frames.ControlMark) {
			name := cf.Meta()[frames.MetaMarkName]
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			o.Enqueue(frames.NewControlFrame(testStream, 0, frames.ControlMark,
				map[string]string{frames.MetaMarkName: name}))
		}
	}
}

func TestTurnFlowRecordsHistory(t *testing.T) {
	tr := tmock.New()
	st := pmock.NewTranscriber("what are your opening hours")
	gen := pmock.NewGenerator("We are open nine to five.")
	syn := pmock.NewSynthesizer()

	orch, sess, done := startOrchestrator(t, testConfig(), testDeps(tr, st, gen, syn))
	stop := make(chan struct{})
	defer close(stop)
	go pumpMarks(orch, tr, stop)

	pushUtterance(orch)
	waitFor(t, 3*time.Second, "synthesized reply", func() bool { return syn.Calls() >= 1 })

	endCall(orch, done, t)

	if st.Calls() != 1 {
		t.Fatalf("expected 1 transcription, got %d", st.Calls())
	}
	texts := syn.Texts()
	if len(texts) == 0 || texts[0] != "We are open nine to five." {
		t.Fatalf("expected reply synthesized, got %v", texts)
	}
	hist := sess.History()
	if len(hist) != 1 {
		t.Fatalf("expected 1 turn in history, got %d", len(hist))
	}
	if hist[0].UserText != "what are your opening hours" || hist[0].AssistantText != "We are open nine to five." {
		t.Fatalf("unexpected turn: %+v", hist[0])
	}
	if sess.State() != StateIdle {
		t.Fatalf("expected IDLE after call end, got %s", sess.State())
	}
}

func TestBargeInSendsExactlyOneClear(t *testing.T) {
	tr := tmock.New()
	st := pmock.NewTranscriber("tell me a long story", "actually never mind")
	gen := pmock.NewGenerator("Once upon a time.", "Okay, no problem.")
	syn := pmock.NewSynthesizer()
	// Big payload keeps the playback watchdog far away so the turn is
	// still speaking when the caller interrupts.
	syn.Data = make([]byte, 80000)

	orch, sess, done := startOrchestrator(t, testConfig(), testDeps(tr, st, gen, syn))

	pushUtterance(orch)
	waitFor(t, 3*time.Second, "first turn speaking", func() bool {
		return len(tr.SentControls(frames.ControlMark)) >= 1
	})

	// Caller speaks over the playback.
	pushAudio(orch, speechByte, 12)
	waitFor(t, 3*time.Second, "clear after barge-in", func() bool {
		return len(tr.SentControls(frames.ControlClear)) == 1
	})
	pushAudio(orch, silenceByte, 8)

	waitFor(t, 3*time.Second, "second turn mark", func() bool {
		return len(tr.SentControls(frames.ControlMark)) >= 2
	})
	marks := tr.SentControls(frames.ControlMark)
	last := marks[len(marks)-1].Meta()[frames.MetaMarkName]
	orch.Enqueue(frames.NewControlFrame(testStream, 0, frames.ControlMark,
		map[string]string{frames.MetaMarkName: last}))

	waitFor(t, 3*time.Second, "second turn done", func() bool { return sess.State() == StateListening })
	endCall(orch, done, t)

	if n := len(tr.SentControls(frames.ControlClear)); n != 1 {
		t.Fatalf("expected exactly one clear, got %d", n)
	}
	hist := sess.History()
	if len(hist) != 1 {
		t.Fatalf("expected only the completed turn in history, got %d", len(hist))
	}
	if hist[0].UserText != "actually never mind" {
		t.Fatalf("abandoned turn leaked into history: %+v", hist[0])
	}
}

func TestEmptyTranscriptIsNoOp(t *testing.T) {
	tr := tmock.New()
	st := pmock.NewTranscriber("")
	gen := pmock.NewGenerator("should never be asked")
	syn := pmock.NewSynthesizer()

	orch, sess, done := startOrchestrator(t, testConfig(), testDeps(tr, st, gen, syn))

	pushUtterance(orch)
	waitFor(t, 3*time.Second, "transcription attempt", func() bool { return st.Calls() >= 1 })
	waitFor(t, 3*time.Second, "back to listening", func() bool { return sess.State() == StateListening })

	endCall(orch, done, t)

	if gen.Calls() != 0 {
		t.Fatalf("expected no generation for empty transcript, got %d calls", gen.Calls())
	}
	if syn.Calls() != 0 {
		t.Fatalf("expected no synthesis for empty transcript, got %d calls", syn.Calls())
	}
	if len(sess.History()) != 0 {
		t.Fatalf("expected empty history, got %d turns", len(sess.History()))
	}
}

func TestExitWordClosesConversation(t *testing.T) {
	tr := tmock.New()
	st := pmock.NewTranscriber("okay goodbye then")
	gen := pmock.NewGenerator("should never be asked")
	syn := pmock.NewSynthesizer()

	cfg := testConfig()
	orch, sess, done := startOrchestrator(t, cfg, testDeps(tr, st, gen, syn))
	stop := make(chan struct{})
	defer close(stop)
	go pumpMarks(orch, tr, stop)

	pushUtterance(orch)
	waitFor(t, 3*time.Second, "conversation idle", func() bool { return sess.State() == StateIdle })

	// Speech after the farewell is ignored.
	pushUtterance(orch)
	time.Sleep(50 * time.Millisecond)

	endCall(orch, done, t)

	if gen.Calls() != 0 {
		t.Fatalf("exit word should bypass generation, got %d calls", gen.Calls())
	}
	if st.Calls() != 1 {
		t.Fatalf("expected no turns after farewell, got %d transcriptions", st.Calls())
	}
	texts := syn.Texts()
	if len(texts) != 1 || texts[0] != "Thanks for calling. Goodbye." {
		t.Fatalf("expected closing utterance, got %v", texts)
	}
}

func TestRecognitionFailureSpeaksApology(t *testing.T) {
	tr := tmock.New()
	st := pmock.NewTranscriber("ignored")
	st.Err = errors.New("upstream exploded")
	gen := pmock.NewGenerator("should never be asked")
	syn := pmock.NewSynthesizer()

	orch, sess, done := startOrchestrator(t, testConfig(), testDeps(tr, st, gen, syn))

	pushUtterance(orch)
	waitFor(t, 3*time.Second, "apology synthesized", func() bool { return syn.Calls() >= 1 })
	waitFor(t, 3*time.Second, "back to listening", func() bool { return sess.State() == StateListening })

	endCall(orch, done, t)

	texts := syn.Texts()
	if texts[0] != "Sorry, I am having trouble hearing you. Could you say that again?" {
		t.Fatalf("expected apology, got %q", texts[0])
	}
	if gen.Calls() != 0 {
		t.Fatalf("failed recognition must not reach the model, got %d calls", gen.Calls())
	}
	if len(sess.History()) != 0 {
		t.Fatalf("failed turn must not enter history")
	}
}

func TestLinear16UtteranceReachesTranscriberAsWAV(t *testing.T) {
	tr := tmock.New()
	st := pmock.NewTranscriber("hello")
	deps := testDeps(tr, st, pmock.NewGenerator("hi"), pmock.NewSynthesizer())
	cfg := testConfig()
	cfg.Segmenter.Encoding = "linear16"
	orch, _, done := startOrchestrator(t, cfg, deps)
	stop := make(chan struct{})
	defer close(stop)
	go pumpMarks(orch, tr, stop)

	loud := make([]byte, 2*frameBytes)
	for i := 0; i < len(loud); i += 2 {
		loud[i+1] = 0x10 // each sample 4096, well above the energy gate
	}
	for i := 0; i < 12; i++ {
		orch.Enqueue(frames.NewAudioFrame(testStream, time.Now().UnixNano(), int64(i), loud, 8000, 1, nil))
	}
	quiet := make([]byte, 2*frameBytes)
	for i := 0; i < 8; i++ {
		orch.Enqueue(frames.NewAudioFrame(testStream, time.Now().UnixNano(), int64(12+i), quiet, 8000, 1, nil))
	}

	waitFor(t, 3*time.Second, "transcriber called", func() bool { return st.Calls() > 0 })
	wav := st.LastAudio()
	if len(wav) < 52 || !bytes.Equal(wav[0:4], []byte("RIFF")) {
		t.Fatalf("not a wav container: % x", wav[:8])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:]); rate != 16000 {
		t.Fatalf("rate = %d", rate)
	}
	// PCM16 input must not be run through the mu-law decoder; constant
	// 4096 samples stay 4096 after upsampling.
	if !bytes.Equal(wav[44:52], []byte{0x00, 0x10, 0x00, 0x10, 0x00, 0x10, 0x00, 0x10}) {
		t.Fatalf("pcm data transcoded: % x", wav[44:52])
	}
	endCall(orch, done, t)
}

func TestSnapshotSurvivesTransportDrop(t *testing.T) {
	store := sessionstore.NewMemoryStore()

	tr := tmock.New()
	st := pmock.NewTranscriber("my order number is twelve")
	gen := pmock.NewGenerator("Got it.")
	syn := pmock.NewSynthesizer()
	deps := testDeps(tr, st, gen, syn)
	deps.Store = store

	orch, sess, done := startOrchestrator(t, testConfig(), deps)
	stop := make(chan struct{})
	defer close(stop)
	go pumpMarks(orch, tr, stop)

	pushUtterance(orch)
	waitFor(t, 3*time.Second, "turn persisted", func() bool {
		_, err := store.Get(context.Background(), sess.SessionID)
		return err == nil
	})

	// The websocket drops; the media server reports the end as failed.
	orch.Enqueue(frames.NewSystemFrame(testStream, 0, "call_end", map[string]string{
		frames.MetaCallEndReason: "failed",
	}))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("orchestrator did not exit after call_end")
	}

	if _, err := store.Get(context.Background(), sess.SessionID); err != nil {
		t.Fatalf("snapshot should survive a dropped transport, got %v", err)
	}

	// The vendor reconnects with the same call sid and the conversation
	// picks up where it left off.
	tr2 := tmock.New()
	deps2 := testDeps(tr2, pmock.NewTranscriber("x"), pmock.NewGenerator("y"), pmock.NewSynthesizer())
	deps2.Store = store
	orch2, sess2, done2 := startOrchestrator(t, testConfig(), deps2)
	waitFor(t, 3*time.Second, "session restored", func() bool { return sess2.State() == StateListening })
	if len(sess2.History()) != 1 {
		t.Fatalf("expected restored history, got %d turns", len(sess2.History()))
	}
	endCall(orch2, done2, t)

	if _, err := store.Get(context.Background(), sess2.SessionID); !errors.Is(err, sessionstore.ErrNotFound) {
		t.Fatalf("completed end should delete the snapshot, got %v", err)
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	to    string
	calls int
}

func (d *fakeDialer) Dial(_ context.Context, to, _, _ string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.to = to
	d.calls++
	return "CAtransfer01", nil
}

func (d *fakeDialer) snapshot() (string, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.to, d.calls
}

func TestCustomerRequestTriggersTransfer(t *testing.T) {
	tr := tmock.New()
	st := pmock.NewTranscriber("can I speak to a human please")
	gen := pmock.NewGenerator("Of course.")
	syn := pmock.NewSynthesizer()
	dialer := &fakeDialer{}

	deps := testDeps(tr, st, gen, syn)
	deps.Dialer = dialer
	deps.Arbiter = transfer.NewArbiter(transfer.Config{
		TransferTarget: "+15550100",
		RequestPhrases: []string{"speak to a human"},
	})

	orch, sess, done := startOrchestrator(t, testConfig(), deps)
	stop := make(chan struct{})
	defer close(stop)
	go pumpMarks(orch, tr, stop)

	pushUtterance(orch)
	waitFor(t, 3*time.Second, "transfer dialed", func() bool {
		_, calls := dialer.snapshot()
		return calls == 1
	})

	endCall(orch, done, t)

	to, _ := dialer.snapshot()
	if to != "+15550100" {
		t.Fatalf("expected dial to transfer target, got %q", to)
	}
	if !sess.TransferTriggered() {
		t.Fatalf("expected transfer flag on session")
	}
	var preTransfer bool
	for _, text := range syn.Texts() {
		if text == deps.Arbiter.PreTransferUtterance() {
			preTransfer = true
		}
	}
	if !preTransfer {
		t.Fatalf("expected pre-transfer utterance, got %v", syn.Texts())
	}
}

func TestRegistryLifecycle(t *testing.T) {
	tr := tmock.New()
	st := pmock.NewTranscriber("hello")
	gen := pmock.NewGenerator("Hi there.")
	syn := pmock.NewSynthesizer()

	reg := NewRegistry(testConfig(), testDeps(tr, st, gen, syn))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	regDone := make(chan struct{})
	go func() {
		_ = reg.Run(ctx)
		close(regDone)
	}()

	tr.Push(frames.NewSystemFrame(testStream, 0, "call_start", map[string]string{
		frames.MetaVendor:  "twilio",
		frames.MetaCallSID: "CAtest0001",
	}))
	waitFor(t, 3*time.Second, "call registered", func() bool { return reg.ActiveCalls() == 1 })

	tr.Push(frames.NewSystemFrame(testStream, 0, "call_end", map[string]string{
		frames.MetaCallEndReason: "completed",
	}))
	waitFor(t, 3*time.Second, "call removed", func() bool { return reg.ActiveCalls() == 0 })

	if err := reg.Drain(); err != nil {
		t.Fatalf("drain: %v", err)
	}
	cancel()
	select {
	case <-regDone:
	case <-time.After(3 * time.Second):
		t.Fatalf("registry did not stop")
	}
}

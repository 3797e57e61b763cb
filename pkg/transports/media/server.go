package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/calluna-ai/calluna/pkg/errorsx"
	"github.com/calluna-ai/calluna/pkg/frames"
	"github.com/calluna-ai/calluna/pkg/transports"
)

type Config struct {
	ServerAddr     string   `mapstructure:"server_addr"`
	PublicURL      string   `mapstructure:"public_url"`
	VoicePath      string   `mapstructure:"voice_path"`
	WebsocketPath  string   `mapstructure:"ws_path"`
	VoiceGreeting  string   `mapstructure:"voice_greeting"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.VoicePath == "" {
		c.VoicePath = "/voice"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Server is the vendor-generic duplex media transport. The Protocol decides
// how envelopes look on the wire; the Server owns connections, sessions,
// and frame plumbing.
type Server struct {
	cfg      Config
	proto    Protocol
	server   *http.Server
	upgrader websocket.Upgrader
	recvCh   chan frames.Frame

	mu          sync.Mutex
	sessions    map[string]*session
	callSIDs    map[string]string
	callStreams map[string]string
	traceIDs    map[string]string
	fromNumbers map[string]string

	seq      atomic.Int64
	draining atomic.Bool
}

func NewServer(cfg Config, proto Protocol) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:   cfg,
		proto: proto,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		recvCh:      make(chan frames.Frame, 512),
		sessions:    make(map[string]*session),
		callSIDs:    make(map[string]string),
		callStreams: make(map[string]string),
		traceIDs:    make(map[string]string),
		fromNumbers: make(map[string]string),
	}
	s.upgrader.CheckOrigin = s.checkOrigin
	return s
}

func (s *Server) Name() string { return s.proto.Vendor() }

func (s *Server) Recv() <-chan frames.Frame { return s.recvCh }

func (s *Server) ReadyFields() map[string]any {
	return map[string]any{
		"vendor":      s.proto.Vendor(),
		"webhook_url": s.voiceWebhookURL(),
		"ws_path":     s.cfg.WebsocketPath,
	}
}

func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.VoicePath, s.handleVoice)
	mux.Handle(s.cfg.WebsocketPath, s)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.server = &http.Server{
		Addr:              s.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = s.server.Close()
	}()
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("media_server_error", "vendor", s.proto.Vendor(), "error", err.Error())
		}
	}()
	return nil
}

func (s *Server) Stop() error {
	s.draining.Store(true)
	if s.server != nil {
		_ = s.server.Close()
	}
	s.mu.Lock()
	for _, sess := range s.sessions {
		_ = sess.close()
	}
	s.sessions = make(map[string]*session)
	s.mu.Unlock()
	close(s.recvCh)
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var streamID string
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		evt, err := s.proto.Decode(msg)
		if err != nil {
			slog.Warn("media_envelope_dropped",
				"vendor", s.proto.Vendor(),
				"error", err.Error())
			continue
		}
		switch evt.Kind {
		case EventStart:
			streamID = evt.Start.StreamID
			traceID := uuid.NewString()
			oldStream, oldSess := s.attach(streamID, evt.Start.CallSID, traceID, evt.Start.From, conn)
			if oldSess != nil {
				_ = oldSess.close()
			}
			meta := map[string]string{
				frames.MetaStreamID:   streamID,
				frames.MetaCallSID:    evt.Start.CallSID,
				frames.MetaTraceID:    traceID,
				frames.MetaFromNumber: evt.Start.From,
				frames.MetaVendor:     s.proto.Vendor(),
				frames.MetaSource:     "transport",
			}
			nonBlockingSend(s.recvCh, frames.NewSystemFrame(streamID, time.Now().UnixNano(), "call_start", meta))
			if oldStream != "" {
				slog.Info("media_stream_replaced",
					"vendor", s.proto.Vendor(),
					"old_stream_id", oldStream,
					"stream_id", streamID)
			}
		case EventMedia:
			format := s.proto.Format()
			meta := s.metaForStream(streamID)
			meta[frames.MetaEncoding] = format.Encoding
			meta[frames.MetaSampleRate] = strconv.Itoa(format.SampleRate)
			af := frames.NewAudioFrame(streamID, time.Now().UnixNano(), s.seq.Add(1), evt.Payload, format.SampleRate, 1, meta)
			nonBlockingSend(s.recvCh, af)
		case EventDTMF:
			meta := s.metaForStream(streamID)
			meta[frames.MetaDTMFDigit] = evt.Digit
			nonBlockingSend(s.recvCh, frames.NewControlFrame(streamID, time.Now().UnixNano(), frames.ControlDTMF, meta))
		case EventMark:
			meta := s.metaForStream(streamID)
			meta[frames.MetaMarkName] = evt.Mark
			nonBlockingSend(s.recvCh, frames.NewControlFrame(streamID, time.Now().UnixNano(), frames.ControlMark, meta))
		case EventStop:
			meta := s.metaForStream(streamID)
			reason := normalizeCallEndReason(evt.Reason)
			if reason == "" {
				reason = "completed"
			}
			meta[frames.MetaCallEndReason] = reason
			nonBlockingSend(s.recvCh, frames.NewSystemFrame(streamID, time.Now().UnixNano(), "call_end", meta))
			s.detach(streamID)
			return
		}
	}
	if streamID != "" {
		meta := s.metaForStream(streamID)
		meta[frames.MetaCallEndReason] = normalizeCallEndReason("transport_closed")
		nonBlockingSend(s.recvCh, frames.NewSystemFrame(streamID, time.Now().UnixNano(), "call_end", meta))
		s.detach(streamID)
	}
}

// Send routes an outbound frame to its session. Audio payloads are split to
// the vendor's chunk size; a clear control discards queued unplayed audio
// on the vendor's device, which is the barge-in primitive.
func (s *Server) Send(f frames.Frame) error {
	streamID := f.Meta()[frames.MetaStreamID]
	sess := s.session(streamID)
	if sess == nil {
		return nil
	}
	switch f.Kind() {
	case frames.KindControl:
		cf := f.(frames.ControlFrame)
		switch cf.Code() {
		case frames.ControlClear, frames.ControlCancel:
			msg, err := s.proto.EncodeClear(streamID)
			if err != nil {
				return errorsx.Wrap(err, errorsx.ReasonTransportSend)
			}
			return sess.enqueue(msg)
		case frames.ControlMark:
			msg, err := s.proto.EncodeMark(streamID, cf.Meta()[frames.MetaMarkName])
			if err != nil {
				return errorsx.Wrap(err, errorsx.ReasonTransportSend)
			}
			return sess.enqueue(msg)
		}
		return nil
	case frames.KindAudio:
		af := f.(frames.AudioFrame)
		payload := af.RawPayload()
		size := s.proto.Format().ChunkBytes
		if size <= 0 {
			size = len(payload)
		}
		for off := 0; off < len(payload); off += size {
			end := off + size
			if end > len(payload) {
				end = len(payload)
			}
			msg, err := s.proto.EncodeMedia(streamID, payload[off:end])
			if err != nil {
				return errorsx.Wrap(err, errorsx.ReasonTransportSend)
			}
			if err := sess.enqueue(msg); err != nil {
				return errorsx.Wrap(err, errorsx.ReasonTransportSend)
			}
		}
		return nil
	}
	return nil
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	answerer, ok := s.proto.(WebhookAnswerer)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if validator, ok := s.proto.(SignatureValidator); ok {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
		if !validator.ValidateSignature(r, body, s.requestURL(r)) {
			slog.Warn("media_invalid_signature",
				"vendor", s.proto.Vendor(),
				"reason_code", string(errorsx.ReasonTransportInvalidSignature))
			w.WriteHeader(http.StatusForbidden)
			return
		}
	}
	answerer.AnswerWebhook(w, r, s.websocketURL(r), s.cfg.VoiceGreeting)
}

func (s *Server) websocketURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return "wss://" + normalizePublicURL(s.cfg.PublicURL) + s.cfg.WebsocketPath
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(s.cfg.ServerAddr, ":")
	}
	return "wss://" + host + s.cfg.WebsocketPath
}

func (s *Server) voiceWebhookURL() string {
	if s.cfg.PublicURL != "" {
		return "https://" + normalizePublicURL(s.cfg.PublicURL) + s.cfg.VoicePath
	}
	addr := s.cfg.ServerAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + s.cfg.VoicePath
}

func (s *Server) requestURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return strings.TrimRight(s.cfg.PublicURL, "/") + r.URL.RequestURI()
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "https"
		}
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(s.cfg.ServerAddr, ":")
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

func (s *Server) attach(streamID, callSID, traceID, from string, conn *websocket.Conn) (string, *session) {
	sess := &session{
		conn:   conn,
		stream: streamID,
		sendCh: make(chan []byte, 256),
	}
	var oldStream string
	var oldSess *session
	s.mu.Lock()
	if callSID != "" {
		if existing := s.callStreams[callSID]; existing != "" && existing != streamID {
			oldStream = existing
			oldSess = s.sessions[existing]
			delete(s.sessions, existing)
			delete(s.callSIDs, existing)
			delete(s.traceIDs, existing)
			delete(s.fromNumbers, existing)
		}
		s.callStreams[callSID] = streamID
	}
	s.sessions[streamID] = sess
	s.callSIDs[streamID] = callSID
	s.traceIDs[streamID] = traceID
	if from != "" {
		s.fromNumbers[streamID] = from
	}
	s.mu.Unlock()
	go sess.loop()
	return oldStream, oldSess
}

func (s *Server) detach(streamID string) {
	s.mu.Lock()
	sess := s.sessions[streamID]
	callSID := s.callSIDs[streamID]
	delete(s.sessions, streamID)
	delete(s.callSIDs, streamID)
	delete(s.traceIDs, streamID)
	delete(s.fromNumbers, streamID)
	if callSID != "" && s.callStreams[callSID] == streamID {
		delete(s.callStreams, callSID)
	}
	s.mu.Unlock()
	if sess != nil {
		_ = sess.close()
	}
}

func (s *Server) session(streamID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[streamID]
}

func (s *Server) metaForStream(streamID string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta := map[string]string{
		frames.MetaStreamID: streamID,
		frames.MetaVendor:   s.proto.Vendor(),
	}
	if v := s.callSIDs[streamID]; v != "" {
		meta[frames.MetaCallSID] = v
	}
	if v := s.traceIDs[streamID]; v != "" {
		meta[frames.MetaTraceID] = v
	}
	if v := s.fromNumbers[streamID]; v != "" {
		meta[frames.MetaFromNumber] = v
	}
	return meta
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range s.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

func normalizeCallEndReason(raw string) string {
	r := strings.ToLower(strings.TrimSpace(raw))
	if r == "" {
		return ""
	}
	switch r {
	case "queued", "ringing", "in-progress", "inprogress":
		return ""
	case "completed", "call_ended", "call-ended", "hangup":
		return "completed"
	case "busy":
		return "busy"
	case "no_answer", "noanswer", "no-answer":
		return "no_answer"
	case "failed", "error", "canceled", "cancelled", "transport_closed":
		return "failed"
	default:
		return "unknown"
	}
}

func normalizePublicURL(v string) string {
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	return strings.TrimRight(v, "/")
}

type session struct {
	conn   *websocket.Conn
	stream string
	sendCh chan []byte
	closed atomic.Bool
}

// enqueue never blocks the orchestrator; a full buffer means the peer
// stopped draining, so the frame is shed and logged.
func (s *session) enqueue(msg []byte) error {
	select {
	case s.sendCh <- msg:
	default:
		slog.Debug("media_send_dropped", "stream", s.stream, "bytes", len(msg))
	}
	return nil
}

func (s *session) loop() {
	for msg := range s.sendCh {
		_ = s.conn.WriteMessage(websocket.TextMessage, msg)
	}
}

func (s *session) close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.sendCh)
	}
	return s.conn.Close()
}

func nonBlockingSend(ch chan frames.Frame, f frames.Frame) {
	select {
	case ch <- f:
	default:
	}
}

var _ transports.Transport = (*Server)(nil)
var _ transports.ReadyReporter = (*Server)(nil)

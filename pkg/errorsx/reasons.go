package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSTTTranscribe ReasonCode = "stt_transcribe"
	ReasonSTTExhausted  ReasonCode = "stt_exhausted"

	ReasonLLMGenerate  ReasonCode = "llm_generate"
	ReasonLLMStream    ReasonCode = "llm_stream"
	ReasonLLMExhausted ReasonCode = "llm_exhausted"

	ReasonTTSSynthesize ReasonCode = "tts_synthesize"
	ReasonTTSExhausted  ReasonCode = "tts_exhausted"

	ReasonTransportSend             ReasonCode = "transport_send"
	ReasonTransportClosed           ReasonCode = "transport_closed"
	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"

	ReasonSessionStore ReasonCode = "session_store"
	ReasonTransferDial ReasonCode = "transfer_dial"
)

package frames

// Well-known meta keys shared across transports and the orchestrator.
const (
	MetaStreamID      = "stream_id"
	MetaCallSID       = "call_sid"
	MetaTraceID       = "trace_id"
	MetaSource        = "source"
	MetaReason        = "reason"
	MetaVendor        = "vendor"
	MetaEncoding      = "encoding"
	MetaSampleRate    = "sample_rate"
	MetaFromNumber    = "from_number"
	MetaDTMFDigit     = "dtmf_digit"
	MetaMarkName      = "mark_name"
	MetaCallEndReason = "call_end_reason"
	MetaTransferTo    = "transfer_to"
	MetaProvider      = "provider"
)

// Package protocol implements the line-delimited JSON response envelope
// and the stable error-code taxonomy that is the system's sole public
// surface.
package protocol

import "encoding/json"

// Error codes, stable across releases — callers match on these strings.
const (
	CodeInvalid  = "INVALID"
	CodeNotFound = "NOTFOUND"
	CodeConflict = "CONFLICT"
	CodeBusy     = "BUSY"
	CodeInternal = "INTERNAL"
)

// ExitCode maps an error code to the process exit status the I/O loop
// and CLI façade report. Multiple business conditions under
// INTERNAL/CONFLICT reuse a representative value here rather than a
// distinct code per condition.
func ExitCode(code string) int {
	switch code {
	case CodeInvalid:
		return 2
	case CodeNotFound:
		return 5
	case CodeConflict:
		return 4
	case CodeBusy:
		return 1
	case CodeInternal:
		return 3
	default:
		return 9
	}
}

// Error is the {code, msg, ctx} error body of a failed envelope.
type Error struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Ctx  json.RawMessage `json:"ctx,omitempty"`
}

// State is the optional swarm-wide summary attached to some envelopes.
type State struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

// Envelope is the full response shape: {ok,rid,t,ms,d,err,fix,next,state}.
type Envelope struct {
	OK    bool            `json:"ok"`
	Rid   string          `json:"rid,omitempty"`
	T     int64           `json:"t"`
	Ms    *int64          `json:"ms,omitempty"`
	D     json.RawMessage `json:"d,omitempty"`
	Err   *Error          `json:"err,omitempty"`
	Fix   string          `json:"fix,omitempty"`
	Next  string          `json:"next,omitempty"`
	State *State          `json:"state,omitempty"`
}

// Clock supplies an envelope timestamp; tests use a fixed clock so
// envelopes are deterministic.
type Clock func() int64

// Success builds a successful envelope. d may be nil.
func Success(rid string, now int64, d any) (*Envelope, error) {
	raw, err := marshalOrNil(d)
	if err != nil {
		return nil, err
	}
	return &Envelope{OK: true, Rid: rid, T: now, D: raw}, nil
}

// NewError builds a failed envelope with the given code and message.
func NewError(rid string, now int64, code, msg string) *Envelope {
	return &Envelope{OK: false, Rid: rid, T: now, Err: &Error{Code: code, Msg: msg}}
}

// WithMs attaches the elapsed-time field.
func (e *Envelope) WithMs(ms int64) *Envelope {
	e.Ms = &ms
	return e
}

// WithNext attaches a suggested next command.
func (e *Envelope) WithNext(next string) *Envelope {
	e.Next = next
	return e
}

// WithState attaches the swarm-wide summary.
func (e *Envelope) WithState(total, active int) *Envelope {
	e.State = &State{Total: total, Active: active}
	return e
}

// WithFix attaches the remediation hint. Every error envelope must carry
// one before it is written to stdout.
func (e *Envelope) WithFix(fix string) *Envelope {
	e.Fix = fix
	return e
}

// WithCtx attaches the offending-field context to an error envelope. ctx
// may be any JSON-marshalable value; marshal failure is swallowed into an
// empty ctx since a broken ctx must never block returning the underlying
// error to the caller.
func (e *Envelope) WithCtx(ctx any) *Envelope {
	if e.Err == nil {
		return e
	}
	raw, err := json.Marshal(ctx)
	if err != nil {
		return e
	}
	e.Err.Ctx = raw
	return e
}

func marshalOrNil(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

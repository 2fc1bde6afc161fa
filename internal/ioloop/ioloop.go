// Package ioloop runs the line-delimited JSON protocol over stdin/stdout:
// read one request per line, dispatch it, audit it, write the response
// envelope, and map the final line's error code to a process exit status.
package ioloop

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/url"
	"strings"

	"github.com/jordanhubbard/swarm-orchestrator/internal/dispatcher"
	"github.com/jordanhubbard/swarm-orchestrator/internal/protocol"
	"github.com/jordanhubbard/swarm-orchestrator/internal/store"
)

// maxLineBytes bounds one input line, mirroring extproc's bounded-capture
// discipline so a malformed or hostile caller cannot exhaust memory.
const maxLineBytes = 1 << 20 // 1 MiB

// Loop reads one JSON request per stdin line, dispatches it, records an
// audit row, and writes the response envelope to stdout — one line out
// per line in.
type Loop struct {
	Dispatcher *dispatcher.Dispatcher
	Audit      store.AuditStore
	In         io.Reader
	Out        io.Writer
	Now        func() int64
}

// New builds a Loop. audit may be nil to skip audit recording entirely
// (e.g. a dry-run CLI invocation with no database configured).
func New(d *dispatcher.Dispatcher, audit store.AuditStore, in io.Reader, out io.Writer, now func() int64) *Loop {
	return &Loop{Dispatcher: d, Audit: audit, In: in, Out: out, Now: now}
}

// Run drains In line by line until EOF, writing one response envelope per
// non-empty line to Out. It returns the exit code the process should
// report: the last processed line's envelope code, or INVALID's exit code
// (2) if stdin carried no non-empty line at all.
func (l *Loop) Run(ctx context.Context) int {
	scanner := bufio.NewScanner(l.In)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	exit := protocol.ExitCode(protocol.CodeInvalid)
	sawLine := false

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		sawLine = true

		lineCopy := append([]byte(nil), line...)
		env := l.Dispatcher.Dispatch(ctx, lineCopy)
		l.auditEnvelope(ctx, lineCopy, env)
		l.writeEnvelope(env)
		exit = exitCodeFor(env)
	}

	if !sawLine {
		now := int64(0)
		if l.Now != nil {
			now = l.Now()
		}
		env := protocol.NewError("", now, protocol.CodeInvalid, "No input received on stdin").
			WithFix(`Provide one JSON command per line. Example: echo '{"cmd":"doctor"}' | swarmd`)
		l.writeEnvelope(env)
		return protocol.ExitCode(protocol.CodeInvalid)
	}

	return exit
}

func exitCodeFor(env *protocol.Envelope) int {
	if env.Err == nil {
		return 0
	}
	return protocol.ExitCode(env.Err.Code)
}

func (l *Loop) writeEnvelope(env *protocol.Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		log.Printf("[IOLoop] failed to marshal response envelope: %v", err)
		return
	}
	if _, err := l.Out.Write(append(raw, '\n')); err != nil {
		log.Printf("[IOLoop] failed to write response envelope: %v", err)
	}
}

// auditEnvelope records one command_audit row. A nil Audit store, or a
// failure writing one, never blocks the response from reaching the
// caller — the audit log is an observability side channel, not part of
// the request's success path.
func (l *Loop) auditEnvelope(ctx context.Context, line []byte, env *protocol.Envelope) {
	if l.Audit == nil {
		return
	}

	var req dispatcher.Request
	cmd := ""
	args := map[string]any{}
	if err := json.Unmarshal(line, &req); err == nil {
		cmd = req.Cmd
		if len(req.Args) > 0 {
			_ = json.Unmarshal(req.Args, &args)
		}
	}
	maskPasswordFields(args)

	errorCode := ""
	if env.Err != nil {
		errorCode = env.Err.Code
	}

	ms := int64(0)
	if env.Ms != nil {
		ms = *env.Ms
	}

	row := store.AuditRow{
		Cmd:       cmd,
		Args:      args,
		OK:        env.OK,
		Ms:        ms,
		ErrorCode: errorCode,
	}
	if err := l.Audit.Append(ctx, row); err != nil {
		log.Printf("[IOLoop] failed to record command audit: %v", err)
	}
}

// maskPasswordFields redacts any "database_url"/"url" field in args before
// it is persisted to the audit log, matching
// protocol_runtime/audit.rs's mask_passwords_in_args.
func maskPasswordFields(args map[string]any) {
	for _, key := range []string{"database_url", "url"} {
		raw, ok := args[key]
		if !ok {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		args[key] = maskURLPassword(s)
	}
}

func maskURLPassword(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if parsed.User == nil {
		return raw
	}
	if _, hasPassword := parsed.User.Password(); !hasPassword {
		return raw
	}
	parsed.User = url.UserPassword(parsed.User.Username(), "********")
	return parsed.String()
}

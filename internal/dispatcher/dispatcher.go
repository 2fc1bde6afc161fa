// Package dispatcher validates and routes protocol requests: the
// command-argument whitelist, null-byte rejection, dry-run handling, and
// batch execution that sit in front of the application services.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/jordanhubbard/swarm-orchestrator/internal/protocol"
	"github.com/jordanhubbard/swarm-orchestrator/pkg/types"
)

// globalAllowedArgs are accepted for every known command in addition to
// that command's own whitelist.
var globalAllowedArgs = []string{"repo_id", "database_url", "connect_timeout_ms"}

// allowedCommandArgs is the exact per-command argument whitelist. A
// command missing from this map is unknown.
var allowedCommandArgs = map[string][]string{
	"?":              {"short", "s"},
	"help":           {"short", "s"},
	"state":          {"limit"},
	"history":        {"limit"},
	"doctor":         {},
	"status":         {},
	"resume":         {},
	"agents":         {},
	"lock":           {"resource", "agent", "ttl_ms", "dry"},
	"unlock":         {"resource", "agent", "dry"},
	"broadcast":      {"msg", "from", "dry"},
	"monitor":        {"view", "watch_ms"},
	"register":       {"count", "dry"},
	"agent":          {"id", "dry"},
	"run-once":       {"id", "dry"},
	"smoke":          {"id", "dry"},
	"next":           {"dry"},
	"claim-next":     {"dry"},
	"bootstrap":      {"dry"},
	"assign":         {"bead_id", "agent_id", "dry"},
	"qa":             {"target", "id", "dry"},
	"resume-context": {"bead_id"},
	"artifacts":      {"bead_id", "artifact_type"},
	"release":        {"agent_id", "dry"},
	"init-db":        {"url", "schema", "seed_agents", "dry"},
	"init-local-db":  {"container_name", "port", "user", "database", "schema", "seed_agents", "dry"},
	"spawn-prompts":  {"template", "out_dir", "count", "dry"},
	"prompt":         {"id", "skill"},
	"load-profile":   {"agents", "rounds", "timeout_ms", "dry"},
	"init":           {"dry", "database_url", "schema", "seed_agents"},
	"batch":          {"ops", "cmds", "dry"},
}

// Commands returns the full public command surface, in a stable order,
// for "?"/"help" handlers to render.
func Commands() []string {
	out := make([]string, len(commandOrder))
	copy(out, commandOrder)
	return out
}

// commandOrder is the full public command surface, used for "did you
// mean" suggestions over a stable set.
var commandOrder = []string{
	"?", "help", "doctor", "status", "state", "agents", "history", "next",
	"claim-next", "assign", "run-once", "qa", "resume", "resume-context",
	"artifacts", "agent", "register", "release", "monitor", "init", "init-db",
	"init-local-db", "bootstrap", "spawn-prompts", "prompt", "smoke", "batch",
	"lock", "unlock", "broadcast", "load-profile",
}

// Request is the decoded wire request: {cmd, rid?, dry?, args?}. It is
// the same shape cmd/swarmctl encodes via pkg/types.RequestLine.
type Request = types.RequestLine

// Handler executes one already-validated command. dry indicates a
// dry-run; the handler must not perform any external or store mutation
// when dry is true.
type Handler func(ctx context.Context, req Request, args map[string]any, dry bool) (*protocol.Envelope, error)

// Dispatcher owns the command routing table.
type Dispatcher struct {
	handlers map[string]Handler
	now      func() int64
}

// New builds a Dispatcher with the given time source (unix milliseconds).
func New(now func() int64) *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler), now: now}
}

// Register binds a handler to a command name. Registering a command name
// absent from the whitelist table is a programmer error and panics at
// startup rather than silently never routing.
func (d *Dispatcher) Register(cmd string, h Handler) {
	if _, ok := allowedCommandArgs[cmd]; !ok {
		panic(fmt.Sprintf("dispatcher: command %q has no argument whitelist entry", cmd))
	}
	d.handlers[cmd] = h
}

// Dispatch validates and routes one request, returning the response
// envelope. It never returns a Go error for a malformed request — every
// validation failure becomes an INVALID envelope instead of being
// silently swallowed.
func (d *Dispatcher) Dispatch(ctx context.Context, line []byte) *protocol.Envelope {
	now := d.now()

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return protocol.NewError("", now, protocol.CodeInvalid, fmt.Sprintf("malformed request: %s", err)).
			WithFix("send one well-formed JSON object per line")
	}

	if strings.Contains(req.Cmd, "\x00") {
		return protocol.NewError(req.Rid, now, protocol.CodeInvalid, "Null byte is not allowed in cmd").
			WithFix("Remove null bytes from request fields").
			WithCtx(map[string]string{"field": "cmd"})
	}

	args := map[string]any{}
	if len(req.Args) > 0 {
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return protocol.NewError(req.Rid, now, protocol.CodeInvalid, fmt.Sprintf("args must be a JSON object: %s", err)).
				WithFix("send args as a JSON object")
		}
	}

	if field, ok := firstNullByteField(args, ""); ok {
		return protocol.NewError(req.Rid, now, protocol.CodeInvalid, fmt.Sprintf("Null byte is not allowed in field %s", field)).
			WithFix("Remove null bytes from request fields").
			WithCtx(map[string]string{"field": field})
	}

	if req.Cmd == "" {
		return protocol.NewError(req.Rid, now, protocol.CodeInvalid, "cmd is required").
			WithFix("provide one JSON command per line")
	}

	specific, known := allowedCommandArgs[req.Cmd]
	if !known {
		return d.unknownCommandEnvelope(req, now)
	}

	if unknown := unknownArgs(args, specific); len(unknown) > 0 {
		allowed := mergedSorted(specific, globalAllowedArgs)
		return protocol.NewError(req.Rid, now, protocol.CodeInvalid, fmt.Sprintf("Unknown field(s) for %s: %s", req.Cmd, strings.Join(unknown, ", "))).
			WithFix("Remove unknown fields or use documented command arguments").
			WithCtx(map[string]any{"cmd": req.Cmd, "unknown": unknown, "allowed": allowed})
	}

	if req.Cmd == "batch" {
		return d.dispatchBatch(ctx, req, now)
	}

	h, registered := d.handlers[req.Cmd]
	if !registered {
		return protocol.NewError(req.Rid, now, protocol.CodeInternal, fmt.Sprintf("command %s is not wired to a handler", req.Cmd)).
			WithFix("contact an operator; this is a deployment defect")
	}

	start := time.Now()
	env, err := h(ctx, req, args, req.Dry)
	ms := time.Since(start).Milliseconds()
	if err != nil {
		return protocol.NewError(req.Rid, now, protocol.CodeInternal, err.Error()).
			WithFix("retry, or inspect the underlying error in ctx").
			WithCtx(map[string]string{"error": err.Error()}).
			WithMs(ms)
	}
	return env.WithMs(ms)
}

// batchItemResult is one element of a batch response's items array.
type batchItemResult struct {
	Seq int             `json:"seq"`
	Ev  string          `json:"ev"`
	OK  bool            `json:"ok"`
	D   json.RawMessage `json:"d,omitempty"`
	Err *protocol.Error `json:"err,omitempty"`
}

type batchSummary struct {
	Total int `json:"total"`
	Pass  int `json:"pass"`
	Fail  int `json:"fail"`
}

type batchPayload struct {
	Items   []batchItemResult `json:"items"`
	Summary batchSummary      `json:"summary"`
}

// dispatchBatch runs each op in the ops array sequentially through the
// same validation and routing path, accumulating per-item outcomes. A
// batch with mixed per-item outcomes is still ok:true at the top level;
// only a malformed batch request itself (missing or empty ops, or
// 'cmds' in place of 'ops') fails outright. A nested batch op is
// reported as a failed item.
func (d *Dispatcher) dispatchBatch(ctx context.Context, req Request, now int64) *protocol.Envelope {
	var body struct {
		Ops  []json.RawMessage `json:"ops"`
		Cmds json.RawMessage   `json:"cmds"`
	}
	if len(req.Args) > 0 {
		_ = json.Unmarshal(req.Args, &body)
	}

	if body.Cmds != nil {
		return protocol.NewError(req.Rid, now, protocol.CodeInvalid, "batch requires 'ops', not 'cmds'").
			WithFix("rename the field to 'ops'")
	}
	if len(body.Ops) == 0 {
		return protocol.NewError(req.Rid, now, protocol.CodeInvalid, "batch requires a non-empty 'ops' array").
			WithFix("provide at least one operation in 'ops'")
	}

	items := make([]batchItemResult, 0, len(body.Ops))
	pass, fail := 0, 0
	for i, opLine := range body.Ops {
		var probe struct {
			Cmd string `json:"cmd"`
		}
		_ = json.Unmarshal(opLine, &probe)
		if probe.Cmd == "batch" {
			fail++
			items = append(items, batchItemResult{
				Seq: i, Ev: probe.Cmd, OK: false,
				Err: &protocol.Error{Code: protocol.CodeInvalid, Msg: "nested batch is not allowed"},
			})
			continue
		}

		env := d.Dispatch(ctx, opLine)
		if env.OK {
			pass++
		} else {
			fail++
		}
		items = append(items, batchItemResult{Seq: i, Ev: probe.Cmd, OK: env.OK, D: env.D, Err: env.Err})
	}

	payload := batchPayload{Items: items, Summary: batchSummary{Total: len(items), Pass: pass, Fail: fail}}
	env, err := protocol.Success(req.Rid, now, payload)
	if err != nil {
		return protocol.NewError(req.Rid, now, protocol.CodeInternal, err.Error())
	}
	return env
}

func (d *Dispatcher) unknownCommandEnvelope(req Request, now int64) *protocol.Envelope {
	env := protocol.NewError(req.Rid, now, protocol.CodeInvalid, fmt.Sprintf("unknown command %q", req.Cmd)).
		WithFix("run '?' for the list of supported commands")
	if suggestion, ok := suggest(req.Cmd); ok {
		env.Err.Msg = fmt.Sprintf("%s. Did you mean: %s?", env.Err.Msg, suggestion)
	}
	return env
}

// suggest returns the closest known command within edit distance 3.
func suggest(cmd string) (string, bool) {
	best := ""
	bestDist := 4
	for _, known := range commandOrder {
		dist := levenshtein.ComputeDistance(cmd, known)
		if dist < bestDist {
			bestDist = dist
			best = known
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}

func unknownArgs(args map[string]any, specific []string) []string {
	var unknown []string
	for key := range args {
		if contains(specific, key) || contains(globalAllowedArgs, key) {
			continue
		}
		unknown = append(unknown, key)
	}
	sort.Strings(unknown)
	return unknown
}

func mergedSorted(a, b []string) []string {
	set := map[string]struct{}{}
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func contains(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

// firstNullByteField walks args recursively (objects and arrays) and
// reports the dotted/indexed path of the first string value containing a
// NUL byte.
func firstNullByteField(value any, prefix string) (string, bool) {
	switch v := value.(type) {
	case string:
		if strings.Contains(v, "\x00") {
			return prefix, true
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			field := k
			if prefix != "" {
				field = prefix + "." + k
			}
			if f, ok := firstNullByteField(v[k], field); ok {
				return f, true
			}
		}
	case []any:
		for i, item := range v {
			field := fmt.Sprintf("%s[%d]", prefix, i)
			if f, ok := firstNullByteField(item, field); ok {
				return f, true
			}
		}
	}
	return "", false
}

// DryRunStep is one planned action in a would_do response.
type DryRunStep struct {
	Step   int    `json:"step"`
	Action string `json:"action"`
	Target string `json:"target,omitempty"`
}

// DryRunPayload is the {dry,would_do,estimated_ms,reversible,side_effects}
// body returned instead of executing a mutating command.
type DryRunPayload struct {
	Dry         bool         `json:"dry"`
	WouldDo     []DryRunStep `json:"would_do"`
	EstimatedMs int64        `json:"estimated_ms"`
	Reversible  bool         `json:"reversible"`
	SideEffects []string     `json:"side_effects"`
}

// NewDryRunPayload builds a DryRunPayload. SideEffects is always a
// non-nil empty slice so it serializes as [] rather than null.
func NewDryRunPayload(steps []DryRunStep, estimatedMs int64) DryRunPayload {
	return DryRunPayload{
		Dry:         true,
		WouldDo:     steps,
		EstimatedMs: estimatedMs,
		Reversible:  true,
		SideEffects: []string{},
	}
}

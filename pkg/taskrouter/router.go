// Package taskrouter implements the Task Router (§4.8 C8): the dispatch
// table the session gateway (C7) hands every authenticated agent.task frame
// to. It chains the policy engine (C1) and capability manager (C2) in front
// of every tool invocation, routes chat through the LLM router (C5), and
// asks the worker supervisor (C6) to spawn/terminate agents. Its shape is
// grounded on pkg/mcp/router.go's server-union-by-capability dispatch
// idiom, re-domained from "which MCP server owns this tool" to "which
// collaborator owns this task type".
package taskrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentkernel/gateway/pkg/apierrors"
	"github.com/agentkernel/gateway/pkg/capability"
	"github.com/agentkernel/gateway/pkg/config"
	"github.com/agentkernel/gateway/pkg/gateway"
	"github.com/agentkernel/gateway/pkg/llmrouter"
	"github.com/agentkernel/gateway/pkg/manifest"
	"github.com/agentkernel/gateway/pkg/policy"
	"github.com/agentkernel/gateway/pkg/state"
	"github.com/agentkernel/gateway/pkg/tools"
	"github.com/agentkernel/gateway/pkg/wire"
	"github.com/agentkernel/gateway/pkg/worker"
)

// AuditRecorder receives one record per dispatched task (§4.1 edge case
// extended to C8: every gated action is audited, not only policy/capability
// evaluations already recorded by their own packages).
type AuditRecorder interface {
	RecordTaskEvent(ctx context.Context, action, agentID string, detail map[string]any)
}

// StatePersister durably records agent lifecycle transitions so "a new
// client receives consistent initial state" (§4.8) after a restart.
type StatePersister interface {
	UpsertAgent(ctx context.Context, snap state.AgentSnapshot) error
}

// ClusterForwarder routes a task to the node actually hosting its target
// agent (§4.8 "cross-node task... forward via C9"). Implemented by pkg/cluster.
type ClusterForwarder interface {
	LocalNodeID() string
	Forward(ctx context.Context, nodeID string, task wire.TaskPayload) (wire.TaskResult, error)
}

// MemoryCollaborator is the opaque recall/episodic-memory backend (out of
// scope per spec §1: "memory vector search backend treated as an opaque
// store behind a recall interface"). A nil MemoryCollaborator makes the
// four memory task types fail with ErrUnavailable rather than panic.
type MemoryCollaborator interface {
	SearchMemory(ctx context.Context, agentID, query string) (any, error)
	StoreFact(ctx context.Context, agentID string, args json.RawMessage) (any, error)
	RecordEpisode(ctx context.Context, agentID string, args json.RawMessage) (any, error)
	LearnProcedure(ctx context.Context, agentID string, args json.RawMessage) (any, error)
}

// MCPToolLister supplies the MCP-advertised half of list_tools (§4.8: "union
// of builtin + MCP-advertised tools"). Implemented by pkg/mcpclient.
type MCPToolLister interface {
	ListTools(ctx context.Context) ([]tools.Definition, error)
}

// subscription tracks one client's topic subscriptions for agent.state.changed delivery.
type subscription struct {
	mu     sync.Mutex
	topics map[string]map[string]struct{} // clientID -> topic set
}

func newSubscription() *subscription {
	return &subscription{topics: make(map[string]map[string]struct{})}
}

func (s *subscription) subscribe(clientID string, topics []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.topics[clientID]
	if !ok {
		set = make(map[string]struct{})
		s.topics[clientID] = set
	}
	for _, t := range topics {
		set[t] = struct{}{}
	}
}

func (s *subscription) unsubscribe(clientID string, topics []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.topics[clientID]
	if !ok {
		return
	}
	for _, t := range topics {
		delete(set, t)
	}
}

func (s *subscription) subscribed(clientID, topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.topics[clientID]
	if !ok {
		return false
	}
	_, ok = set[topic]
	return ok
}

func (s *subscription) drop(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.topics, clientID)
}

// Router implements gateway.Dispatcher (§4.8 C8).
type Router struct {
	logger *slog.Logger

	agents      *state.Registry
	workers     *worker.Supervisor
	llm         *llmrouter.Router
	policy      *policy.Engine
	capability  *capability.Manager
	builtins    *tools.Registry
	mcpTools    MCPToolLister
	memory      MemoryCollaborator
	cluster     ClusterForwarder
	broadcaster *gateway.Server
	audit       AuditRecorder
	persister   StatePersister

	defaultLimits  config.LimitsConfig
	manifestSecret []byte

	subs *subscription
}

// Deps bundles Router's collaborators; every field except the required
// core (agents/workers/llm/policy/capability/builtins) may be nil.
type Deps struct {
	Agents         *state.Registry
	Workers        *worker.Supervisor
	LLM            *llmrouter.Router
	Policy         *policy.Engine
	Capability     *capability.Manager
	Builtins       *tools.Registry
	MCPTools       MCPToolLister
	Memory         MemoryCollaborator
	Cluster        ClusterForwarder
	Broadcaster    *gateway.Server
	Audit          AuditRecorder
	Persister      StatePersister
	DefaultLimits  config.LimitsConfig
	ManifestSecret []byte
	Logger         *slog.Logger
}

// New builds a Router from deps.
func New(deps Deps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		logger:         logger,
		agents:         deps.Agents,
		workers:        deps.Workers,
		llm:            deps.LLM,
		policy:         deps.Policy,
		capability:     deps.Capability,
		builtins:       deps.Builtins,
		mcpTools:       deps.MCPTools,
		memory:         deps.Memory,
		cluster:        deps.Cluster,
		audit:          deps.Audit,
		persister:      deps.Persister,
		defaultLimits:  deps.DefaultLimits,
		manifestSecret: deps.ManifestSecret,
		broadcaster:    deps.Broadcaster,
		subs:           newSubscription(),
	}
	return r
}

// SetBroadcaster wires the gateway server after construction, breaking the
// circular dependency between gateway.NewServer (which needs a Dispatcher)
// and Router (which needs the resulting *gateway.Server to broadcast
// agent.state.changed).
func (r *Router) SetBroadcaster(s *gateway.Server) {
	r.broadcaster = s
}

func (r *Router) recordAudit(ctx context.Context, action, agentID string, detail map[string]any) {
	if r.audit != nil {
		r.audit.RecordTaskEvent(ctx, action, agentID, detail)
	}
}

// Dispatch implements gateway.Dispatcher. Every frame that reaches here has
// already passed the gateway's auth handshake and per-client rate limit.
func (r *Router) Dispatch(ctx context.Context, clientID string, frame wire.Frame) ([]wire.Frame, error) {
	switch frame.Type {
	case wire.TypeChat:
		return r.dispatchChat(ctx, clientID, frame)
	case wire.TypeAgentSpawn:
		return r.dispatchSpawn(ctx, clientID, frame)
	case wire.TypeAgentTerminate:
		return r.dispatchTerminate(ctx, clientID, frame)
	case wire.TypeAgentTask:
		return r.dispatchTask(ctx, clientID, frame)
	case wire.TypeSubscribe:
		return r.dispatchSubscribe(ctx, clientID, frame, true)
	case wire.TypeUnsubscribe:
		return r.dispatchSubscribe(ctx, clientID, frame, false)
	default:
		return errorFrame(frame.ID, wire.ErrCodeValidation, fmt.Sprintf("unsupported frame type %q", frame.Type)), nil
	}
}

func errorFrame(id string, code wire.ErrorCode, message string) []wire.Frame {
	f, _ := wire.NewFrame(wire.TypeError, id, wire.ErrorPayload{Code: code, Message: message})
	return []wire.Frame{f}
}

func (r *Router) dispatchSubscribe(_ context.Context, clientID string, frame wire.Frame, subscribe bool) ([]wire.Frame, error) {
	var payload wire.SubscribePayload
	if err := frame.Decode(&payload); err != nil {
		return errorFrame(frame.ID, wire.ErrCodeValidation, err.Error()), nil
	}
	if subscribe {
		r.subs.subscribe(clientID, payload.Topics)
	} else {
		r.subs.unsubscribe(clientID, payload.Topics)
	}
	result, _ := wire.NewFrame(wire.TypeResult, frame.ID, wire.ResultPayload{Content: map[string]any{"ok": true}})
	return []wire.Frame{result}, nil
}

// publishStateChange persists the new snapshot and broadcasts it to every
// client subscribed to "agent.state.changed" (§4.8: "published to
// subscribers... also persisted so a new client receives consistent
// initial state").
func (r *Router) publishStateChange(ctx context.Context, snap state.AgentSnapshot) {
	if r.persister != nil {
		if err := r.persister.UpsertAgent(ctx, snap); err != nil {
			r.logger.Warn("taskrouter: persist agent state failed", "agent", snap.ID, "error", err)
		}
	}
	if r.broadcaster == nil {
		return
	}
	evt, _ := wire.NewFrame(wire.TypeSystem, "", map[string]any{"topic": "agent.state.changed", "agent": snap})
	r.broadcaster.Broadcast(evt, func(clientID string) bool {
		return r.subs.subscribed(clientID, "agent.state.changed")
	})
}

func (r *Router) dispatchChat(ctx context.Context, clientID string, frame wire.Frame) ([]wire.Frame, error) {
	var payload wire.ChatPayload
	if err := frame.Decode(&payload); err != nil {
		return errorFrame(frame.ID, wire.ErrCodeValidation, err.Error()), nil
	}

	ag, ok := r.agents.Get(payload.AgentID)
	if !ok {
		return errorFrame(frame.ID, wire.ErrCodeNotFound, "unknown agent"), nil
	}

	req := llmrouter.Request{
		Model:    "default",
		Messages: []llmrouter.Message{{Role: "user", Content: payload.Message}},
		Stream:   payload.Stream,
	}
	if pref, ok := ag.GetMetadata("preferredModel"); ok {
		if s, ok := pref.(string); ok && s != "" {
			req.Model = s
		}
	}

	result, err := r.llm.Route(ctx, req)
	if err != nil {
		return r.llmErrorFrame(frame.ID, err), nil
	}
	ag.RecordUsage(int64(result.Usage.InputTokens), int64(result.Usage.OutputTokens))

	if payload.Stream {
		// The router accumulates a provider's stream into one Result rather
		// than handing chunks back incrementally, so the gateway still
		// honors the wire protocol's chat_stream/chat_stream_end pair —
		// just as a single delta followed by the usage summary.
		chunk, _ := wire.NewFrame(wire.TypeChatStream, frame.ID, map[string]any{"agentId": payload.AgentID, "delta": result.Content})
		end, _ := wire.NewFrame(wire.TypeChatStreamEnd, frame.ID, map[string]any{"agentId": payload.AgentID, "usage": result.Usage})
		if r.broadcaster != nil {
			_ = r.broadcaster.SendTo(clientID, chunk)
			return []wire.Frame{end}, nil
		}
		return []wire.Frame{chunk, end}, nil
	}

	out, _ := wire.NewFrame(wire.TypeResult, frame.ID, wire.ResultPayload{Content: result})
	return []wire.Frame{out}, nil
}

func (r *Router) llmErrorFrame(id string, err error) []wire.Frame {
	code := wire.ErrCodeProvider
	switch {
	case err == llmrouter.ErrBudgetExceeded:
		code = wire.ErrCodeBudgetExceeded
	case err == llmrouter.ErrNoProvider:
		code = wire.ErrCodeProvider
	}
	return errorFrame(id, code, err.Error())
}

func (r *Router) dispatchSpawn(ctx context.Context, _ string, frame wire.Frame) ([]wire.Frame, error) {
	var payload wire.SpawnPayload
	if err := frame.Decode(&payload); err != nil {
		return errorFrame(frame.ID, wire.ErrCodeValidation, err.Error()), nil
	}
	if len(payload.Manifest) == 0 {
		return errorFrame(frame.ID, wire.ErrCodeValidation, "manifest required"), nil
	}

	m, err := manifest.Parse(payload.Manifest)
	if err != nil {
		return errorFrame(frame.ID, wire.ErrCodeValidation, err.Error()), nil
	}
	if m.Signature != "" && len(r.manifestSecret) > 0 {
		ok, err := manifest.Verify(m, r.manifestSecret)
		if err != nil || !ok {
			return errorFrame(frame.ID, wire.ErrCodeValidation, "manifest signature invalid"), nil
		}
	}

	id := uuid.NewString()
	perms := manifest.ToPermissions(m)
	limits := m.Limits
	if limits == (config.LimitsConfig{}) {
		limits = r.defaultLimits
	}
	trustLevel := m.TrustLevel
	if trustLevel == "" {
		trustLevel = config.TrustLevelSupervised
	}

	ag := state.NewAgent(id, m.Name, r.localNodeID(), trustLevel, perms, limits)
	ag.SetMetadata("preferredModel", m.PreferredModel)
	r.agents.Put(ag)
	r.publishStateChange(ctx, ag.Snapshot())

	if _, err := r.capability.Grant(ctx, capability.GrantRequest{AgentID: id, Permissions: perms, Purpose: "agent.spawn"}, "taskrouter"); err != nil {
		ag.Transition(state.AgentStatusError)
		r.publishStateChange(ctx, ag.Snapshot())
		return errorFrame(frame.ID, wire.ErrCodeInternal, err.Error()), nil
	}

	w, err := r.workers.Spawn(id, config.WorkerRuntimeLocal, m.Name, nil, "")
	if err != nil {
		ag.Transition(state.AgentStatusError)
		r.publishStateChange(ctx, ag.Snapshot())
		return errorFrame(frame.ID, wire.ErrCodeInternal, err.Error()), nil
	}
	w.OnStateChange(func(worker.State) {
		r.publishStateChange(ctx, ag.Snapshot())
	})
	if err := w.Start(ctx); err != nil {
		ag.Transition(state.AgentStatusError)
		r.publishStateChange(ctx, ag.Snapshot())
		return errorFrame(frame.ID, wire.ErrCodeInternal, err.Error()), nil
	}

	ag.Transition(state.AgentStatusReady)
	r.publishStateChange(ctx, ag.Snapshot())
	r.recordAudit(ctx, "agent.spawn", id, map[string]any{"name": m.Name})

	out, _ := wire.NewFrame(wire.TypeResult, frame.ID, wire.ResultPayload{Content: ag.Snapshot()})
	return []wire.Frame{out}, nil
}

func (r *Router) localNodeID() string {
	if r.cluster != nil {
		return r.cluster.LocalNodeID()
	}
	return "local"
}

func (r *Router) dispatchTerminate(ctx context.Context, _ string, frame wire.Frame) ([]wire.Frame, error) {
	var payload wire.TerminatePayload
	if err := frame.Decode(&payload); err != nil {
		return errorFrame(frame.ID, wire.ErrCodeValidation, err.Error()), nil
	}

	ag, ok := r.agents.Get(payload.AgentID)
	if !ok {
		return errorFrame(frame.ID, wire.ErrCodeNotFound, "unknown agent"), nil
	}
	ag.RequestShutdown()

	w, ok := r.workers.Get(payload.AgentID)
	if ok {
		termCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := w.Terminate(termCtx); err != nil {
			r.logger.Warn("taskrouter: worker terminate error", "agent", payload.AgentID, "error", err)
		}
		r.workers.Remove(payload.AgentID)
	}

	ag.Transition(state.AgentStatusTerminated)
	r.publishStateChange(ctx, ag.Snapshot())
	r.recordAudit(ctx, "agent.terminate", payload.AgentID, nil)

	out, _ := wire.NewFrame(wire.TypeResult, frame.ID, wire.ResultPayload{Content: ag.Snapshot()})
	return []wire.Frame{out}, nil
}

// dispatchTask handles the agent.task frame's embedded Task union (§4.8 dispatch table).
func (r *Router) dispatchTask(ctx context.Context, clientID string, frame wire.Frame) ([]wire.Frame, error) {
	var payload wire.TaskPayload
	if err := frame.Decode(&payload); err != nil {
		return errorFrame(frame.ID, wire.ErrCodeValidation, err.Error()), nil
	}
	var task wire.Task
	if err := json.Unmarshal(payload.Task, &task); err != nil {
		return errorFrame(frame.ID, wire.ErrCodeValidation, err.Error()), nil
	}

	ag, ok := r.agents.Get(payload.AgentID)
	if !ok {
		return errorFrame(frame.ID, wire.ErrCodeNotFound, "unknown agent"), nil
	}

	if r.cluster != nil {
		if snap := ag.Snapshot(); snap.NodeID != "" && snap.NodeID != r.cluster.LocalNodeID() {
			result, err := r.cluster.Forward(ctx, snap.NodeID, payload)
			if err != nil {
				return errorFrame(frame.ID, wire.ErrCodeInternal, err.Error()), nil
			}
			out, _ := wire.NewFrame(wire.TypeResult, frame.ID, wire.ResultPayload{Content: result.Content})
			return []wire.Frame{out}, nil
		}
	}

	switch task.Type {
	case wire.TaskTypeInvokeTool:
		return r.dispatchInvokeTool(ctx, clientID, frame, ag, task)
	case wire.TaskTypeSearchMemory:
		return r.dispatchMemory(ctx, frame, ag, task)
	case wire.TaskTypeStoreFact:
		return r.dispatchMemory(ctx, frame, ag, task)
	case wire.TaskTypeRecordEpisode:
		return r.dispatchMemory(ctx, frame, ag, task)
	case wire.TaskTypeLearnProcedure:
		return r.dispatchMemory(ctx, frame, ag, task)
	case wire.TaskTypeListTools:
		return r.dispatchListTools(ctx, frame, ag)
	default:
		return errorFrame(frame.ID, wire.ErrCodeValidation, fmt.Sprintf("unsupported task type %q", task.Type)), nil
	}
}

// requiresApproval implements §4.8's exact approval rule.
func requiresApproval(trustLevel config.TrustLevel, decision config.Decision, def tools.Definition) bool {
	if trustLevel == config.TrustLevelSupervised {
		return true
	}
	if decision == config.DecisionApprove {
		return true
	}
	return def.RequiresConfirmation
}

func (r *Router) dispatchInvokeTool(ctx context.Context, _ string, frame wire.Frame, ag *state.Agent, task wire.Task) ([]wire.Frame, error) {
	tool, ok := r.builtins.Get(task.ToolID)
	if !ok {
		return errorFrame(frame.ID, wire.ErrCodeNotFound, fmt.Sprintf("unknown tool %q", task.ToolID)), nil
	}
	def := tool.Definition()

	preq, err := tool.PolicyRequest(task.Arguments)
	if err != nil {
		return errorFrame(frame.ID, wire.ErrCodeValidation, err.Error()), nil
	}

	snap := ag.Snapshot()

	// Resource-scoped policy gate (file/network/shell path-or-host/command
	// rules, e.g. blocking "**/.ssh/**"). A tool with no policy surface
	// (preq == nil, e.g. builtin:calculate) has nothing to evaluate here.
	decision, ruleName := config.DecisionAllow, "n/a"
	if preq != nil {
		decision, ruleName = r.policy.Evaluate(ctx, snap.Name, preq)
		if decision == config.DecisionBlock {
			r.recordAudit(ctx, "invoke_tool.blocked", snap.ID, map[string]any{"tool": task.ToolID, "rule": ruleName})
			return errorFrame(frame.ID, wire.ErrCodePermissionDenied, "blocked by policy rule "+ruleName), nil
		}
	}

	if requiresApproval(snap.TrustLevel, decision, def) {
		if task.Approval == nil || task.Approval.ApprovedBy == "" {
			return errorFrame(frame.ID, wire.ErrCodePermissionDenied, apierrors.ErrApprovalRequired.Error()), nil
		}
		r.recordAudit(ctx, "invoke_tool.approved", snap.ID, map[string]any{"tool": task.ToolID, "approvedBy": task.Approval.ApprovedBy})
	}

	// Category-level capability gate: does this agent hold a grant for
	// invoking tools at all (e.g. manifest permission "tools.execute")?
	if _, err := r.capability.Check(ctx, snap.ID, "tools", "execute", task.ToolID); err != nil {
		return errorFrame(frame.ID, wire.ErrCodePermissionDenied, err.Error()), nil
	}

	result, err := tool.Invoke(ctx, task.Arguments)
	if err != nil {
		r.recordAudit(ctx, "invoke_tool.error", snap.ID, map[string]any{"tool": task.ToolID, "error": err.Error()})
		return errorFrame(frame.ID, wire.ErrCodeInternal, err.Error()), nil
	}
	r.recordAudit(ctx, "invoke_tool.success", snap.ID, map[string]any{"tool": task.ToolID})

	out, _ := wire.NewFrame(wire.TypeResult, frame.ID, wire.ResultPayload{Content: wire.TaskResult{Content: result}})
	return []wire.Frame{out}, nil
}

func (r *Router) dispatchMemory(ctx context.Context, frame wire.Frame, ag *state.Agent, task wire.Task) ([]wire.Frame, error) {
	if r.memory == nil {
		return errorFrame(frame.ID, wire.ErrCodeInternal, apierrors.ErrUnavailable.Error()), nil
	}
	snap := ag.Snapshot()
	var (
		content any
		err     error
	)
	switch task.Type {
	case wire.TaskTypeSearchMemory:
		content, err = r.memory.SearchMemory(ctx, snap.ID, task.Query)
	case wire.TaskTypeStoreFact:
		content, err = r.memory.StoreFact(ctx, snap.ID, task.Arguments)
	case wire.TaskTypeRecordEpisode:
		content, err = r.memory.RecordEpisode(ctx, snap.ID, task.Arguments)
	case wire.TaskTypeLearnProcedure:
		content, err = r.memory.LearnProcedure(ctx, snap.ID, task.Arguments)
	}
	if err != nil {
		return errorFrame(frame.ID, wire.ErrCodeInternal, err.Error()), nil
	}
	out, _ := wire.NewFrame(wire.TypeResult, frame.ID, wire.ResultPayload{Content: wire.TaskResult{Content: content}})
	return []wire.Frame{out}, nil
}

func (r *Router) dispatchListTools(ctx context.Context, frame wire.Frame, ag *state.Agent) ([]wire.Frame, error) {
	snap := ag.Snapshot()
	defs := r.builtins.Definitions()
	if r.mcpTools != nil {
		mcpDefs, err := r.mcpTools.ListTools(ctx)
		if err == nil {
			defs = append(defs, mcpDefs...)
		}
	}

	filtered := make([]tools.Definition, 0, len(defs))
	for _, d := range defs {
		if _, err := r.capability.Check(ctx, snap.ID, "tools", "execute", d.ID); err == nil {
			filtered = append(filtered, d)
		}
	}

	out, _ := wire.NewFrame(wire.TypeResult, frame.ID, wire.ResultPayload{Content: filtered})
	return []wire.Frame{out}, nil
}

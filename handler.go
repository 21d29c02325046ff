package tramite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tramite-io/tramite/script"
)

// HandlerOptions configures a command handler.
type HandlerOptions struct {
	Store      Store
	Queue      Queue
	Notifier   Notifier
	Providers  *ProviderRegistry
	ProcessDir string
	Compiler   script.Compiler
	Logger     *slog.Logger
	HTTPClient *http.Client
}

// Handler is the state machine driving node lifecycle: wake, work, teardown,
// advance. It owns the Execution and Pointer aggregates; every mutation goes
// through it as a whole-document write.
type Handler struct {
	store      Store
	queue      Queue
	notifier   Notifier
	providers  *ProviderRegistry
	processDir string
	compiler   script.Compiler
	logger     *slog.Logger
	httpClient *http.Client
}

// NewHandler creates a handler. Store, Queue and ProcessDir are required;
// everything else has a working default.
func NewHandler(opts HandlerOptions) (*Handler, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if opts.ProcessDir == "" {
		return nil, fmt.Errorf("process dir is required")
	}
	if opts.Notifier == nil {
		opts.Notifier = NewNullNotifier()
	}
	if opts.Providers == nil {
		opts.Providers = NewProviderRegistry()
	}
	if opts.Compiler == nil {
		opts.Compiler = script.NewRisorScriptingEngine(script.DefaultGlobals())
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &Handler{
		store:      opts.Store,
		queue:      opts.Queue,
		notifier:   opts.Notifier,
		providers:  opts.Providers,
		processDir: opts.ProcessDir,
		compiler:   opts.Compiler,
		logger:     opts.Logger,
		httpClient: opts.HTTPClient,
	}, nil
}

// Dispatch decodes and runs one queued command. Unrecognized command names
// are logged and ignored.
func (h *Handler) Dispatch(ctx context.Context, body []byte) error {
	cmd, err := DecodeCommand(body)
	if err != nil {
		return err
	}
	switch cmd.Command {
	case CommandStart:
		return h.Start(ctx, cmd)
	case CommandStep:
		return h.Step(ctx, cmd)
	case CommandPatch:
		return h.Patch(ctx, cmd)
	case CommandCancel:
		return h.Cancel(ctx, cmd)
	default:
		h.logger.Warn("ignoring unrecognized command", "command", cmd.Command)
		return nil
	}
}

// Start creates a new execution of the named process and wakes its first
// node.
func (h *Handler) Start(ctx context.Context, cmd *Command) error {
	def, err := LoadProcess(h.processDir, cmd.Process)
	if err != nil {
		return err
	}
	exec := NewExecution(def.FullName())
	h.renderTemplates(ctx, def, exec)
	followups, err := h.wake(ctx, def, exec, def.Nodes[0])
	if err != nil {
		return err
	}
	if err := h.store.PutExecution(ctx, exec); err != nil {
		return err
	}
	h.logger.Info("execution started",
		"execution_id", exec.ID,
		"process", exec.Process,
		"user", cmd.UserIdentifier)
	return h.publish(ctx, followups)
}

// Step tears down the node a pointer marks, records the submitted forms and
// advances the execution. A pointer that is already gone fails with
// ErrInconsistentState, which is the idempotency guard against duplicate
// delivery.
func (h *Handler) Step(ctx context.Context, cmd *Command) error {
	pointer, err := h.store.GetPointer(ctx, cmd.PointerID)
	if err != nil {
		return err
	}
	if pointer == nil {
		return fmt.Errorf("%w: pointer %s is gone", ErrInconsistentState, cmd.PointerID)
	}
	exec, err := h.store.GetExecution(ctx, pointer.ExecutionID)
	if err != nil {
		return err
	}
	if exec == nil {
		return fmt.Errorf("%w: execution %s is gone", ErrInconsistentState, pointer.ExecutionID)
	}
	def, err := LoadProcess(h.processDir, exec.Process+".xml")
	if err != nil {
		return err
	}
	current := def.Node(pointer.NodeID)
	if current == nil {
		return fmt.Errorf("%w: node %s", ErrElementNotFound, pointer.NodeID)
	}

	// Teardown. The recorded forms are persisted before the pointer goes
	// away: if advancing fails further down, the submission survives and a
	// patch can resume from it.
	exec.RecordForms(current, cmd.UserIdentifier, cmd.Input)
	h.renderTemplates(ctx, def, exec)
	if err := h.store.PutExecution(ctx, exec); err != nil {
		return err
	}
	if err := h.store.DeletePointer(ctx, pointer.ID); err != nil {
		return err
	}
	if err := h.closeLogEntry(ctx, exec.ID, pointer.ID, LogFinished, cmd.UserIdentifier, ""); err != nil {
		return err
	}

	// Advance.
	nav := NewNavigator(def)
	next, err := nav.Next(ctx, current, exec)
	if errors.Is(err, ErrEndOfProcess) {
		return h.finish(ctx, exec)
	}
	if err != nil {
		return err
	}
	if next.Type == NodeExit {
		return h.finish(ctx, exec)
	}

	followups, err := h.wake(ctx, def, exec, next)
	if err != nil {
		return err
	}
	if err := h.store.PutExecution(ctx, exec); err != nil {
		return err
	}
	return h.publish(ctx, followups)
}

// Patch reopens earlier work: it displaces every live pointer, runs cascade
// invalidation for the corrected refs, and wakes the earliest defective
// node.
func (h *Handler) Patch(ctx context.Context, cmd *Command) error {
	exec, err := h.store.GetExecution(ctx, cmd.ExecutionID)
	if err != nil {
		return err
	}
	if exec == nil {
		return fmt.Errorf("%w: execution %s is gone", ErrInconsistentState, cmd.ExecutionID)
	}
	def, err := LoadProcess(h.processDir, exec.Process+".xml")
	if err != nil {
		return err
	}

	// Displace live pointers: their nodes go back to unfilled and their
	// log entries close as cancelled with the patch metadata attached.
	pointers, err := h.store.ListPointers(ctx, exec.ID)
	if err != nil {
		return err
	}
	for _, pointer := range pointers {
		if spec := def.Node(pointer.NodeID); spec != nil {
			exec.NodeState(spec).State = StateUnfilled
		}
		if err := h.store.DeletePointer(ctx, pointer.ID); err != nil {
			return err
		}
		if err := h.closeLogEntry(ctx, exec.ID, pointer.ID, LogCancelled, cmd.UserIdentifier, cmd.Comment); err != nil {
			return err
		}
	}

	updates, err := CascadeInvalidate(def, exec, cmd.Inputs, cmd.Comment)
	if err != nil {
		return err
	}
	if err := ApplyUpdates(exec, updates); err != nil {
		return err
	}

	nav := NewNavigator(def)
	next, err := nav.FirstDefective(exec)
	if errors.Is(err, ErrElementNotFound) {
		return fmt.Errorf("%w: nothing to resume in execution %s", ErrCannotMove, exec.ID)
	}
	if err != nil {
		return err
	}
	followups, err := h.wake(ctx, def, exec, next)
	if err != nil {
		return err
	}
	if err := h.store.PutExecution(ctx, exec); err != nil {
		return err
	}
	h.logger.Info("execution patched",
		"execution_id", exec.ID,
		"resumed_at", next.ID,
		"corrections", len(cmd.Inputs))
	return h.publish(ctx, followups)
}

// Cancel terminates an execution unconditionally: every live pointer is
// deleted with its log entry closed as cancelled, and the execution
// aggregate is removed. The log trail is retained.
func (h *Handler) Cancel(ctx context.Context, cmd *Command) error {
	exec, err := h.store.GetExecution(ctx, cmd.ExecutionID)
	if err != nil {
		return err
	}
	if exec == nil {
		return fmt.Errorf("%w: execution %s is gone", ErrInconsistentState, cmd.ExecutionID)
	}
	pointers, err := h.store.ListPointers(ctx, exec.ID)
	if err != nil {
		return err
	}
	for _, pointer := range pointers {
		if err := h.store.DeletePointer(ctx, pointer.ID); err != nil {
			return err
		}
		if err := h.closeLogEntry(ctx, exec.ID, pointer.ID, LogCancelled, cmd.UserIdentifier, ""); err != nil {
			return err
		}
	}
	exec.Status = ExecutionCancelled
	if err := h.store.DeleteExecution(ctx, exec.ID); err != nil {
		return err
	}
	h.logger.Info("execution cancelled", "execution_id", exec.ID)
	return nil
}

// wake puts a node in progress: a fresh pointer and log entry, candidate
// actors resolved through the node's hierarchy provider, one notification
// per candidate. Non-interactive nodes execute their work immediately and
// return a self-generated follow-up step so the machine advances without
// external input. Follow-ups are published by the caller after the
// execution document is persisted.
func (h *Handler) wake(ctx context.Context, def *ProcessDefinition, exec *Execution, node *NodeSpec) ([]*Command, error) {
	exec.NodeState(node).State = StateOngoing
	candidates, err := h.resolveCandidates(ctx, exec, node)
	if err != nil {
		return nil, err
	}
	pointer := NewPointer(exec.ID, node.ID, candidates)
	if err := h.store.PutPointer(ctx, pointer); err != nil {
		return nil, err
	}
	if err := h.store.PutLogEntry(ctx, NewLogEntry(pointer)); err != nil {
		return nil, err
	}
	if err := h.notifier.NotifyCandidates(ctx, exec, node, candidates); err != nil {
		h.logger.Error("failed to notify candidates",
			"execution_id", exec.ID, "node", node.ID, "error", err)
	}
	h.logger.Info("node awake",
		"execution_id", exec.ID,
		"node", node.ID,
		"type", node.Type,
		"candidates", len(candidates))

	if node.Type.Interactive() {
		return nil, nil
	}
	worker, ok := nodeWorkers[node.Type]
	if !ok {
		return nil, fmt.Errorf("%w: node %s of type %s cannot self-compute", ErrCannotMove, node.ID, node.Type)
	}
	forms, extra, err := worker.Work(ctx, h, exec, node)
	if err != nil {
		return nil, err
	}
	followups := append(extra, &Command{
		Command:        CommandStep,
		PointerID:      pointer.ID,
		UserIdentifier: SystemUser,
		Input:          forms,
	})
	return followups, nil
}

// resolveCandidates runs the node's auth filter through the named hierarchy
// provider. Ref-typed params are resolved to the actor who completed the
// referenced node.
func (h *Handler) resolveCandidates(ctx context.Context, exec *Execution, node *NodeSpec) ([]string, error) {
	if node.Filter == nil {
		return nil, nil
	}
	provider, err := h.providers.Hierarchy(node.Filter.Backend)
	if err != nil {
		return nil, err
	}
	params := make(map[string]string, len(node.Filter.Params))
	for _, param := range node.Filter.Params {
		value := param.Value
		if param.Type == "ref" {
			actor, ok := exec.LastActorFor(param.Value)
			if !ok {
				return nil, fmt.Errorf("%w: ref param %q of node %s points at an unanswered node",
					ErrInconsistentState, param.Value, node.ID)
			}
			value = actor
		}
		params[param.Name] = value
	}
	return provider.FindUsers(ctx, params)
}

// finish closes out a completed execution: the ephemeral aggregate is
// deleted while the pointer log trail is retained.
func (h *Handler) finish(ctx context.Context, exec *Execution) error {
	exec.Status = ExecutionFinished
	if err := h.store.DeleteExecution(ctx, exec.ID); err != nil {
		return err
	}
	h.logger.Info("execution finished", "execution_id", exec.ID, "process", exec.Process)
	return nil
}

func (h *Handler) closeLogEntry(ctx context.Context, executionID, pointerID string, state LogState, actor, comment string) error {
	entries, err := h.store.ListLogEntries(ctx, executionID)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.PointerID == pointerID && entry.State == LogOngoing {
			entry.Close(state, actor, comment)
			return h.store.PutLogEntry(ctx, entry)
		}
	}
	return fmt.Errorf("%w: no open log entry for pointer %s", ErrInconsistentState, pointerID)
}

// renderTemplates refreshes the execution's name and description from the
// process templates against the current values. A template failure keeps
// the raw text; it never fails the command.
func (h *Handler) renderTemplates(ctx context.Context, def *ProcessDefinition, exec *Execution) {
	exec.Name = h.renderTemplate(ctx, def.Title, exec)
	exec.Description = h.renderTemplate(ctx, def.Description, exec)
}

func (h *Handler) renderTemplate(ctx context.Context, raw string, exec *Execution) string {
	if raw == "" {
		return ""
	}
	tmpl, err := script.NewTemplate(h.compiler, raw)
	if err != nil {
		h.logger.Warn("bad template", "template", raw, "error", err)
		return raw
	}
	rendered, err := tmpl.Eval(ctx, exec.TemplateContext())
	if err != nil {
		h.logger.Warn("template evaluation failed", "template", raw, "error", err)
		return raw
	}
	return rendered
}

func (h *Handler) publish(ctx context.Context, commands []*Command) error {
	for _, cmd := range commands {
		body, err := cmd.Encode()
		if err != nil {
			return err
		}
		if err := h.queue.Publish(ctx, body); err != nil {
			return err
		}
	}
	return nil
}

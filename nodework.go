package tramite

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tramite-io/tramite/script"
)

// maxResponseBytes caps how much of a request node's response is recorded.
const maxResponseBytes = 64 * 1024

// nodeWorker is the work half of a non-interactive node variant: it runs
// when the node wakes and yields the forms its self-generated step submits,
// plus any extra commands to publish.
type nodeWorker interface {
	Work(ctx context.Context, h *Handler, exec *Execution, node *NodeSpec) ([]*FormState, []*Command, error)
}

// nodeWorkers is the variant table for self-computing node types,
// resolved by type tag.
var nodeWorkers = map[NodeType]nodeWorker{
	NodeConditional: conditionalWorker{},
	NodeCall:        callWorker{},
	NodeRequest:     requestWorker{},
}

// conditionalWorker has nothing to compute at work time: the navigator
// already evaluated the branch expression to reach this node.
type conditionalWorker struct{}

func (conditionalWorker) Work(ctx context.Context, h *Handler, exec *Execution, node *NodeSpec) ([]*FormState, []*Command, error) {
	return nil, nil, nil
}

// callWorker starts another process.
type callWorker struct{}

func (callWorker) Work(ctx context.Context, h *Handler, exec *Execution, node *NodeSpec) ([]*FormState, []*Command, error) {
	if node.Procedure == "" {
		return nil, nil, fmt.Errorf("%w: call node %s has no procedure", ErrMalformedProcess, node.ID)
	}
	start := &Command{
		Command:        CommandStart,
		Process:        node.Procedure,
		UserIdentifier: SystemUser,
	}
	return nil, []*Command{start}, nil
}

// requestWorker performs an HTTP request and records the status code and
// response body as the node's form.
type requestWorker struct{}

func (requestWorker) Work(ctx context.Context, h *Handler, exec *Execution, node *NodeSpec) ([]*FormState, []*Command, error) {
	url, err := renderRequestURL(ctx, h.compiler, node.URL, exec)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: request node %s: %s", ErrMalformedProcess, node.ID, err)
	}
	method := node.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("request node %s: %w", node.ID, err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request node %s: %w", node.ID, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("request node %s: %w", node.ID, err)
	}
	form := &FormState{
		Ref: requestFormRef(node),
		Inputs: map[string]*InputValue{
			"status_code": {Value: fmt.Sprintf("%d", resp.StatusCode)},
			"response":    {Value: string(body)},
		},
	}
	return []*FormState{form}, nil, nil
}

func requestFormRef(node *NodeSpec) string {
	if len(node.Forms) > 0 {
		return node.Forms[0].Ref
	}
	return node.ID
}

// renderRequestURL expands ${...} expressions in the URL against the
// execution's recorded values.
func renderRequestURL(ctx context.Context, compiler script.Compiler, raw string, exec *Execution) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("no url configured")
	}
	if !strings.Contains(raw, "${") {
		return raw, nil
	}
	tmpl, err := script.NewTemplate(compiler, raw)
	if err != nil {
		return "", err
	}
	return tmpl.Eval(ctx, exec.TemplateContext())
}

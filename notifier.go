package tramite

import (
	"context"

	"github.com/fatih/color"
)

// Notifier dispatches a notification to each candidate actor when a node
// wakes. Delivery channels (email, chat) are external; implementations here
// cover tests and console use.
type Notifier interface {
	NotifyCandidates(ctx context.Context, exec *Execution, node *NodeSpec, candidates []string) error
}

// NullNotifier drops all notifications.
type NullNotifier struct{}

func NewNullNotifier() *NullNotifier {
	return &NullNotifier{}
}

func (n *NullNotifier) NotifyCandidates(ctx context.Context, exec *Execution, node *NodeSpec, candidates []string) error {
	return nil
}

// ConsoleNotifier prints colorized notifications to stdout.
type ConsoleNotifier struct{}

func NewConsoleNotifier() *ConsoleNotifier {
	return &ConsoleNotifier{}
}

func (n *ConsoleNotifier) NotifyCandidates(ctx context.Context, exec *Execution, node *NodeSpec, candidates []string) error {
	for _, candidate := range candidates {
		color.Cyan("[%s] %s: node %q awaits input from %s", exec.Process, exec.ID, node.ID, candidate)
	}
	return nil
}

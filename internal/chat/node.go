// Package chat implements the conversation tree modules operate on.
//
// A conversation is a tree of role-tagged nodes. The Chat type wraps the
// current tail node and exposes the linear ancestor-to-tail view that is
// sent upstream, plus the mutation operations modules use to reshape it.
package chat

import (
	"strings"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

// Message roles. Mirrors the OpenAI chat completion roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single {role, content} record as it appears on the wire.
// Tool turns additionally carry the id of the call they answer; assistant
// turns may carry the tool calls the model requested.
type Message struct {
	Role       string            `json:"role"`
	Content    string            `json:"content"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ToolCalls  []openai.ToolCall `json:"tool_calls,omitempty"`
}

// Node is a single turn in the conversation tree.
//
// Invariants: a node has at most one parent, ancestors form a strict chain,
// and children keep insertion order. Nodes live as long as the owning session.
type Node struct {
	ID      string
	Role    string
	Content string

	Parent   *Node
	Children []*Node

	// Meta holds per-module scratch values attached to this turn.
	Meta map[string]any

	ToolCallID string
	ToolCalls  []openai.ToolCall
}

// NewNode creates a detached node with a fresh short id.
func NewNode(role, content string) *Node {
	return &Node{
		ID:      uuid.NewString()[:8],
		Role:    role,
		Content: content,
	}
}

// AddChild appends child at the tail of this node's children and re-parents it.
func (n *Node) AddChild(child *Node) *Node {
	child.Parent = n
	n.Children = append(n.Children, child)
	return child
}

// Ancestor walks parent pointers to the root of the chain.
func (n *Node) Ancestor() *Node {
	node := n
	for node.Parent != nil {
		node = node.Parent
	}
	return node
}

// Parents returns the ancestor-to-n path, root first.
func (n *Node) Parents() []*Node {
	var path []*Node
	for node := n; node != nil; node = node.Parent {
		path = append(path, node)
	}
	// Reverse into root-first order.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Contains reports whether the node content contains the given substring.
func (n *Node) Contains(substr string) bool {
	return strings.Contains(n.Content, substr)
}

// Message renders the node as a wire message.
func (n *Node) Message() Message {
	return Message{
		Role:       n.Role,
		Content:    n.Content,
		ToolCallID: n.ToolCallID,
		ToolCalls:  n.ToolCalls,
	}
}

// SetMeta stores a per-module value on the node.
func (n *Node) SetMeta(key string, value any) {
	if n.Meta == nil {
		n.Meta = map[string]any{}
	}
	n.Meta[key] = value
}

// GetMeta reads a per-module value from the node.
func (n *Node) GetMeta(key string) (any, bool) {
	if n.Meta == nil {
		return nil, false
	}
	v, ok := n.Meta[key]
	return v, ok
}

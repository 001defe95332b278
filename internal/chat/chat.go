package chat

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrNoCompleter is returned by the advance/emit helpers when the chat has no
// session attached. That is a programmer error in the calling module.
var ErrNoCompleter = errors.New("chat: no session attached")

// Completer issues upstream completions and emits chunks on behalf of a chat.
// It is implemented by session.Session; the indirection keeps this package
// free of transport concerns.
type Completer interface {
	// Complete runs a non-streaming completion over the chat history.
	Complete(ctx context.Context, c *Chat, params map[string]any) (*openai.ChatCompletionResponse, error)
	// StreamComplete runs a streaming completion, emitting every chunk
	// through the session pipeline, and returns the accumulated text.
	StreamComplete(ctx context.Context, c *Chat, params map[string]any) (string, error)
	// EmitStatus renders and emits a status message.
	EmitStatus(text string) error
}

// Chat wraps the tail node of a conversation tree.
type Chat struct {
	tail      *Node
	completer Completer
}

// New creates an empty chat.
func New() *Chat {
	return &Chat{}
}

// FromMessages builds a linear chat from wire messages, in order.
func FromMessages(messages []Message) *Chat {
	c := New()
	for _, m := range messages {
		n := NewNode(m.Role, m.Content)
		n.ToolCallID = m.ToolCallID
		n.ToolCalls = m.ToolCalls
		c.attach(n)
	}
	return c
}

// WithTail creates a chat pointed at an existing node.
func WithTail(tail *Node) *Chat {
	return &Chat{tail: tail}
}

// Bind attaches the session used by the advance/emit helpers.
func (c *Chat) Bind(completer Completer) *Chat {
	c.completer = completer
	return c
}

// Tail returns the current tail node, nil for an empty chat.
func (c *Chat) Tail() *Node {
	return c.tail
}

// attach appends a node as the new tail.
func (c *Chat) attach(n *Node) *Node {
	if c.tail != nil {
		c.tail.AddChild(n)
	}
	c.tail = n
	return n
}

// Add appends a new turn at the tail and returns its node.
func (c *Chat) Add(role, content string) *Node {
	return c.attach(NewNode(role, content))
}

// User appends a user turn.
func (c *Chat) User(content string) *Node {
	return c.Add(RoleUser, content)
}

// Assistant appends an assistant turn.
func (c *Chat) Assistant(content string) *Node {
	return c.Add(RoleAssistant, content)
}

// System inserts a system turn as the new root of the chain, so the history
// begins with it. Repeated calls keep prepending at the head.
func (c *Chat) System(content string) *Node {
	n := NewNode(RoleSystem, content)
	if c.tail == nil {
		c.tail = n
		return n
	}
	root := c.tail.Ancestor()
	n.AddChild(root)
	return n
}

// Insert splices a new turn right after the given node, re-parenting the
// node's existing children onto the new one. Inserting after the tail makes
// the new node the tail.
func (c *Chat) Insert(after *Node, role, content string) *Node {
	n := NewNode(role, content)
	n.Children = after.Children
	for _, child := range n.Children {
		child.Parent = n
	}
	after.Children = nil
	after.AddChild(n)
	if after == c.tail {
		c.tail = n
	}
	return n
}

// ToolCall appends the model's tool-call request as an assistant turn.
func (c *Chat) ToolCall(calls []openai.ToolCall) *Node {
	n := c.Add(RoleAssistant, "")
	n.ToolCalls = calls
	return n
}

// Tool appends a tool-result turn bound to the originating call id.
func (c *Chat) Tool(callID, result string) *Node {
	n := c.Add(RoleTool, result)
	n.ToolCallID = callID
	return n
}

// Plain returns the ancestor-to-tail node list, root first.
func (c *Chat) Plain() []*Node {
	if c.tail == nil {
		return nil
	}
	return c.tail.Parents()
}

// History renders the chat as wire messages, root first.
func (c *Chat) History() []Message {
	nodes := c.Plain()
	messages := make([]Message, 0, len(nodes))
	for _, n := range nodes {
		messages = append(messages, n.Message())
	}
	return messages
}

// Text returns the concatenated content of every turn. Used by the
// direct-task heuristic, which matches against the whole conversation.
func (c *Chat) Text() string {
	var b strings.Builder
	for _, n := range c.Plain() {
		b.WriteString(n.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// Len returns the number of turns on the linear history.
func (c *Chat) Len() int {
	return len(c.Plain())
}

// Clone materializes a detached linear copy of the history. The copy shares
// the completer so advance helpers keep working on it.
func (c *Chat) Clone() *Chat {
	clone := FromMessages(c.History())
	clone.completer = c.completer
	return clone
}

// Match runs the match strategy over the history with the given filter.
func (c *Chat) Match(filter MatchFilter) []*Node {
	return matchNodes(c.Plain(), filter)
}

// MatchOne returns the first node matching the filter, or nil.
func (c *Chat) MatchOne(filter MatchFilter) *Node {
	nodes := c.Match(filter)
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

// Advance runs a non-streaming completion against the bound session and
// appends the response as an assistant turn.
func (c *Chat) Advance(ctx context.Context, params map[string]any) (*openai.ChatCompletionResponse, error) {
	if c.completer == nil {
		return nil, ErrNoCompleter
	}
	resp, err := c.completer.Complete(ctx, c, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) > 0 {
		c.Assistant(resp.Choices[0].Message.Content)
	}
	return resp, nil
}

// EmitAdvance runs a streaming completion, emitting every chunk through the
// session pipeline, and appends the accumulated text as an assistant turn.
func (c *Chat) EmitAdvance(ctx context.Context, params map[string]any) (string, error) {
	if c.completer == nil {
		return "", ErrNoCompleter
	}
	text, err := c.completer.StreamComplete(ctx, c, params)
	if err != nil {
		return "", err
	}
	c.Assistant(text)
	return text, nil
}

// EmitStatus emits a formatted status message via the bound session.
func (c *Chat) EmitStatus(text string) error {
	if c.completer == nil {
		return ErrNoCompleter
	}
	return c.completer.EmitStatus(text)
}

package chat

import (
	"math"
	"math/rand"
	"regexp"
	"strings"
)

// Strategy names a way of picking nodes out of a conversation. Modules
// declare a strategy plus params and apply them to decide which turn to
// operate on.
type Strategy string

const (
	StrategyAll        Strategy = "all"
	StrategyFirst      Strategy = "first"
	StrategyLast       Strategy = "last"
	StrategyAny        Strategy = "any"
	StrategyUser       Strategy = "user"
	StrategyPercentage Strategy = "percentage"
	StrategyMatch      Strategy = "match"
)

// MatchFilter narrows nodes by role and content. Index applies after the
// other clauses and supports negative offsets from the end.
type MatchFilter struct {
	Role      string
	Substring string
	Index     *int
}

// StrategyParams carries the per-strategy knobs.
type StrategyParams struct {
	// Percentage selects the leading share of nodes, 0-100.
	Percentage float64
	Filter     MatchFilter
}

// ApplyStrategy resolves a strategy over the chat's linear history.
func ApplyStrategy(c *Chat, strategy Strategy, params StrategyParams) []*Node {
	nodes := c.Plain()
	if len(nodes) == 0 {
		return nil
	}

	switch strategy {
	case StrategyAll:
		return nodes
	case StrategyFirst:
		return nodes[:1]
	case StrategyLast:
		return nodes[len(nodes)-1:]
	case StrategyAny:
		return []*Node{nodes[rand.Intn(len(nodes))]}
	case StrategyUser:
		return matchNodes(nodes, MatchFilter{Role: RoleUser})
	case StrategyPercentage:
		count := int(math.Ceil(float64(len(nodes)) * params.Percentage / 100))
		if count < 1 {
			count = 1
		}
		if count > len(nodes) {
			count = len(nodes)
		}
		return nodes[:count]
	case StrategyMatch:
		return matchNodes(nodes, params.Filter)
	}
	return nil
}

func matchNodes(nodes []*Node, filter MatchFilter) []*Node {
	var out []*Node
	for _, n := range nodes {
		if filter.Role != "" && n.Role != filter.Role {
			continue
		}
		if filter.Substring != "" && !strings.Contains(n.Content, filter.Substring) {
			continue
		}
		out = append(out, n)
	}
	if filter.Index != nil {
		idx := *filter.Index
		if idx < 0 {
			idx += len(out)
		}
		if idx < 0 || idx >= len(out) {
			return nil
		}
		out = out[idx : idx+1]
	}
	return out
}

// MatchesFilter checks an arbitrary field map against a catalog filter.
// Filter keys have the form "field" or "field.op" with ops exact (default),
// contains and regex; every clause must hold.
func MatchesFilter(fields map[string]any, filter map[string]string) bool {
	for key, want := range filter {
		field, op := key, "exact"
		if i := strings.LastIndex(key, "."); i >= 0 {
			switch key[i+1:] {
			case "exact", "contains", "regex":
				field, op = key[:i], key[i+1:]
			}
		}
		value, ok := fields[field]
		if !ok {
			return false
		}
		got := toFilterString(value)
		switch op {
		case "exact":
			if got != want {
				return false
			}
		case "contains":
			if !strings.Contains(got, want) {
				return false
			}
		case "regex":
			re, err := regexp.Compile(want)
			if err != nil || !re.MatchString(got) {
				return false
			}
		}
	}
	return true
}

func toFilterString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if s, ok := v.(interface{ String() string }); ok {
		return s.String()
	}
	return ""
}

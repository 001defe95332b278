package modules

import (
	"context"
	"strings"

	"github.com/harborai/boost/internal/chat"
	"github.com/harborai/boost/internal/session"
)

const g1Doc = `### g1

Dynamic chain-of-thought. The selected question is explored step by step in a
side conversation; after each step the model declares ACTION continue or
final_answer. The loop is bounded by ` + "`g1_max_steps`" + ` and the final
answer streams back.

Params: ` + "`g1_strat`, `g1_strat_params`, `g1_max_steps`."

const g1SystemPrompt = `You are an expert AI assistant that explains your reasoning step by step. For each step, provide a title that describes what you're doing in that step, along with the content. Decide if you need another step or if you're ready to give the final answer. In your response write "ACTION" followed by either 'continue' or 'final_answer'. USE AS MANY REASONING STEPS AS POSSIBLE. AT LEAST 3. BE AWARE OF YOUR LIMITATIONS AS AN LLM AND WHAT YOU CAN AND CANNOT DO. IN YOUR REASONING, INCLUDE EXPLORATION OF ALTERNATIVE ANSWERS. CONSIDER YOU MAY BE WRONG, AND IF YOU ARE WRONG IN YOUR REASONING, WHERE IT WOULD BE. FULLY TEST ALL OTHER POSSIBILITIES. YOU CAN BE WRONG. WHEN YOU SAY YOU ARE RE-EXAMINING, ACTUALLY RE-EXAMINE, AND USE ANOTHER APPROACH TO DO SO. DO NOT JUST SAY YOU ARE RE-EXAMINING. USE AT LEAST 3 METHODS TO DERIVE THE ANSWER. USE BEST PRACTICES.`

func init() {
	Register(Module{
		Name:  "g1",
		Doc:   g1Doc,
		Apply: g1Apply,
	})
}

func g1Apply(ctx context.Context, c *chat.Chat, s *session.Session) error {
	cfg := s.Config()
	sel := cfg.G1.Selection()
	maxSteps := cfg.G1.MaxSteps

	nodes := chat.ApplyStrategy(c, sel.Strategy, sel.Params)
	if len(nodes) == 0 {
		s.Logger().Info("g1: no nodes matched, passing through")
		_, err := s.StreamFinalCompletion(ctx, session.CompletionOptions{Chat: c})
		return err
	}
	if len(nodes) > 1 {
		s.Logger().Warn("g1: multiple nodes matched, using the first")
	}

	side := chat.FromMessages([]chat.Message{
		{Role: chat.RoleSystem, Content: g1SystemPrompt},
		{Role: chat.RoleUser, Content: nodes[0].Content},
		{Role: chat.RoleAssistant, Content: "Thank you! I will now think step by step following my instructions, starting at the beginning after decomposing the problem."},
	})
	side.Bind(s)

	for steps := 0; ; {
		if _, err := side.Advance(ctx, nil); err != nil {
			return err
		}
		steps++
		tail := side.Tail()
		if tail.Role == chat.RoleAssistant && strings.Contains(tail.Content, "final_answer") {
			break
		}
		if steps >= maxSteps {
			break
		}
	}

	side.User("Please provide the final answer based on your reasoning above. You don't have to mention 'ACTION' in your response.")
	_, err := s.StreamFinalCompletion(ctx, session.CompletionOptions{Chat: side})
	return err
}

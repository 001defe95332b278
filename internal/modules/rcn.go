package modules

import (
	"context"
	"fmt"

	"github.com/harborai/boost/internal/chat"
	"github.com/harborai/boost/internal/session"
)

const rcnDoc = `### rcn

Recursive certainty validation, aka "are you sure?". The selected question is
re-asked in a side conversation that decomposes it word by word, then the
model is challenged twice before producing the final answer.

Params: ` + "`rcn_strat`, `rcn_strat_params`."

const rcnSystemPrompt = `YOU HAVE LIMITATIONS AS AN LLM. DO NOT OVERCOMPLICATE THINGS. YOU MAKE MISTAKES ALL THE TIME, SO BE CAREFUL IN YOUR REASONING.
WHEN SOLVING PROBLEMS - DECOMPOSE THEM INTO SMALLER PARTS. SOLVE PARTS ONE BY ONE SEQUENTIALLY.
DECLARE THE INITIAL STATE, MODIFY IT ONE STEP AT A TIME. CHECK THE RESULT AFTER EACH MODIFICATION.
DO NOT SAY YOU DOUBLE-CHECKED AND TRIPLE-CHECKED WITHOUT ACTUALLY DOING SO.`

const rcnQuestionPrompt = `Take this question:
%s

Describe the meaning of every word in relation to the question. Paraphrase the question two times. Then provide a solution.`

func init() {
	Register(Module{
		Name:  "rcn",
		Doc:   rcnDoc,
		Apply: rcnApply,
	})
}

func rcnApply(ctx context.Context, c *chat.Chat, s *session.Session) error {
	sel := s.Config().Rcn.Selection()
	nodes := chat.ApplyStrategy(c, sel.Strategy, sel.Params)
	if len(nodes) == 0 {
		s.Logger().Info("rcn: no nodes matched, passing through")
		_, err := s.StreamFinalCompletion(ctx, session.CompletionOptions{Chat: c})
		return err
	}
	if len(nodes) > 1 {
		s.Logger().Warn("rcn: multiple nodes matched, using the first")
	}
	question := nodes[0].Content

	side := chat.FromMessages([]chat.Message{
		{Role: chat.RoleSystem, Content: rcnSystemPrompt},
		{Role: chat.RoleUser, Content: fmt.Sprintf(rcnQuestionPrompt, question)},
	})
	side.Bind(s)

	for _, challenge := range []string{
		"Are you sure?",
		"Is this your final answer?",
	} {
		if _, err := side.Advance(ctx, nil); err != nil {
			return fmt.Errorf("rcn advance: %w", err)
		}
		side.User(challenge)
	}
	if _, err := side.Advance(ctx, nil); err != nil {
		return fmt.Errorf("rcn advance: %w", err)
	}

	side.User("Now prepare your final answer. Write it as a response to this message. Do not write anything else.")
	_, err := s.StreamFinalCompletion(ctx, session.CompletionOptions{Chat: side})
	return err
}

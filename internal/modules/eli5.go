package modules

import (
	"context"

	"github.com/harborai/boost/internal/chat"
	"github.com/harborai/boost/internal/session"
)

const eli5Doc = `### eli5

Explain like I'm five. The selected question is first explained in simpler
terms in a side completion, then the answer is produced from the question
plus its explanation.

Params: ` + "`eli5_strat`, `eli5_strat_params`."

const eli5ExplainPrompt = `My friend asked me this question: "%s".
Explain it to me like I'm stupid. Explain every word and its specific impact on the question.
Do not answer the question, though, I want to figure it out myself.
I just need a simpler explanation thats easy to understand and follow.`

const eli5AnswerPrompt = `<instruction>
Given the initial question and its detailed explanation, provide the answer to the question.
</instruction>

<question>
%s
</question>

<explanation>
%s
</explanation>`

func init() {
	Register(Module{
		Name:  "eli5",
		Doc:   eli5Doc,
		Apply: eli5Apply,
	})
}

func eli5Apply(ctx context.Context, c *chat.Chat, s *session.Session) error {
	sel := s.Config().Eli5.Selection()
	nodes := chat.ApplyStrategy(c, sel.Strategy, sel.Params)
	if len(nodes) == 0 {
		s.Logger().Info("eli5: no nodes matched, passing through")
		_, err := s.StreamFinalCompletion(ctx, session.CompletionOptions{Chat: c})
		return err
	}
	if len(nodes) > 1 {
		s.Logger().Warn("eli5: multiple nodes matched, using the first")
	}
	question := nodes[0].Content

	if err := s.EmitStatus("Explaining the question to myself..."); err != nil {
		return err
	}
	explanation, err := s.StreamChatCompletion(ctx, session.CompletionOptions{
		Prompt:     eli5ExplainPrompt,
		PromptArgs: []any{question},
	})
	if err != nil {
		return err
	}

	if err := s.EmitStatus("ELI5 Response"); err != nil {
		return err
	}
	_, err = s.StreamFinalCompletion(ctx, session.CompletionOptions{
		Prompt:     eli5AnswerPrompt,
		PromptArgs: []any{question, explanation},
	})
	return err
}

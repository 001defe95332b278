package modules

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/harborai/boost/internal/chat"
	"github.com/harborai/boost/internal/session"
)

const r0Doc = `### r0

Synthetic reasoning. Builds a thought chain by seeding each assistant turn
with a randomized thought starter and letting the model continue, for a
configured number of thoughts, then asks for a single coherent rewrite of
everything above.

Params: ` + "`r0_thoughts`."

var r0Entries = []string{
	"Let's start with thinking about ",
	"Let me think about ",
	"Let me consider ",
	"As a first thought - ",
	"First, let me think about ",
}

var r0Loop = []string{
	"Let me reconsider...",
	"Another thought:",
	"Wait a moment!",
	"Wait, what about ",
	"Let me think of other possibilities...",
	"But wait, could there be another answer?",
	"Alternatively, ",
	"What if ",
	"Wait! I just thought of ",
	"From another perspective, ",
	"On a second thought, ",
	"Another idea:",
	"But what if we consider ",
	"Additionally, ",
}

var r0Final = []string{
	"After some thought, I think ",
	"After considering everything, I believe ",
	"As a final thought - ",
	"One last consideration:",
	"Finally, I think that ",
	"In conclusion, ",
}

func init() {
	Register(Module{
		Name:  "r0",
		Doc:   r0Doc,
		Apply: r0Apply,
	})
}

// ensureNonBlank streams an advance until the model produces visible text,
// with a small retry bound.
func ensureNonBlank(ctx context.Context, c *chat.Chat, params map[string]any) error {
	for attempt := 0; attempt < 4; attempt++ {
		text, err := c.EmitAdvance(ctx, params)
		if err != nil {
			return err
		}
		if strings.TrimSpace(text) != "" {
			return nil
		}
	}
	return nil
}

func r0Apply(ctx context.Context, c *chat.Chat, s *session.Session) error {
	thoughts := s.Config().R0.Thoughts
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	pick := func(arr []string) string { return arr[rng.Intn(len(arr))] }

	step := func(status, starter string) error {
		if err := s.EmitStatus(status); err != nil {
			return err
		}
		c.Assistant(starter)
		s.EmitMessage(starter)
		return ensureNonBlank(ctx, c, nil)
	}

	if err := step("Intro", pick(r0Entries)); err != nil {
		return err
	}
	for i := 0; i < thoughts; i++ {
		if err := step(fmt.Sprintf("Thought %d", i+1), pick(r0Loop)); err != nil {
			return err
		}
	}
	if err := step("Closing thought", pick(r0Final)); err != nil {
		return err
	}

	if err := s.EmitStatus("Final"); err != nil {
		return err
	}
	c.User("Now, rewrite all messages above into a single coherent answer. Reply only with the revised answer and nothing else.")
	_, err := s.StreamFinalCompletion(ctx, session.CompletionOptions{Chat: c})
	return err
}

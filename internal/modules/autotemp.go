package modules

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/harborai/boost/internal/chat"
	"github.com/harborai/boost/internal/session"
)

const autotempDoc = `### autotemp

Lets the model pick its own sampling temperature. A local ` + "`set_temperature`" + `
tool is registered for the request; the model is instructed to call it before
each portion of the response and the chosen value is applied to the session's
forwarded parameters.`

const autotempSystemPrompt = `Dynamically adjust your temperature setting during responses using the ` + "`set_temperature`" + ` tool.

Temperature Guidelines:
- **High (0.8-1.0):** For creative tasks (e.g., creative writing, brainstorming).
- **Medium (0.4-0.7):** For balanced tasks (e.g., summarization, translation, general conversation).
- **Low (0.0-0.3):** For precise tasks (e.g., factual questions, code generation, technical explanations, reasoning).

Begin each response by setting an initial temperature suitable for the overall task. Adjust temperature dynamically for different parts of your response to optimize results.`

// setTemperatureArgs is the schema prototype of the local tool.
type setTemperatureArgs struct {
	Temperature float64 `json:"temperature" jsonschema:"required,description=Temperature for the next portion of the response (0.0 to 1.0)"`
	Reason      string  `json:"reason" jsonschema:"required,description=Short (3-5 words) explanation of why"`
}

func init() {
	Register(Module{
		Name:  "autotemp",
		Doc:   autotempDoc,
		Apply: autotempApply,
	})
}

func autotempApply(ctx context.Context, c *chat.Chat, s *session.Session) error {
	if strings.Contains(s.Model, "qwen3") {
		c.System("/no_think")
	}

	err := s.Tools.Set(
		"set_temperature",
		"Choose the temperature for the next portion of your response. After calling this tool, you must proceed replying in text.",
		setTemperatureArgs{},
		func(ctx context.Context, args map[string]any) (string, error) {
			desired, ok := args["temperature"].(float64)
			if !ok {
				return "", fmt.Errorf("temperature must be a number")
			}
			reason, _ := args["reason"].(string)

			if current, ok := s.Params["temperature"].(float64); ok && math.Abs(current-desired) < 0.01 {
				return fmt.Sprintf("Temperature is already set to %v. Are you using the tool correctly?", desired), nil
			}

			s.Params["temperature"] = desired
			if err := s.EmitStatus(fmt.Sprintf("Temperature %v\nReason: %s", desired, reason)); err != nil {
				return "", err
			}
			return fmt.Sprintf("Temperature is now set to %v because: %s", desired, reason), nil
		},
	)
	if err != nil {
		return fmt.Errorf("register set_temperature: %w", err)
	}

	c.System(autotempSystemPrompt)
	_, err = s.StreamFinalCompletion(ctx, session.CompletionOptions{Chat: c})
	return err
}

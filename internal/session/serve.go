package session

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/harborai/boost/internal/chat"
)

// ApplyFunc is a module entry point bound to a concrete session.
type ApplyFunc func(ctx context.Context, c *chat.Chat, s *Session) error

// Serve registers the session, runs the module pipeline in the background
// and returns the primary queue for the HTTP response to drain.
//
// A nil apply streams the final completion unmodified (pass-through). The
// producer always terminates the stream: module errors and panics are
// logged and the client sees EOF instead of a hang.
func (s *Session) Serve(ctx context.Context, store *Store, apply ApplyFunc) <-chan []byte {
	if store != nil {
		store.Add(s)
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("module panicked",
					"error", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				)
			}
			s.Done()
			if store != nil {
				store.Remove(s.ID)
			}
		}()

		var err error
		if apply == nil {
			_, err = s.StreamFinalCompletion(ctx, CompletionOptions{Chat: s.Chat})
		} else {
			err = apply(ctx, s.Chat, s)
		}
		if err != nil {
			s.logger.Error("module failed", "error", err)
		}
	}()

	return s.primary
}

package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/user/toolchat/pkg/llm"
)

// MaxIterationsError reports that the loop hit its bound without a final
// answer.
type MaxIterationsError struct {
	Limit int
}

func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("max iterations (%d) exceeded", e.Limit)
}

// IsMaxIterations reports whether err wraps a *MaxIterationsError.
func IsMaxIterations(err error) bool {
	var me *MaxIterationsError
	return errors.As(err, &me)
}

// UserMessage renders err for a chat user. Only transport failures,
// protocol violations, the iteration bound and cancellation are described;
// anything else gets a generic message.
func UserMessage(err error) string {
	var (
		te *llm.TransportError
		pv *llm.ProtocolViolation
		me *MaxIterationsError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "Request cancelled."
	case errors.As(err, &me):
		return fmt.Sprintf("Stopped after %d steps without a final answer. Try rephrasing the request.", me.Limit)
	case errors.As(err, &pv):
		return "The model returned an unusable response: " + pv.Reason
	case errors.As(err, &te):
		if te.StatusCode != 0 {
			return fmt.Sprintf("The model service failed (HTTP %d). Please try again.", te.StatusCode)
		}
		return "Could not reach the model service. Please try again."
	default:
		return "Sorry, something went wrong processing your message."
	}
}

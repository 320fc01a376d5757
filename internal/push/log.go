package push

import (
	"context"

	"github.com/GriffinCanCode/omnicall/internal/dispatch"
	"github.com/GriffinCanCode/omnicall/internal/trace"
)

// Log is a dry-run transport: every send succeeds and is only logged.
type Log struct{}

var _ dispatch.Transport = Log{}

func (Log) SendOne(ctx context.Context, token string, n dispatch.Notification) (bool, string) {
	if err := ctx.Err(); err != nil {
		return false, err.Error()
	}
	trace.Logger(ctx).Info("push (dry run)", "token", dispatch.TokenPrefix(token), "title", n.Title, "message", n.Message, "url", n.URL)
	return true, "dry run"
}

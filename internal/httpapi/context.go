package httpapi

import (
	"context"
)

// serverBaseCtx is cancelled on shutdown. Loads and progress streams end
// with it even while their client is still connected.
var serverBaseCtx = context.Background()

// SetBaseContext installs the process context; nil restores Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// joinContexts derives from base a context that also ends when req ends,
// carrying req's cause. stop releases the registration.
func joinContexts(base, req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(base)
	unregister := context.AfterFunc(req, func() { cancel(context.Cause(req)) })
	return ctx, func() {
		unregister()
		cancel(context.Canceled)
	}
}

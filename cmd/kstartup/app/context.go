package app

import (
	"context"
	"os/signal"
	"syscall"
)

// ContextWithSignals creates a context that is canceled when the application
// receives an interrupt or termination signal. Canceling it cancels active
// runs, which then finish as failed with reason "canceled".
func ContextWithSignals(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

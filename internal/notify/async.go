package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"clientportal.io/internal/obs"
)

const defaultSendTimeout = 10 * time.Second

// Async dispatches notices on background goroutines so callers never wait on delivery.
// Delivery errors are logged and swallowed.
type Async struct {
	next    Notifier
	timeout time.Duration
	log     *logrus.Logger
	wg      sync.WaitGroup
}

// NewAsync wraps next. A non-positive timeout selects the default.
func NewAsync(next Notifier, timeout time.Duration) *Async {
	if next == nil {
		next = Nop
	}
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Async{next: next, timeout: timeout, log: obs.Logger()}
}

func (a *Async) SendInvite(_ context.Context, n InviteNotice) error {
	a.dispatch("invite", n.Email, func(ctx context.Context) error {
		return a.next.SendInvite(ctx, n)
	})
	return nil
}

func (a *Async) SendPasswordReset(_ context.Context, n ResetNotice) error {
	a.dispatch("password_reset", n.Email, func(ctx context.Context) error {
		return a.next.SendPasswordReset(ctx, n)
	})
	return nil
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (a *Async) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) dispatch(kind, recipient string, send func(context.Context) error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := send(ctx); err != nil {
			a.log.WithFields(logrus.Fields{
				"type":      "notify",
				"kind":      kind,
				"recipient": recipient,
			}).WithError(err).Warn("notification delivery failed")
		}
	}()
}

package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/pointswallet/pkg/wallet"
	"go.uber.org/zap"
)

const (
	defaultQueueSize   = 1024
	defaultSendTimeout = 10 * time.Second

	outcomeSent    = "sent"
	outcomeFailed  = "failed"
	outcomeDropped = "dropped"
)

// ErrQueueFull is returned by Dispatch when the outbox cannot take more work.
var ErrQueueFull = errors.New("notification queue full")

// Sender delivers a notification to its channel.
type Sender interface {
	Send(ctx context.Context, notification wallet.Notification) error
}

// Recorder observes outbox activity.
type Recorder interface {
	ObserveNotification(outcome string)
	SetQueueDepth(depth int)
}

// Option configures an Outbox.
type Option func(*Outbox)

// WithLogger sets the logger used for delivery failures.
func WithLogger(logger *zap.Logger) Option {
	return func(outbox *Outbox) {
		if logger != nil {
			outbox.logger = logger
		}
	}
}

// WithRecorder wires delivery metrics.
func WithRecorder(recorder Recorder) Option {
	return func(outbox *Outbox) {
		outbox.recorder = recorder
	}
}

// WithSendTimeout bounds a single delivery attempt.
func WithSendTimeout(timeout time.Duration) Option {
	return func(outbox *Outbox) {
		if timeout > 0 {
			outbox.sendTimeout = timeout
		}
	}
}

// Outbox is a bounded in-memory queue drained by a single worker. It
// implements wallet.NotificationDispatcher.
type Outbox struct {
	queue       chan wallet.Notification
	sender      Sender
	logger      *zap.Logger
	recorder    Recorder
	sendTimeout time.Duration
}

// NewOutbox returns an outbox holding at most size notifications.
func NewOutbox(sender Sender, size int, options ...Option) (*Outbox, error) {
	if sender == nil {
		return nil, fmt.Errorf("notify: sender is nil")
	}
	if size <= 0 {
		size = defaultQueueSize
	}
	outbox := &Outbox{
		queue:       make(chan wallet.Notification, size),
		sender:      sender,
		logger:      zap.NewNop(),
		sendTimeout: defaultSendTimeout,
	}
	for _, option := range options {
		if option != nil {
			option(outbox)
		}
	}
	return outbox, nil
}

// Dispatch enqueues without blocking and fails with ErrQueueFull when the queue is full.
func (outbox *Outbox) Dispatch(ctx context.Context, notification wallet.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case outbox.queue <- notification:
		outbox.observeDepth()
		return nil
	default:
		outbox.observe(outcomeDropped)
		return ErrQueueFull
	}
}

// Len reports the number of queued notifications.
func (outbox *Outbox) Len() int {
	return len(outbox.queue)
}

// Run delivers queued notifications until ctx is cancelled, then flushes what
// is already queued.
func (outbox *Outbox) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			outbox.flush()
			return nil
		case notification := <-outbox.queue:
			outbox.deliver(ctx, notification)
		}
	}
}

func (outbox *Outbox) flush() {
	flushCtx, cancel := context.WithTimeout(context.Background(), outbox.sendTimeout)
	defer cancel()
	for {
		select {
		case notification := <-outbox.queue:
			outbox.deliver(flushCtx, notification)
		default:
			return
		}
	}
}

func (outbox *Outbox) deliver(ctx context.Context, notification wallet.Notification) {
	outbox.observeDepth()
	sendCtx, cancel := context.WithTimeout(ctx, outbox.sendTimeout)
	defer cancel()
	if err := outbox.sender.Send(sendCtx, notification); err != nil {
		outbox.observe(outcomeFailed)
		outbox.logger.Warn("notification delivery failed",
			zap.String("entry_id", notification.EntryID.String()),
			zap.String("business_unit_id", notification.BusinessUnitID.String()),
			zap.Error(err),
		)
		return
	}
	outbox.observe(outcomeSent)
}

func (outbox *Outbox) observe(outcome string) {
	if outbox.recorder != nil {
		outbox.recorder.ObserveNotification(outcome)
	}
}

func (outbox *Outbox) observeDepth() {
	if outbox.recorder != nil {
		outbox.recorder.SetQueueDepth(len(outbox.queue))
	}
}

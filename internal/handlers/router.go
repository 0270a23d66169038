package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/tallybot/backend/internal/audit"
	"github.com/tallybot/backend/internal/bridge"
	"github.com/tallybot/backend/internal/services"
	"github.com/tallybot/backend/internal/storage"
)

var (
	// ErrBusy is returned by Submit when the intake queue is full.
	ErrBusy = errors.New("command queue full")

	// ErrStopped is returned by Submit once Run has returned.
	ErrStopped = errors.New("router stopped")
)

const (
	msgDenied   = "❌ You don’t have permission to use this command."
	msgFailure  = "⚠️ Something went wrong while handling that command."
	msgTryAgain = "⚠️ The ledger is not responding right now. Please try again."
	msgInvalid  = "❌ That entry is missing required details."
)

// HandlerFunc handles one command and returns the reply text.
type HandlerFunc func(ctx context.Context, cmd Command) (string, error)

// Router takes commands from the platform in arrival order and runs each one
// as a task on the command loop.
type Router struct {
	queue     chan Command
	stopped   chan struct{}
	loop      *bridge.Loop
	bridge    *bridge.Bridge
	platform  Platform
	responder Responder
	audit     *audit.AuditLogger
	handlers  map[string]HandlerFunc
}

func NewRouter(queueSize int, loop *bridge.Loop, b *bridge.Bridge, platform Platform, responder Responder, auditLogger *audit.AuditLogger) *Router {
	if queueSize <= 0 {
		queueSize = 128
	}
	return &Router{
		queue:     make(chan Command, queueSize),
		stopped:   make(chan struct{}),
		loop:      loop,
		bridge:    b,
		platform:  platform,
		responder: responder,
		audit:     auditLogger,
		handlers:  make(map[string]HandlerFunc),
	}
}

// Handle registers h for the command name. Not safe to call once Run started.
func (r *Router) Handle(name string, h HandlerFunc) {
	r.handlers[name] = h
}

// Handles reports whether a handler is registered for name.
func (r *Router) Handles(name string) bool {
	_, ok := r.handlers[name]
	return ok
}

// Submit queues cmd without blocking.
func (r *Router) Submit(cmd Command) error {
	select {
	case <-r.stopped:
		return ErrStopped
	default:
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	select {
	case r.queue <- cmd:
		return nil
	default:
		log.Printf("[Router] Submit - queue full, dropping %s from %s", cmd.Name, cmd.Author.ID)
		return ErrBusy
	}
}

// Run dispatches queued commands until ctx is cancelled, then waits for the
// commands already started. Commands still queued at that point are dropped.
func (r *Router) Run(ctx context.Context) error {
	defer close(r.stopped)

	for {
		select {
		case <-ctx.Done():
			if n := len(r.queue); n > 0 {
				log.Printf("[Router] Run - stopping with %d queued commands", n)
			}
			r.loop.Wait()
			return nil
		case cmd := <-r.queue:
			// Started commands outlive ctx so shutdown never cuts a store
			// call short.
			if err := r.loop.Go(ctx, func(ctx context.Context) {
				r.dispatch(context.WithoutCancel(ctx), cmd)
			}); err != nil {
				// Run has been cancelled while the loop was busy.
				log.Printf("[Router] Run - command %s not started: %v", cmd.ID, err)
			}
		}
	}
}

func (r *Router) dispatch(ctx context.Context, cmd Command) {
	ctx = audit.WithCommandID(ctx, cmd.ID)
	defer func() {
		if v := recover(); v != nil {
			r.audit.LogPanic(ctx, cmd.Name, v, debug.Stack())
			r.reply(ctx, cmd, msgFailure)
		}
	}()

	h, ok := r.handlers[cmd.Name]
	if !ok {
		return
	}

	admin, err := bridge.Run(ctx, r.bridge, func(ctx context.Context) (bool, error) {
		return r.platform.IsAdmin(ctx, cmd)
	})
	if err != nil {
		r.reply(ctx, cmd, r.userMessage(ctx, cmd, err))
		return
	}
	if !admin {
		r.reply(ctx, cmd, msgDenied)
		return
	}

	text, err := h(ctx, cmd)
	if err != nil {
		text = r.userMessage(ctx, cmd, err)
	}
	r.reply(ctx, cmd, text)
}

func (r *Router) reply(ctx context.Context, cmd Command, text string) {
	err := bridge.Do(ctx, r.bridge, func(ctx context.Context) error {
		return r.responder.Reply(ctx, cmd, text)
	})
	if err != nil {
		log.Printf("[Router] reply - command %s: %v", cmd.ID, err)
	}
}

// userMessage maps err to the text shown in chat and records operator
// detail for anything that is not the user's fault.
func (r *Router) userMessage(ctx context.Context, cmd Command, err error) string {
	var (
		userErr  *UserError
		parseErr *services.ParseError
		panicErr *bridge.PanicError
	)
	switch {
	case errors.As(err, &userErr):
		return userErr.Message
	case errors.As(err, &parseErr):
		return parseErrorMessage(parseErr)
	case errors.Is(err, storage.ErrInvalidEntry):
		return msgInvalid
	case errors.As(err, &panicErr):
		r.audit.LogPanic(ctx, cmd.Name, panicErr.Value, panicErr.Stack)
		return msgFailure
	case errors.Is(err, bridge.ErrTimeout), errors.Is(err, storage.ErrTransient):
		r.audit.LogError(ctx, cmd.Name, subjectRef(cmd), err)
		return msgTryAgain
	default:
		r.audit.LogError(ctx, cmd.Name, subjectRef(cmd), err)
		return msgFailure
	}
}

func parseErrorMessage(err *services.ParseError) string {
	switch err.Kind {
	case services.NoAmount:
		return "❌ No amount found. Usage: `" + logUsage + "`"
	case services.MissingField:
		return fmt.Sprintf("❌ Missing %s.", fieldLabel(err.Field))
	default:
		return fmt.Sprintf("❌ Invalid %s.", fieldLabel(err.Field))
	}
}

func fieldLabel(field string) string {
	switch field {
	case "payment_method":
		return "payment method"
	case "subject_id":
		return "member"
	case "subject_name":
		return "member name"
	case "logged_by":
		return "author"
	default:
		return field
	}
}

func subjectRef(cmd Command) string {
	if len(cmd.Args) == 0 {
		return ""
	}
	return cmd.Args[0]
}

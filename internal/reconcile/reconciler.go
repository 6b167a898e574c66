package reconcile

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"tutorsync/pkg/interfaces"
	"tutorsync/pkg/types"
)

// Store is the set of session store mutations the reconciler applies.
type Store interface {
	SetRequestStatus(id string, status types.Status) bool
	RemoveRequest(id string) bool
	AddActiveSession(sess types.ActiveSession) bool
	SetActiveStatus(id string, status types.Status) bool
	Promote(id string, status types.Status) bool
	SetStatusAnywhere(id string, status types.Status) bool
	Remove(id string) bool
	FindRequest(id string) (types.SessionRequest, bool)
}

type handler func(env types.Envelope) error

// Reconciler turns inbound lifecycle events into store mutations. Every
// handler is idempotent: a replayed event leaves the store as it was and
// raises no second notification.
type Reconciler struct {
	store    Store
	notifier interfaces.Notifier
	logger   logrus.FieldLogger
	handlers map[string]handler
}

// New creates a reconciler applying events to store.
func New(store Store, notifier interfaces.Notifier, logger logrus.FieldLogger) *Reconciler {
	r := &Reconciler{
		store:    store,
		notifier: notifier,
		logger:   logger.WithField("component", "reconciler"),
	}
	r.handlers = map[string]handler{
		types.EventSessionRequestAccepted: r.requestAccepted,
		types.EventSessionStarted:         r.sessionStarted,
		types.EventSessionStatusChanged:   r.statusChanged,
		types.EventSessionRequestRejected: r.requestRejected,
		types.EventGracePeriodExpired:     r.gracePeriodExpired,
		// The creator already holds the canonical object from the POST
		// response; the broadcast is for other roles.
		types.EventNewSessionRequest: r.ignore,
	}
	return r
}

// Handle applies one envelope. It matches connection.Listener.
func (r *Reconciler) Handle(env types.Envelope) {
	h, ok := r.handlers[env.Event]
	if !ok {
		r.logger.WithField("event", env.Event).Debug("no handler for event")
		return
	}
	if err := h(env); err != nil {
		r.logger.WithError(err).WithField("event", env.Event).Warn("dropping event")
	}
}

func (r *Reconciler) requestAccepted(env types.Envelope) error {
	var p types.RequestAccepted
	if err := decode(env, &p); err != nil {
		return err
	}
	id := p.Target()
	if id == "" {
		return ErrMissingID
	}

	if r.store.SetRequestStatus(id, types.StatusPendingConfirmation) {
		r.notifier.Notify(MsgRequestAccepted, types.SeveritySuccess)
	}
	return nil
}

func (r *Reconciler) sessionStarted(env types.Envelope) error {
	var p types.SessionStarted
	if err := decode(env, &p); err != nil {
		return err
	}
	if p.SessionID == "" {
		return ErrMissingID
	}

	if r.store.SetActiveStatus(p.SessionID, types.StatusInProgress) {
		r.notifier.Notify(fmt.Sprintf("Session %s has started!", p.SessionID), types.SeveritySuccess)
	}
	return nil
}

func (r *Reconciler) statusChanged(env types.Envelope) error {
	var p types.StatusChanged
	if err := decode(env, &p); err != nil {
		return err
	}
	if p.SessionID == "" {
		return ErrMissingID
	}
	if p.Status.Rank() < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, p.Status)
	}

	switch p.Status {
	case types.StatusCompleted:
		// The id may sit in either collection.
		if r.store.Remove(p.SessionID) {
			r.notifyStatus(p.SessionID, p.Status)
		}

	case types.StatusAccepted, types.StatusPendingConfirmation:
		r.promote(r.classify(p))

	case types.StatusInProgress:
		if r.store.SetActiveStatus(p.SessionID, p.Status) {
			r.notifier.Notify(MsgSessionBegan, types.SeveritySuccess)
		}

	default:
		if r.store.SetStatusAnywhere(p.SessionID, p.Status) {
			r.notifyStatus(p.SessionID, p.Status)
		}
	}
	return nil
}

func (r *Reconciler) requestRejected(env types.Envelope) error {
	var p types.RequestRejected
	if err := decode(env, &p); err != nil {
		return err
	}
	id := p.Target()
	if id == "" {
		return ErrMissingID
	}

	if r.store.RemoveRequest(id) {
		r.notifier.Notify(MsgRequestRejected, types.SeverityError)
	}
	return nil
}

// gracePeriodExpired keeps the session so its terminal state stays visible.
func (r *Reconciler) gracePeriodExpired(env types.Envelope) error {
	var p types.GracePeriodExpired
	if err := decode(env, &p); err != nil {
		return err
	}
	if p.SessionID == "" {
		return ErrMissingID
	}

	if r.store.SetActiveStatus(p.SessionID, types.StatusCancelled) {
		r.notifier.Notify(MsgGracePeriodEnded, types.SeverityError)
	}
	return nil
}

func (r *Reconciler) ignore(env types.Envelope) error {
	r.logger.WithField("event", env.Event).Debug("event not consumed by this role")
	return nil
}

func (r *Reconciler) notifyStatus(id string, status types.Status) {
	r.notifier.Notify(fmt.Sprintf("Session %s status updated to %s", id, status), types.SeverityInfo)
}

func decode(env types.Envelope, v interface{}) error {
	if err := env.Decode(v); err != nil {
		return fmt.Errorf("malformed %s payload: %w", env.Event, err)
	}
	return nil
}

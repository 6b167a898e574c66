package reconcile

import "tutorsync/pkg/types"

// promotionKind says how much data a matched-status event makes available.
type promotionKind int

const (
	// fullEntity: the event carries the complete session.
	fullEntity promotionKind = iota
	// localCopy: only the id, but the pending request is held locally.
	localCopy
	// idOnly: only the id and nothing local to build from.
	idOnly
)

func (k promotionKind) String() string {
	switch k {
	case fullEntity:
		return "full_entity"
	case localCopy:
		return "local_copy"
	default:
		return "id_only"
	}
}

type promotion struct {
	kind    promotionKind
	id      string
	status  types.Status
	session *types.ActiveSession
}

func (r *Reconciler) classify(p types.StatusChanged) promotion {
	pr := promotion{kind: idOnly, id: p.SessionID, status: p.Status}
	if p.Session != nil {
		pr.kind = fullEntity
		pr.session = p.Session
		return pr
	}
	if _, ok := r.store.FindRequest(p.SessionID); ok {
		pr.kind = localCopy
	}
	return pr
}

func (r *Reconciler) promote(p promotion) {
	r.logger.WithField("id", p.id).WithField("kind", p.kind).Debug("applying promotion")

	switch p.kind {
	case fullEntity:
		r.promoteFromEntity(p)
	case localCopy:
		r.promoteFromLocal(p)
	default:
		r.setMatchedStatus(p)
	}
}

// promoteFromEntity moves the id into the active sessions using the
// server's copy.
func (r *Reconciler) promoteFromEntity(p promotion) {
	sess := *p.session
	sess.ID = p.id
	if sess.Status == "" {
		sess.Status = p.status
	}
	if r.store.AddActiveSession(sess) {
		r.notifier.Notify(MsgSessionJoinable, types.SeveritySuccess)
	}
}

// promoteFromLocal rebuilds the session from the pending request. The
// request can vanish between classify and here; the id-only path covers
// that.
func (r *Reconciler) promoteFromLocal(p promotion) {
	if !r.store.Promote(p.id, p.status) {
		r.setMatchedStatus(p)
		return
	}
	r.notifier.Notify(MsgSessionJoinable, types.SeveritySuccess)
}

// setMatchedStatus sets the status wherever the id is held, covering
// events that arrive before the entity is known.
func (r *Reconciler) setMatchedStatus(p promotion) {
	r.store.SetStatusAnywhere(p.id, p.status)
}

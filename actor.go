package disclosegate

import "fmt"

// Action names an operation an actor may be granted.
type Action string

// Grantable actions. Authorization is capability-set membership, not
// identity branching: an actor either holds the action or it does not.
const (
	ActionDraft         Action = "draft"
	ActionRequestReview Action = "request_review"
	ActionDecide        Action = "decide"
	ActionEnqueue       Action = "enqueue"
	ActionDeliver       Action = "deliver"
	ActionConfirmStatus Action = "confirm_status"
	ActionRevoke        Action = "revoke"
)

// Actor is a principal carrying a set of granted actions. The zero Actor
// holds nothing and can do nothing.
type Actor struct {
	ID     string
	grants map[Action]struct{}
}

// NewActor builds an actor with the given grants.
func NewActor(id string, grants ...Action) Actor {
	m := make(map[Action]struct{}, len(grants))
	for _, g := range grants {
		m[g] = struct{}{}
	}
	return Actor{ID: id, grants: m}
}

// Can reports whether the actor holds the action.
func (a Actor) Can(action Action) bool {
	_, ok := a.grants[action]
	return ok
}

// require returns ErrForbiddenAction unless the actor holds the action.
func (a Actor) require(action Action) error {
	if !a.Can(action) {
		return fmt.Errorf("%w: %s cannot %s", ErrForbiddenAction, a.ID, action)
	}
	return nil
}

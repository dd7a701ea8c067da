package domain

// FieldSpec describes one piece of information a status rule asks the
// user to supply before a card settles into that status.
type FieldSpec struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// StatusRule is the declarative rule attached to a single status.
type StatusRule struct {
	Title       string      `json:"title,omitempty"`
	Display     string      `json:"display,omitempty"`
	LimitDragTo []string    `json:"limit_drag_to,omitempty"`
	Request     []FieldSpec `json:"request,omitempty"`
}

// ConstraintSet maps status names to their rules. It is loaded once per
// session from server configuration and treated as immutable.
type ConstraintSet map[string]StatusRule

// Constraints is the wire envelope the settings endpoint delivers.
type Constraints struct {
	Statuses ConstraintSet `json:"Statuses"`
}

// Decision is the outcome of validating a proposed status transition.
// Rejection and an information request are independent: a rejected move
// never reaches the info check, but an info request does not by itself
// stop a move.
type Decision struct {
	OK        bool
	Reason    string
	NeedsInfo []FieldSpec
}

// ValidateTransition checks whether card may move to the target status
// under the rule set. Statuses without a rule entry accept every move.
// Pure: no side effects, deterministic for a given (card, target, set).
func (cs ConstraintSet) ValidateTransition(card Card, target string) Decision {
	rule, ok := cs[target]
	if !ok {
		return Decision{OK: true}
	}
	if rule.LimitDragTo != nil && !contains(rule.LimitDragTo, card.Status) {
		return Decision{Reason: "cards cannot be moved directly to " + target}
	}
	var missing []FieldSpec
	for _, f := range rule.Request {
		if v, ok := card.Field(f.ID); !ok || v == "" {
			missing = append(missing, f)
		}
	}
	return Decision{OK: true, NeedsInfo: missing}
}

// HasStatus reports whether the set declares the given status.
func (cs ConstraintSet) HasStatus(status string) bool {
	_, ok := cs[status]
	return ok
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

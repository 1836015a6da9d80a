package quotes

import (
	"fmt"
	"strings"

	"github.com/mostrador/mostrador/internal/shared"
)

// Status is the closed set of quote states.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusLocked    Status = "locked"
	StatusFinalized Status = "finalized"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the defined states.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusLocked, StatusFinalized, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no action is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusFinalized || s == StatusCancelled
}

// CanEditLines reports whether line items may be replaced.
func (s Status) CanEditLines() bool {
	return s == StatusDraft
}

// CanEditHeader reports whether client, payment, currency, dates, observation,
// discount, surcharge and adjustment may change.
func (s Status) CanEditHeader() bool {
	return s == StatusDraft || s == StatusLocked
}

// Action is a transition request verb.
type Action string

const (
	ActionSave     Action = "guardar"
	ActionLock     Action = "lock"
	ActionFinalize Action = "finalizar"
	ActionCancel   Action = "cancelar"

	// actionCreate is recorded in history for the initial "" -> draft event.
	actionCreate Action = "crear"
)

// ParseAction validates a raw action name.
func ParseAction(raw string) (Action, error) {
	switch a := Action(strings.TrimSpace(raw)); a {
	case ActionSave, ActionLock, ActionFinalize, ActionCancel:
		return a, nil
	}
	return "", invalid("action", "must be one of guardar, lock, finalizar, cancelar")
}

var transitions = map[Status]map[Action]Status{
	StatusDraft: {
		ActionSave:   StatusDraft,
		ActionLock:   StatusLocked,
		ActionCancel: StatusCancelled,
	},
	StatusLocked: {
		ActionSave:     StatusLocked,
		ActionFinalize: StatusFinalized,
		ActionCancel:   StatusCancelled,
	},
}

// Next returns the state reached by applying a to from, or ErrInvalidState.
func Next(from Status, a Action) (Status, error) {
	if to, ok := transitions[from][a]; ok {
		return to, nil
	}
	return "", fmt.Errorf("%w: cannot %s a %s quote", ErrInvalidState, a, from)
}

// legacyLabels maps folded labels used by older records and clients.
var legacyLabels = map[string]Status{
	"draft":       StatusDraft,
	"pendiente":   StatusDraft,
	"borrador":    StatusDraft,
	"presupuesto": StatusDraft,
	"locked":      StatusLocked,
	"listocaja":   StatusLocked,
	"bloqueado":   StatusLocked,
	"encaja":      StatusLocked,
	"finalized":   StatusFinalized,
	"finalizado":  StatusFinalized,
	"vendido":     StatusFinalized,
	"venta":       StatusFinalized,
	"cancelled":   StatusCancelled,
	"canceled":    StatusCancelled,
	"cancelado":   StatusCancelled,
	"anulado":     StatusCancelled,
}

// CanonicalStatus is the single place where free-text state labels are turned into
// a Status. Matching is exact after case folding, accent removal and dropping spaces,
// dashes and underscores.
func CanonicalStatus(raw string) (Status, error) {
	key := shared.FoldLabel(raw)
	if s, ok := legacyLabels[key]; ok {
		return s, nil
	}
	return "", invalid("status", fmt.Sprintf("unknown status %q", raw))
}

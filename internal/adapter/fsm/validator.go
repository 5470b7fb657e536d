package fsm

import (
	"context"
	"errors"

	loopfsm "github.com/looplab/fsm"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// Compile-time checks: both lifecycles are served by Validator.
var (
	_ domain.TenantTransitionValidator      = (*Validator[domain.TenantStatus, domain.TenantEvent])(nil)
	_ domain.EntitlementTransitionValidator = (*Validator[domain.EntitlementStatus, domain.EntitlementEvent])(nil)
)

// buildEvents turns a transition table into looplab/fsm events. Rows that
// share an event and a destination become one EventDesc listing every
// source, in table order.
func buildEvents[S ~string, E ~string](table []domain.Transition[S, E]) []loopfsm.EventDesc {
	var out []loopfsm.EventDesc
	at := map[[2]string]int{}
	for _, t := range table {
		k := [2]string{string(t.Event), string(t.Dst)}
		if i, ok := at[k]; ok {
			out[i].Src = append(out[i].Src, string(t.Src))
			continue
		}
		at[k] = len(out)
		out = append(out, loopfsm.EventDesc{Name: k[0], Src: []string{string(t.Src)}, Dst: k[1]})
	}
	return out
}

// Validator checks transitions against a table using looplab/fsm. A
// looplab machine holds its own state, so Apply builds a throwaway one
// seeded with the record's status.
type Validator[S ~string, E ~string] struct {
	events []loopfsm.EventDesc
}

// New creates a validator for the given transition table.
func New[S ~string, E ~string](table []domain.Transition[S, E]) *Validator[S, E] {
	return &Validator[S, E]{events: buildEvents(table)}
}

// NewTenant creates a validator for the tenant lifecycle.
func NewTenant() *Validator[domain.TenantStatus, domain.TenantEvent] {
	return New(domain.TenantTransitions)
}

// NewEntitlement creates a validator for the entitlement lifecycle.
func NewEntitlement() *Validator[domain.EntitlementStatus, domain.EntitlementEvent] {
	return New(domain.EntitlementTransitions)
}

// Apply returns the status event leads to from current, or a
// *domain.TransitionError when the table has no such edge.
func (v *Validator[S, E]) Apply(ctx context.Context, current S, event E) (S, error) {
	machine := loopfsm.NewFSM(string(current), v.events, nil)
	err := machine.Event(ctx, string(event))
	if err == nil {
		return S(machine.Current()), nil
	}

	var invalidEvent loopfsm.InvalidEventError
	var noTransition loopfsm.NoTransitionError
	var unknownEvent loopfsm.UnknownEventError
	switch {
	case errors.As(err, &invalidEvent), errors.As(err, &noTransition), errors.As(err, &unknownEvent):
		return "", &domain.TransitionError{Event: string(event), Current: string(current)}
	default:
		return "", err
	}
}

package morisslave

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// errSelectionNotRequester means the selection came from someone
	// other than the user the prompt was scoped to.
	errSelectionNotRequester = errors.New("selection not from requester")

	// errSelectionAlreadyDelivered means the requester already made a
	// choice, and this later one is discarded.
	errSelectionAlreadyDelivered = errors.New("selection already delivered")
)

// SelectionOutcome describes how a pending selection prompt ended.
type SelectionOutcome string

const (
	// SelectionOutcomeSelected indicates the requester made a choice
	SelectionOutcomeSelected SelectionOutcome = "selected"

	// SelectionOutcomeTimedOut indicates the wait window elapsed with
	// no selection
	SelectionOutcomeTimedOut SelectionOutcome = "timed_out"

	// SelectionOutcomeCancelled indicates the surrounding context was
	// cancelled (e.g. bot shutdown) before a selection arrived
	SelectionOutcomeCancelled SelectionOutcome = "cancelled"
)

// SelectionResult is the terminal result of a bounded selection wait.
// Value is only meaningful when Outcome is SelectionOutcomeSelected.
type SelectionResult struct {
	Outcome SelectionOutcome
	Value   string
}

// pendingSelection is a single in-flight selection prompt, scoped to one
// requesting user. Selection events from any other user are ignored.
type pendingSelection struct {
	customID    string
	requesterID string
	ch          chan string
	once        sync.Once
}

// deliver hands a selection value to the waiter. The error says why a
// selection was refused: wrong user, or a value already went through.
func (p *pendingSelection) deliver(userID, value string) error {
	if userID != p.requesterID {
		return errSelectionNotRequester
	}
	delivered := false
	p.once.Do(
		func() {
			p.ch <- value
			delivered = true
		},
	)
	if !delivered {
		return errSelectionAlreadyDelivered
	}
	return nil
}

// selectionRegistry tracks pending selection prompts by component
// custom ID, so the gateway component-interaction handler can route
// selection events to the goroutine waiting on them.
type selectionRegistry struct {
	mu      sync.Mutex
	pending map[string]*pendingSelection
	logger  *slog.Logger
}

func newSelectionRegistry(logger *slog.Logger) *selectionRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &selectionRegistry{
		pending: map[string]*pendingSelection{},
		logger:  logger.With(loggerNameKey, "selection_registry"),
	}
}

// add registers a pending selection for the given custom ID, scoped to
// requesterID.
func (r *selectionRegistry) add(customID, requesterID string) *pendingSelection {
	p := &pendingSelection{
		customID:    customID,
		requesterID: requesterID,
		ch:          make(chan string, 1),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[customID] = p
	return p
}

// remove unregisters a pending selection. Safe to call more than once.
func (r *selectionRegistry) remove(customID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, customID)
}

// dispatch routes a component selection event to its waiter, if one
// exists. Returns true if the event was accepted.
func (r *selectionRegistry) dispatch(customID, userID, value string) bool {
	r.mu.Lock()
	p := r.pending[customID]
	r.mu.Unlock()

	if p == nil {
		return false
	}
	switch err := p.deliver(userID, value); {
	case err == nil:
		return true
	case errors.Is(err, errSelectionNotRequester):
		r.logger.Warn(
			"ignoring selection from non-requester",
			"custom_id", customID,
			"user_id", userID,
			"requester_id", p.requesterID,
		)
	case errors.Is(err, errSelectionAlreadyDelivered):
		r.logger.Debug(
			"ignoring repeat selection",
			"custom_id", customID,
			"user_id", userID,
		)
	}
	return false
}

// await blocks until the requester selects a value, the timeout elapses,
// or ctx is cancelled. All three outcomes resolve cleanly - a timeout is
// a reported result, never an unobserved failure.
func (r *selectionRegistry) await(
	ctx context.Context,
	p *pendingSelection,
	timeout time.Duration,
) SelectionResult {
	defer r.remove(p.customID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case value := <-p.ch:
		return SelectionResult{Outcome: SelectionOutcomeSelected, Value: value}
	case <-timer.C:
		return SelectionResult{Outcome: SelectionOutcomeTimedOut}
	case <-ctx.Done():
		return SelectionResult{Outcome: SelectionOutcomeCancelled}
	}
}

package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
)

// Stagger schedule for poll-driven reconciliation: the first remotely
// moved card animates almost immediately, each further one 900ms later,
// so simultaneous remote changes stay legible.
const (
	staggerBase = 10 * time.Millisecond
	staggerStep = 900 * time.Millisecond
)

var (
	// ErrMoveRejected reports a move the constraint set disallowed. No
	// network call is made for these.
	ErrMoveRejected = errors.New("move rejected")
	// ErrMoveFailed reports a move the server refused or that never
	// reached it; the optimistic change has been reverted.
	ErrMoveFailed = errors.New("move not saved")
)

// MoveCard runs one move through the full lifecycle: constraint
// validation, optimistic apply, server commit, and commit-or-revert
// reconciliation. The renderer has already moved the card visually as
// part of the drag gesture; this keeps the store and the server in
// step with it, or tells the renderer to put the card back.
func (s *Session) MoveCard(ctx context.Context, id, newStatus string) error {
	s.renderer.SetSaving(true)
	defer s.renderer.SetSaving(false)

	card, ok := s.store.Get(id)
	if !ok {
		// Benign race: the card vanished under a concurrent reload.
		s.logger.WithField("card", id).Warn("move for unknown card dropped")
		return nil
	}
	prevStatus := card.Status

	decision := s.Constraints().ValidateTransition(card, newStatus)
	if !decision.OK {
		s.renderer.RevertMove(id, prevStatus)
		s.renderer.Alert("Invalid move", decision.Reason)
		return fmt.Errorf("%w: %s", ErrMoveRejected, decision.Reason)
	}
	if len(decision.NeedsInfo) > 0 {
		// Info collection is decoupled from the move: the dialog opens,
		// the move proceeds, and the fields land later via UpdateCard.
		s.renderer.CollectInfo(id, decision.NeedsInfo)
	}

	gen := s.generation.Load()
	s.store.SetStatus(id, newStatus)

	marker, committed, err := s.api.Move(ctx, id, newStatus)
	if s.generation.Load() != gen {
		s.logger.WithField("card", id).Debug("move response superseded by reload")
		return nil
	}
	if err != nil || !committed {
		s.store.SetStatus(id, prevStatus)
		s.renderer.RevertMove(id, prevStatus)
		s.renderer.Alert("Unable to save change", "Current move could not be saved. Please try again later.")
		s.surface(err)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMoveFailed, err)
		}
		return ErrMoveFailed
	}

	s.store.AdvanceMarker(marker)
	return nil
}

// UpdateCard submits field-level edits (including the extra fields a
// status rule requested) and merges the server's applied values back
// into the store.
func (s *Session) UpdateCard(ctx context.Context, id string, fields map[string]string) error {
	s.renderer.SetSaving(true)
	defer s.renderer.SetSaving(false)

	gen := s.generation.Load()
	patch, err := s.api.UpdateCard(ctx, id, fields)
	if err != nil {
		s.surface(err)
		return err
	}
	if s.generation.Load() != gen {
		s.logger.WithField("card", id).Debug("update response superseded by reload")
		return nil
	}

	s.store.ApplyPatch(patch.ID, patch.Data)
	s.store.AdvanceMarker(patch.Timestamp)
	return nil
}

// AddCard creates a new card and folds the server's record into the
// store.
func (s *Session) AddCard(ctx context.Context, fields map[string]string) (string, error) {
	s.renderer.SetSaving(true)
	defer s.renderer.SetSaving(false)

	q := s.Query()
	merged := make(map[string]string, len(fields)+2)
	for k, v := range fields {
		merged[k] = v
	}
	if _, ok := merged["product"]; !ok {
		merged["product"] = q.Product
	}

	gen := s.generation.Load()
	patch, err := s.api.AddCard(ctx, merged)
	if err != nil {
		s.surface(err)
		return "", err
	}
	if s.generation.Load() != gen {
		return patch.ID, nil
	}
	// A newly created card is not in the store yet; the next refresh or
	// reload brings the full record in.
	s.store.AdvanceMarker(patch.Timestamp)
	return patch.ID, nil
}

// Refresh is the poll-triggered reconciliation: fetch the current list
// for the active view, schedule a staggered visual move for every card
// whose rendered status changed remotely, then replace the store
// wholesale. Statuses are diffed against a snapshot taken before the
// replacement, since the animations key off the pre-replace state.
func (s *Session) Refresh(ctx context.Context) error {
	q := s.Query()
	gen := s.generation.Load()

	list, err := s.api.List(ctx, q.Product, q.Sprint)
	if err != nil {
		s.surface(err)
		return err
	}
	if s.generation.Load() != gen {
		s.logger.Debug("refresh superseded by reload")
		return nil
	}

	before := s.store.StatusSnapshot()

	ids := make([]string, 0, len(list.Data))
	for id := range list.Data {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	delay := staggerBase
	moved := 0
	for _, id := range ids {
		fresh := list.Data[id]
		if prev, ok := before[id]; ok && prev != fresh.Status {
			s.renderer.ScheduleMove(id, fresh.Status, delay)
			delay += staggerStep
			moved++
		}
	}

	s.store.ReplaceAll(list.Data, list.Loaded)
	if moved > 0 {
		s.logger.WithFields(log.Fields{"moved": moved, "marker": list.Loaded}).Info("applied remote changes")
	}
	return nil
}

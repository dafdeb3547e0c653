package gateway

import (
	"context"
	"fmt"

	"github.com/mcdev12/minority/go/internal/models"
	"github.com/mcdev12/minority/go/internal/round"
	"github.com/mcdev12/minority/go/internal/round/store"
	"github.com/rs/zerolog/log"
)

// RejectMidTournament is the close message sent to newcomers after the first round.
const RejectMidTournament = "A tournament is already in progress. Please wait for the next tournament."

// MembershipStore is what the reconciler needs from the fast store.
type MembershipStore interface {
	Room(ctx context.Context) (models.Room, error)
	Membership(ctx context.Context, email string) (models.Membership, error)
	JoinIfOpen(ctx context.Context, email string) (store.JoinResult, error)
	Answer(ctx context.Context, roundID int64, email string) (models.Option, bool, error)
	MarkOnline(ctx context.Context, email string) error
	ClearOnline(ctx context.Context, email string) error
	Counts(ctx context.Context) (models.Counts, error)
}

// SnapshotSource builds the canonical room snapshot.
type SnapshotSource interface {
	RoomSnapshot(ctx context.Context) (models.RoomSnapshot, error)
}

// Admission is the reconciler's decision for one connection.
type Admission struct {
	Admitted   bool
	Joined     bool
	Role       models.Role
	Membership models.Membership
	Degraded   bool
	// Reason is the close message for rejected connections.
	Reason string
	// Events are sent to this connection only, in order.
	Events []*round.Event
}

// Reconciler decides what happens to a connection given who it is and the
// current tournament state.
type Reconciler struct {
	store       MembershipStore
	snapshots   SnapshotSource
	broadcaster round.Broadcaster
}

func NewReconciler(store MembershipStore, snapshots SnapshotSource, broadcaster round.Broadcaster) *Reconciler {
	return &Reconciler{
		store:       store,
		snapshots:   snapshots,
		broadcaster: broadcaster,
	}
}

// Admit classifies the connection. A fast store failure admits the
// connection in degraded mode instead of rejecting it. Callers announce the
// new counts with AnnounceCounts once the connection's own events are queued.
func (r *Reconciler) Admit(ctx context.Context, id models.Identity) (*Admission, error) {
	if id.Email == "" {
		return nil, fmt.Errorf("identity has no email")
	}

	adm := &Admission{Admitted: true, Role: id.Role()}
	if id.IsOperator() {
		if err := r.appendGameState(ctx, adm, nil); err != nil {
			return r.degraded(adm, id, err), nil
		}
		return adm, nil
	}

	room, err := r.store.Room(ctx)
	if err != nil {
		return r.degraded(adm, id, err), nil
	}
	membership, err := r.store.Membership(ctx, id.Email)
	if err != nil {
		return r.degraded(adm, id, err), nil
	}

	if membership == models.MembershipUnseen {
		res, err := r.store.JoinIfOpen(ctx, id.Email)
		if err != nil {
			return r.degraded(adm, id, err), nil
		}
		switch res {
		case store.JoinClosed:
			log.Info().Str("player", id.Email).Msg("rejected newcomer during tournament")
			return r.reject(ctx, RejectMidTournament), nil
		case store.JoinEliminated:
			membership = models.MembershipEliminated
		case store.JoinAdded:
			adm.Joined = true
			membership = models.MembershipSurvivor
		default:
			membership = models.MembershipSurvivor
		}
	}
	adm.Membership = membership

	if err := r.store.MarkOnline(ctx, id.Email); err != nil {
		log.Warn().Err(err).Str("player", id.Email).Msg("failed to mark player online")
	}

	var answer *models.Option
	if membership == models.MembershipSurvivor && room.Status == models.RoomStatusPlaying {
		opt, ok, err := r.store.Answer(ctx, room.CurrentRound, id.Email)
		if err != nil {
			log.Warn().Err(err).Str("player", id.Email).Msg("failed to read submitted answer")
		} else if ok {
			answer = &opt
		}
	}

	if err := r.appendGameState(ctx, adm, answer); err != nil {
		return r.degraded(adm, id, err), nil
	}
	r.appendOutcome(adm, id.Email)

	log.Info().
		Str("player", id.Email).
		Str("membership", string(membership)).
		Bool("joined", adm.Joined).
		Msg("player admitted")
	return adm, nil
}

// Disconnect clears the player's online marker. Membership is never touched.
func (r *Reconciler) Disconnect(ctx context.Context, id models.Identity) {
	if id.IsOperator() {
		return
	}
	if err := r.store.ClearOnline(ctx, id.Email); err != nil {
		log.Warn().Err(err).Str("player", id.Email).Msg("failed to clear online marker")
		return
	}
	r.AnnounceCounts(ctx)
}

func (r *Reconciler) appendGameState(ctx context.Context, adm *Admission, answer *models.Option) error {
	snap, err := r.snapshots.RoomSnapshot(ctx)
	if err != nil {
		return err
	}
	ev, err := round.NewEvent(round.EventTypeGameState, snap, round.GameStatePayload{
		Role:       adm.Role,
		Membership: adm.Membership,
		YourAnswer: answer,
	})
	if err != nil {
		return err
	}
	adm.Events = append(adm.Events, ev)
	return nil
}

// appendOutcome repeats the event that decided the player's fate.
func (r *Reconciler) appendOutcome(adm *Admission, email string) {
	if len(adm.Events) == 0 {
		return
	}
	snap := adm.Events[0].Room

	var (
		ev  *round.Event
		err error
	)
	switch adm.Membership {
	case models.MembershipEliminated:
		ev, err = round.NewEvent(round.EventTypeEliminated, snap, round.EliminatedPayload{
			Round:      snap.CurrentRound,
			Eliminated: []string{email},
			Forfeited:  []string{},
		})
	case models.MembershipWinner:
		ev, err = round.NewEvent(round.EventTypeWinner, snap, round.WinnerPayload{
			Round:  snap.CurrentRound,
			Winner: snap.Winner,
		})
	case models.MembershipTiedFinalist:
		ev, err = round.NewEvent(round.EventTypeTie, snap, round.TiePayload{
			Round: snap.CurrentRound,
			Tier:  snap.Tier,
		})
	default:
		return
	}
	if err != nil {
		log.Error().Err(err).Str("player", email).Msg("failed to build outcome event")
		return
	}
	adm.Events = append(adm.Events, ev)
}

// AnnounceCounts broadcasts the live player counts.
func (r *Reconciler) AnnounceCounts(ctx context.Context) {
	counts, err := r.store.Counts(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read player counts")
		return
	}
	snap, err := r.snapshots.RoomSnapshot(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to build room snapshot for count update")
		return
	}
	ev, err := round.NewEvent(round.EventTypePlayerCountUpdate, snap, round.PlayerCountPayload{Counts: counts})
	if err != nil {
		log.Error().Err(err).Msg("failed to build count update")
		return
	}
	r.broadcaster.Broadcast(ev)
}

func (r *Reconciler) reject(ctx context.Context, reason string) *Admission {
	adm := &Admission{Role: models.RolePlayer, Reason: reason}
	snap, err := r.snapshots.RoomSnapshot(ctx)
	if err != nil {
		snap = models.RoomSnapshot{}
	}
	if ev, err := round.NewEvent(round.EventTypeError, snap, round.ErrorPayload{Message: reason}); err == nil {
		adm.Events = append(adm.Events, ev)
	}
	return adm
}

func (r *Reconciler) degraded(adm *Admission, id models.Identity, cause error) *Admission {
	log.Error().Err(cause).Str("player", id.Email).Msg("fast store unavailable during admission, admitting degraded")

	adm.Admitted = true
	adm.Degraded = true
	adm.Events = nil
	ev, err := round.NewEvent(round.EventTypeGameState, models.RoomSnapshot{Status: models.RoomStatusWaiting}, round.GameStatePayload{
		Role:       adm.Role,
		Membership: adm.Membership,
		Degraded:   true,
	})
	if err == nil {
		adm.Events = append(adm.Events, ev)
	}
	return adm
}

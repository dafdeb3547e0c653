// Package store implements the fast, shared round state on Redis.
//
// Every exported method is a single atomic operation against Redis: either a
// single command, a MULTI/EXEC block of writes, or a Lua script. Callers
// compose these without assuming atomicity across calls.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/mcdev12/minority/go/internal/models"
	"github.com/mcdev12/minority/go/internal/round"
	"github.com/redis/go-redis/v9"
)

// JoinResult is the outcome of JoinIfOpen.
type JoinResult int

const (
	JoinAdded JoinResult = iota
	JoinAlreadySurvivor
	JoinClosed
	JoinEliminated
)

// RestoreState is the minimal state written back during recovery.
type RestoreState struct {
	Survivors    []string
	CurrentRound int64
	Started      bool
}

// RedisStore holds the live state of a single room.
type RedisStore struct {
	client redis.UniversalClient
	keys   keys
}

// NewRedisStore creates a store for the given room.
func NewRedisStore(client redis.UniversalClient, roomID string) *RedisStore {
	return &RedisStore{
		client: client,
		keys:   newKeys(roomID),
	}
}

// wrap tags a Redis failure as ErrStoreUnavailable so callers can fail fast.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, round.ErrStoreUnavailable, err)
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return wrap("ping", s.client.Ping(ctx).Err())
}

// Room returns the room metadata. Missing fields read as a fresh waiting room.
func (s *RedisStore) Room(ctx context.Context) (models.Room, error) {
	vals, err := s.client.HMGet(ctx, s.keys.room(), fieldStatus, fieldCurrentRound, fieldTimeLeft, fieldStarted).Result()
	if err != nil {
		return models.Room{}, wrap("read room", err)
	}

	room := models.Room{Status: models.RoomStatusWaiting}
	if v, ok := vals[0].(string); ok && models.RoomStatus(v).Valid() {
		room.Status = models.RoomStatus(v)
	}
	if v, ok := vals[1].(string); ok {
		room.CurrentRound, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := vals[2].(string); ok {
		room.TimeLeft, _ = strconv.Atoi(v)
	}
	if v, ok := vals[3].(string); ok {
		room.Started = v == "1"
	}
	return room, nil
}

// HasLiveState reports whether the minimal live keys (round counter and status) exist.
func (s *RedisStore) HasLiveState(ctx context.Context) (bool, error) {
	vals, err := s.client.HMGet(ctx, s.keys.room(), fieldCurrentRound, fieldStatus).Result()
	if err != nil {
		return false, wrap("check live state", err)
	}
	return vals[0] != nil && vals[1] != nil, nil
}

// SetStatus overwrites the room status.
func (s *RedisStore) SetStatus(ctx context.Context, status models.RoomStatus) error {
	return wrap("set status", s.client.HSet(ctx, s.keys.room(), fieldStatus, string(status)).Err())
}

// SetTimeLeft overwrites the remaining countdown seconds.
func (s *RedisStore) SetTimeLeft(ctx context.Context, seconds int) error {
	return wrap("set time left", s.client.HSet(ctx, s.keys.room(), fieldTimeLeft, seconds).Err())
}

// IncrRound atomically advances the round counter and returns the new round id.
func (s *RedisStore) IncrRound(ctx context.Context) (int64, error) {
	n, err := s.client.HIncrBy(ctx, s.keys.room(), fieldCurrentRound, 1).Result()
	if err != nil {
		return 0, wrap("increment round", err)
	}
	return n, nil
}

// BeginRound stores the question, zeroes the tally and flips the room to
// playing in one MULTI block.
func (s *RedisStore) BeginRound(ctx context.Context, q models.Question, timeLeft int) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.keys.answers(q.Round))
		pipe.HSet(ctx, s.keys.tally(q.Round), string(models.OptionA), 0, string(models.OptionB), 0)
		pipe.HSet(ctx, s.keys.question(q.Round),
			fieldText, q.Text,
			fieldOptionA, q.OptionA,
			fieldOptionB, q.OptionB,
			fieldStartedAt, q.StartedAt.UnixMilli(),
		)
		pipe.HSet(ctx, s.keys.room(),
			fieldStatus, string(models.RoomStatusPlaying),
			fieldTimeLeft, timeLeft,
			fieldStarted, 1,
		)
		pipe.Del(ctx, s.keys.recoveryDisabled())
		return nil
	})
	return wrap("begin round", err)
}

// Question returns the question stored for a round, or nil if none was recorded.
func (s *RedisStore) Question(ctx context.Context, roundID int64) (*models.Question, error) {
	if roundID <= 0 {
		return nil, nil
	}
	vals, err := s.client.HGetAll(ctx, s.keys.question(roundID)).Result()
	if err != nil {
		return nil, wrap("read question", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	q := &models.Question{
		Round:   roundID,
		Text:    vals[fieldText],
		OptionA: vals[fieldOptionA],
		OptionB: vals[fieldOptionB],
	}
	if ms, err := strconv.ParseInt(vals[fieldStartedAt], 10, 64); err == nil {
		q.StartedAt = time.UnixMilli(ms).UTC()
	}
	return q, nil
}

// RecordAnswer stores the player's answer for the round, overwriting any earlier
// answer, and adjusts the live tally atomically.
func (s *RedisStore) RecordAnswer(ctx context.Context, roundID int64, email string, option models.Option) (bool, error) {
	changed, err := recordAnswerScript.Run(ctx, s.client,
		[]string{s.keys.answers(roundID), s.keys.tally(roundID)},
		email, string(option),
	).Int64()
	if err != nil {
		return false, wrap("record answer", err)
	}
	return changed == 1, nil
}

// Answer returns a single player's answer for the round.
func (s *RedisStore) Answer(ctx context.Context, roundID int64, email string) (models.Option, bool, error) {
	v, err := s.client.HGet(ctx, s.keys.answers(roundID), email).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap("read answer", err)
	}
	return models.Option(v), true, nil
}

// Answers returns every recorded answer for the round.
func (s *RedisStore) Answers(ctx context.Context, roundID int64) (map[string]models.Option, error) {
	vals, err := s.client.HGetAll(ctx, s.keys.answers(roundID)).Result()
	if err != nil {
		return nil, wrap("read answers", err)
	}
	answers := make(map[string]models.Option, len(vals))
	for email, v := range vals {
		if opt, ok := models.ParseOption(v); ok {
			answers[email] = opt
		}
	}
	return answers, nil
}

// Tally returns the live tally for the round.
func (s *RedisStore) Tally(ctx context.Context, roundID int64) (models.Tally, error) {
	if roundID <= 0 {
		return models.Tally{}, nil
	}
	vals, err := s.client.HMGet(ctx, s.keys.tally(roundID), string(models.OptionA), string(models.OptionB)).Result()
	if err != nil {
		return models.Tally{}, wrap("read tally", err)
	}
	var t models.Tally
	if v, ok := vals[0].(string); ok {
		t.A, _ = strconv.Atoi(v)
	}
	if v, ok := vals[1].(string); ok {
		t.B, _ = strconv.Atoi(v)
	}
	return t, nil
}

// SetTally overwrites the tally for the round.
func (s *RedisStore) SetTally(ctx context.Context, roundID int64, t models.Tally) error {
	err := s.client.HSet(ctx, s.keys.tally(roundID), string(models.OptionA), t.A, string(models.OptionB), t.B).Err()
	return wrap("set tally", err)
}

// Survivors returns the survivor set, sorted.
func (s *RedisStore) Survivors(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.keys.survivors()).Result()
	if err != nil {
		return nil, wrap("read survivors", err)
	}
	sort.Strings(members)
	return members, nil
}

// SurvivorCount returns the size of the survivor set.
func (s *RedisStore) SurvivorCount(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, s.keys.survivors()).Result()
	if err != nil {
		return 0, wrap("count survivors", err)
	}
	return int(n), nil
}

// IsSurvivor reports whether the player is in the survivor set.
func (s *RedisStore) IsSurvivor(ctx context.Context, email string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.keys.survivors(), email).Result()
	if err != nil {
		return false, wrap("check survivor", err)
	}
	return ok, nil
}

// Eliminate moves each player from the survivor set to the eliminated set in
// one MULTI block and returns the players that were actually moved.
func (s *RedisStore) Eliminate(ctx context.Context, emails []string) ([]string, error) {
	if len(emails) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.BoolCmd, len(emails))
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, email := range emails {
			cmds[i] = pipe.SMove(ctx, s.keys.survivors(), s.keys.eliminated(), email)
		}
		return nil
	})
	if err != nil {
		return nil, wrap("eliminate", err)
	}
	moved := make([]string, 0, len(emails))
	for i, cmd := range cmds {
		if cmd.Val() {
			moved = append(moved, emails[i])
		}
	}
	return moved, nil
}

// Counts returns live survivor, eliminated and online counts.
func (s *RedisStore) Counts(ctx context.Context) (models.Counts, error) {
	var survivors, eliminated, online *redis.IntCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		survivors = pipe.SCard(ctx, s.keys.survivors())
		eliminated = pipe.SCard(ctx, s.keys.eliminated())
		online = pipe.SCard(ctx, s.keys.online())
		return nil
	})
	if err != nil {
		return models.Counts{}, wrap("read counts", err)
	}
	return models.Counts{
		Survivors:  int(survivors.Val()),
		Eliminated: int(eliminated.Val()),
		Online:     int(online.Val()),
	}, nil
}

// JoinIfOpen adds the player as a survivor unless the tournament has started.
func (s *RedisStore) JoinIfOpen(ctx context.Context, email string) (JoinResult, error) {
	res, err := joinIfOpenScript.Run(ctx, s.client,
		[]string{s.keys.room(), s.keys.survivors(), s.keys.eliminated()},
		email,
	).Int64()
	if err != nil {
		return JoinClosed, wrap("join", err)
	}
	switch res {
	case 1:
		return JoinAdded, nil
	case 0:
		return JoinAlreadySurvivor, nil
	case -2:
		return JoinEliminated, nil
	default:
		return JoinClosed, nil
	}
}

// Membership classifies the player against the result, survivor and eliminated state.
func (s *RedisStore) Membership(ctx context.Context, email string) (models.Membership, error) {
	var result *redis.SliceCmd
	var survivor, eliminated *redis.BoolCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		result = pipe.HMGet(ctx, s.keys.result(), fieldWinner, fieldTier)
		survivor = pipe.SIsMember(ctx, s.keys.survivors(), email)
		eliminated = pipe.SIsMember(ctx, s.keys.eliminated(), email)
		return nil
	})
	if err != nil {
		return models.MembershipUnseen, wrap("read membership", err)
	}

	vals := result.Val()
	if w, ok := vals[0].(string); ok && w != "" && w == email {
		return models.MembershipWinner, nil
	}
	if raw, ok := vals[1].(string); ok && raw != "" {
		var tier []string
		if err := json.Unmarshal([]byte(raw), &tier); err == nil {
			for _, t := range tier {
				if t == email {
					return models.MembershipTiedFinalist, nil
				}
			}
		}
	}
	switch {
	case survivor.Val():
		return models.MembershipSurvivor, nil
	case eliminated.Val():
		return models.MembershipEliminated, nil
	default:
		return models.MembershipUnseen, nil
	}
}

// MarkOnline sets the transient online marker for a player.
func (s *RedisStore) MarkOnline(ctx context.Context, email string) error {
	return wrap("mark online", s.client.SAdd(ctx, s.keys.online(), email).Err())
}

// ClearOnline removes the transient online marker. Membership is untouched.
func (s *RedisStore) ClearOnline(ctx context.Context, email string) error {
	return wrap("clear online", s.client.SRem(ctx, s.keys.online(), email).Err())
}

// Finish records the terminal result and ends the room in one MULTI block.
func (s *RedisStore) Finish(ctx context.Context, res models.GameResult) error {
	tier, err := json.Marshal(nonNil(res.TierEmails))
	if err != nil {
		return fmt.Errorf("marshal tier: %w", err)
	}
	winner := ""
	if res.WinnerEmail != nil {
		winner = *res.WinnerEmail
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.keys.result(),
			fieldWinner, winner,
			fieldTier, string(tier),
			fieldFinalRound, res.FinalRound,
			fieldEndedAt, res.EndedAt.UnixMilli(),
		)
		pipe.HSet(ctx, s.keys.room(), fieldStatus, string(models.RoomStatusEnded), fieldTimeLeft, 0)
		return nil
	})
	return wrap("finish", err)
}

// Result returns the terminal result, or nil if the tournament has not ended.
func (s *RedisStore) Result(ctx context.Context) (*models.GameResult, error) {
	vals, err := s.client.HGetAll(ctx, s.keys.result()).Result()
	if err != nil {
		return nil, wrap("read result", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	res := &models.GameResult{TierEmails: []string{}}
	if w := vals[fieldWinner]; w != "" {
		res.WinnerEmail = &w
	}
	if raw := vals[fieldTier]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &res.TierEmails)
	}
	res.FinalRound, _ = strconv.ParseInt(vals[fieldFinalRound], 10, 64)
	res.TotalRounds = res.FinalRound
	if ms, err := strconv.ParseInt(vals[fieldEndedAt], 10, 64); err == nil {
		res.EndedAt = time.UnixMilli(ms).UTC()
	}
	return res, nil
}

// RecoveryDisabled reports whether an operator reset has turned off automatic recovery.
func (s *RedisStore) RecoveryDisabled(ctx context.Context) (bool, error) {
	n, err := s.client.Exists(ctx, s.keys.recoveryDisabled()).Result()
	if err != nil {
		return false, wrap("check recovery flag", err)
	}
	return n > 0, nil
}

// Reset deletes every key of the room except the online set and leaves a
// fresh waiting room at round 0 with automatic recovery disabled. Players that
// are still connected become survivors of the next tournament.
func (s *RedisStore) Reset(ctx context.Context) error {
	if err := s.deleteAll(ctx, s.keys.online()); err != nil {
		return err
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SUnionStore(ctx, s.keys.survivors(), s.keys.online())
		pipe.HSet(ctx, s.keys.room(),
			fieldStatus, string(models.RoomStatusWaiting),
			fieldCurrentRound, 0,
			fieldTimeLeft, 0,
			fieldStarted, 0,
		)
		pipe.Set(ctx, s.keys.recoveryDisabled(), 1, 0)
		return nil
	})
	return wrap("reset", err)
}

// InitClean writes a fresh waiting room at round 0 without touching membership.
func (s *RedisStore) InitClean(ctx context.Context) error {
	err := s.client.HSet(ctx, s.keys.room(),
		fieldStatus, string(models.RoomStatusWaiting),
		fieldCurrentRound, 0,
		fieldTimeLeft, 0,
		fieldStarted, 0,
	).Err()
	return wrap("init room", err)
}

// Restore rebuilds the room from a durable snapshot. Survivors are inserted in
// batches of batchSize to bound command size; the room always comes back as
// waiting so an interrupted round is never resumed.
func (s *RedisStore) Restore(ctx context.Context, state RestoreState, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	if err := s.deleteAll(ctx); err != nil {
		return err
	}
	for start := 0; start < len(state.Survivors); start += batchSize {
		end := min(start+batchSize, len(state.Survivors))
		members := make([]any, 0, end-start)
		for _, email := range state.Survivors[start:end] {
			members = append(members, email)
		}
		if err := s.client.SAdd(ctx, s.keys.survivors(), members...).Err(); err != nil {
			return wrap("restore survivors", err)
		}
	}
	started := 0
	if state.Started {
		started = 1
	}
	err := s.client.HSet(ctx, s.keys.room(),
		fieldStatus, string(models.RoomStatusWaiting),
		fieldCurrentRound, state.CurrentRound,
		fieldTimeLeft, 0,
		fieldStarted, started,
	).Err()
	return wrap("restore room", err)
}

// deleteAll removes every key of the room except keep.
func (s *RedisStore) deleteAll(ctx context.Context, keep ...string) error {
	iter := s.client.Scan(ctx, 0, s.keys.all(), 200).Iterator()
	var batch []string
	for iter.Next(ctx) {
		if slices.Contains(keep, iter.Val()) {
			continue
		}
		batch = append(batch, iter.Val())
		if len(batch) >= 200 {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return wrap("delete keys", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return wrap("scan keys", err)
	}
	if len(batch) > 0 {
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return wrap("delete keys", err)
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

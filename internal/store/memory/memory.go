// Package memory is the local store: a static token list from config and
// counters kept in process, optionally persisted to a JSON state file.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/GriffinCanCode/omnicall/internal/dedup"
	apperrors "github.com/GriffinCanCode/omnicall/internal/errors"
	"github.com/GriffinCanCode/omnicall/internal/store"
)

type user struct {
	Label             string     `json:"label"`
	CreatedAt         time.Time  `json:"created_at"`
	MatchesFound      int        `json:"matches_found"`
	NotificationsSent int        `json:"notifications_sent"`
	LastMatchAt       *time.Time `json:"last_match_ts,omitempty"`
}

type global struct {
	TotalUsers   int64            `json:"total_users"`
	TotalSends   int64            `json:"total_sends"`
	TotalMatches int64            `json:"total_matches"`
	Daily        map[string]int64 `json:"users_daily,omitempty"`
	UpdatedAt    *time.Time       `json:"updated_at,omitempty"`
}

// fileState is the on-disk layout. The owner's counter sits at the top
// level as total_matches and last_match_ts.
type fileState struct {
	TotalMatches int              `json:"total_matches"`
	LastMatchAt  *time.Time       `json:"last_match_ts,omitempty"`
	Sent         int              `json:"notifications_sent"`
	Users        map[string]*user `json:"users,omitempty"`
	Global       global           `json:"global"`
	Feedback     []feedbackRecord `json:"feedback,omitempty"`
}

type feedbackRecord struct {
	store.Feedback
	CreatedAt time.Time `json:"created_at"`
}

// Options configure a Store.
type Options struct {
	Owner     string
	Tokens    []string
	StateFile string // empty keeps state in memory only
	Clock     func() time.Time
}

// Store implements store.Backend in process.
type Store struct {
	opts Options

	mu    sync.Mutex
	state fileState
}

var _ store.Backend = (*Store)(nil)

// New creates a store, loading StateFile when it exists.
func New(opts Options) (*Store, error) {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	s := &Store{opts: opts, state: fileState{Users: map[string]*user{}}}
	if opts.StateFile != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) ListTokens(_ context.Context, userID string) ([]string, error) {
	if userID != s.opts.Owner {
		return nil, nil
	}
	return append([]string(nil), s.opts.Tokens...), nil
}

func (s *Store) IncrementSends(_ context.Context, n int) error {
	return s.mutate(func(st *fileState, now time.Time) {
		st.Sent += n
		st.Global.TotalSends += int64(n)
		st.Global.UpdatedAt = &now
	})
}

func (s *Store) IncrementMatches(_ context.Context, n int) error {
	return s.mutate(func(st *fileState, now time.Time) {
		st.Global.TotalMatches += int64(n)
		st.Global.UpdatedAt = &now
	})
}

func (s *Store) RecordUserRegistered(_ context.Context) error {
	return s.mutate(func(st *fileState, now time.Time) {
		st.Global.TotalUsers++
		if st.Global.Daily == nil {
			st.Global.Daily = map[string]int64{}
		}
		st.Global.Daily[store.DayKey(now)]++
		st.Global.UpdatedAt = &now
	})
}

func (s *Store) LoadLastMatch(_ context.Context, userID string) (dedup.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if userID == s.opts.Owner {
		return dedup.State{TotalMatches: s.state.TotalMatches, LastMatchAt: copyTime(s.state.LastMatchAt)}, nil
	}
	if u, ok := s.state.Users[userID]; ok {
		return dedup.State{TotalMatches: u.MatchesFound, LastMatchAt: copyTime(u.LastMatchAt)}, nil
	}
	return dedup.State{}, nil
}

// SaveLastMatch never moves the stored counter backwards.
func (s *Store) SaveLastMatch(_ context.Context, userID string, next dedup.State) error {
	return s.mutate(func(st *fileState, _ time.Time) {
		if userID == s.opts.Owner {
			merged := dedup.Merge(dedup.State{TotalMatches: st.TotalMatches, LastMatchAt: st.LastMatchAt}, next)
			st.TotalMatches, st.LastMatchAt = merged.TotalMatches, merged.LastMatchAt
			return
		}
		u := st.user(userID)
		merged := dedup.Merge(dedup.State{TotalMatches: u.MatchesFound, LastMatchAt: u.LastMatchAt}, next)
		u.MatchesFound, u.LastMatchAt = merged.TotalMatches, merged.LastMatchAt
	})
}

func (s *Store) RegisterUser(ctx context.Context, label string) (string, error) {
	id := store.NewUserID(label)
	err := s.mutate(func(st *fileState, now time.Time) {
		u := st.user(id)
		u.Label = label
		u.CreatedAt = now
	})
	if err != nil {
		return "", err
	}
	if err := s.RecordUserRegistered(ctx); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) SubmitFeedback(_ context.Context, f store.Feedback) error {
	if err := store.ValidateFeedback(f); err != nil {
		return err
	}
	return s.mutate(func(st *fileState, now time.Time) {
		st.Feedback = append(st.Feedback, feedbackRecord{Feedback: f, CreatedAt: now})
	})
}

func (s *Store) FetchStats(_ context.Context, userID string) (store.PersonalStats, store.GlobalStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := store.GlobalStats{
		TotalUsers:   s.state.Global.TotalUsers,
		TotalSends:   s.state.Global.TotalSends,
		TotalMatches: s.state.Global.TotalMatches,
		UsersToday:   s.state.Global.Daily[store.DayKey(s.opts.Clock())],
		UpdatedAt:    copyTime(s.state.Global.UpdatedAt),
	}

	if userID == s.opts.Owner {
		return store.PersonalStats{
			UserID:            userID,
			MatchesFound:      s.state.TotalMatches,
			NotificationsSent: s.state.Sent,
			LastMatchAt:       copyTime(s.state.LastMatchAt),
		}, g, nil
	}
	u, ok := s.state.Users[userID]
	if !ok {
		return store.PersonalStats{}, g, apperrors.New(apperrors.CodeNotFound, "user not found").WithMetadata("user", userID)
	}
	return store.PersonalStats{
		UserID:            userID,
		MatchesFound:      u.MatchesFound,
		NotificationsSent: u.NotificationsSent,
		LastMatchAt:       copyTime(u.LastMatchAt),
	}, g, nil
}

// Close flushes nothing; every mutation is already on disk.
func (s *Store) Close() error { return nil }

func (st *fileState) user(id string) *user {
	if st.Users == nil {
		st.Users = map[string]*user{}
	}
	u, ok := st.Users[id]
	if !ok {
		u = &user{}
		st.Users[id] = u
	}
	return u
}

func (s *Store) mutate(fn func(st *fileState, now time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state, s.opts.Clock())
	return s.save()
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.opts.StateFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStoreUnavailable, "read state file").WithMetadata("path", s.opts.StateFile)
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return apperrors.Wrap(err, apperrors.CodeStoreUnavailable, "parse state file").WithMetadata("path", s.opts.StateFile)
	}
	return nil
}

// save writes the state atomically. Callers hold mu.
func (s *Store) save() error {
	if s.opts.StateFile == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStateSave, "encode state")
	}
	dir := filepath.Dir(s.opts.StateFile)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return apperrors.Wrap(err, apperrors.CodeStateSave, "create state dir")
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStateSave, "create temp state file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperrors.Wrap(err, apperrors.CodeStateSave, "write state")
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeStateSave, "close state")
	}
	if err := os.Rename(tmp.Name(), s.opts.StateFile); err != nil {
		return apperrors.Wrap(err, apperrors.CodeStateSave, fmt.Sprintf("replace %s", s.opts.StateFile))
	}
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Package firestore keeps tokens and counters in Cloud Firestore, using the
// same documents as the phone app: users/{uid} with a tokens subcollection,
// stats/global, stats_daily/{YYYY-MM-DD} and feedback.
package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/GriffinCanCode/omnicall/internal/dedup"
	apperrors "github.com/GriffinCanCode/omnicall/internal/errors"
	"github.com/GriffinCanCode/omnicall/internal/store"
)

// Document fields.
const (
	fieldToken             = "token"
	fieldLabel             = "label"
	fieldCreatedAt         = "createdAt"
	fieldUpdatedAt         = "updatedAt"
	fieldMatchesFound      = "matchesFound"
	fieldNotificationsSent = "notificationsSent"
	fieldLastMatchAt       = "lastDetectorMatchAt"
	fieldTotalUsers        = "totalUsers"
	fieldTotalSends        = "totalSends"
	fieldTotalMatches      = "totalMatches"
	fieldUsersToday        = "usersToday"
	fieldUserID            = "userId"
	fieldDisplayName       = "displayName"
	fieldMessage           = "message"
)

// Store implements store.Backend on a Firestore client.
type Store struct {
	client *firestore.Client
	owner  string
	now    func() time.Time
}

var _ store.Backend = (*Store)(nil)

// New wraps client. Close closes the client.
func New(client *firestore.Client, owner string) *Store {
	return &Store{client: client, owner: owner, now: time.Now}
}

func (s *Store) user(id string) *firestore.DocumentRef { return s.client.Collection("users").Doc(id) }

func (s *Store) global() *firestore.DocumentRef { return s.client.Collection("stats").Doc("global") }

func (s *Store) daily() *firestore.DocumentRef {
	return s.client.Collection("stats_daily").Doc(store.DayKey(s.now()))
}

func (s *Store) ListTokens(ctx context.Context, userID string) ([]string, error) {
	docs, err := s.user(userID).Collection("tokens").Documents(ctx).GetAll()
	if err != nil {
		return nil, unavailable(err, "list tokens")
	}
	tokens := make([]string, 0, len(docs))
	for _, doc := range docs {
		if tok, ok := doc.Data()[fieldToken].(string); ok && tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens, nil
}

// AddToken registers a device token for userID unless already present.
func (s *Store) AddToken(ctx context.Context, userID, token string) error {
	tokens := s.user(userID).Collection("tokens")
	existing, err := tokens.Where(fieldToken, "==", token).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return unavailable(err, "look up token")
	}
	if len(existing) > 0 {
		return nil
	}
	_, _, err = tokens.Add(ctx, map[string]any{fieldToken: token, fieldCreatedAt: firestore.ServerTimestamp})
	return unavailable(err, "add token")
}

func (s *Store) IncrementSends(ctx context.Context, n int) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Set(s.user(s.owner), map[string]any{fieldNotificationsSent: firestore.Increment(n)}, firestore.MergeAll); err != nil {
			return err
		}
		return tx.Set(s.global(), map[string]any{
			fieldTotalSends: firestore.Increment(n),
			fieldUpdatedAt:  firestore.ServerTimestamp,
		}, firestore.MergeAll)
	})
	return unavailable(err, "increment sends")
}

func (s *Store) IncrementMatches(ctx context.Context, n int) error {
	_, err := s.global().Set(ctx, map[string]any{
		fieldTotalMatches: firestore.Increment(n),
		fieldUpdatedAt:    firestore.ServerTimestamp,
	}, firestore.MergeAll)
	return unavailable(err, "increment matches")
}

func (s *Store) RecordUserRegistered(ctx context.Context) error {
	if _, err := s.global().Set(ctx, map[string]any{
		fieldTotalUsers: firestore.Increment(1),
		fieldUpdatedAt:  firestore.ServerTimestamp,
	}, firestore.MergeAll); err != nil {
		return unavailable(err, "increment users")
	}
	_, err := s.daily().Set(ctx, map[string]any{
		fieldUsersToday: firestore.Increment(1),
		fieldUpdatedAt:  firestore.ServerTimestamp,
	}, firestore.MergeAll)
	return unavailable(err, "increment users today")
}

func (s *Store) LoadLastMatch(ctx context.Context, userID string) (dedup.State, error) {
	snap, err := s.user(userID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return dedup.State{}, nil
	}
	if err != nil {
		return dedup.State{}, unavailable(err, "load last match")
	}
	return stateFrom(snap.Data()), nil
}

// SaveLastMatch merges st into the stored counter inside a transaction so
// concurrent detectors for the same user never move it backwards.
func (s *Store) SaveLastMatch(ctx context.Context, userID string, st dedup.State) error {
	ref := s.user(userID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		current := dedup.State{}
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			current = stateFrom(snap.Data())
		}

		merged := dedup.Merge(current, st)
		update := map[string]any{fieldMatchesFound: merged.TotalMatches}
		if merged.LastMatchAt != nil {
			update[fieldLastMatchAt] = *merged.LastMatchAt
		}
		return tx.Set(ref, update, firestore.MergeAll)
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStateSave, "save last match").WithMetadata("user", userID)
	}
	return nil
}

func (s *Store) RegisterUser(ctx context.Context, label string) (string, error) {
	id := store.NewUserID(label)
	if _, err := s.user(id).Set(ctx, map[string]any{
		fieldLabel:     label,
		fieldCreatedAt: firestore.ServerTimestamp,
	}); err != nil {
		return "", unavailable(err, "create user")
	}
	if err := s.RecordUserRegistered(ctx); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) SubmitFeedback(ctx context.Context, f store.Feedback) error {
	if err := store.ValidateFeedback(f); err != nil {
		return err
	}
	_, _, err := s.client.Collection("feedback").Add(ctx, map[string]any{
		fieldUserID:      f.UserID,
		fieldDisplayName: f.DisplayName,
		fieldMessage:     f.Message,
		fieldCreatedAt:   firestore.ServerTimestamp,
	})
	return unavailable(err, "submit feedback")
}

func (s *Store) FetchStats(ctx context.Context, userID string) (store.PersonalStats, store.GlobalStats, error) {
	var g store.GlobalStats
	if snap, err := s.global().Get(ctx); err == nil {
		data := snap.Data()
		g.TotalUsers = asInt(data[fieldTotalUsers])
		g.TotalSends = asInt(data[fieldTotalSends])
		g.TotalMatches = asInt(data[fieldTotalMatches])
		g.UpdatedAt = asTime(data[fieldUpdatedAt])
	} else if status.Code(err) != codes.NotFound {
		return store.PersonalStats{}, g, unavailable(err, "fetch global stats")
	}

	if snap, err := s.daily().Get(ctx); err == nil {
		g.UsersToday = asInt(snap.Data()[fieldUsersToday])
	} else if status.Code(err) != codes.NotFound {
		return store.PersonalStats{}, g, unavailable(err, "fetch daily stats")
	}

	p := store.PersonalStats{UserID: userID}
	snap, err := s.user(userID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return p, g, apperrors.New(apperrors.CodeNotFound, "user not found").WithMetadata("user", userID)
	}
	if err != nil {
		return p, g, unavailable(err, "fetch personal stats")
	}
	data := snap.Data()
	p.MatchesFound = int(asInt(data[fieldMatchesFound]))
	p.NotificationsSent = int(asInt(data[fieldNotificationsSent]))
	p.LastMatchAt = asTime(data[fieldLastMatchAt])
	return p, g, nil
}

// Close closes the Firestore client.
func (s *Store) Close() error { return s.client.Close() }

func stateFrom(data map[string]any) dedup.State {
	return dedup.State{
		TotalMatches: int(asInt(data[fieldMatchesFound])),
		LastMatchAt:  asTime(data[fieldLastMatchAt]),
	}
}

// asInt reads a numeric field; Firestore returns int64 or float64.
func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func asTime(v any) *time.Time {
	if t, ok := v.(time.Time); ok && !t.IsZero() {
		return &t
	}
	return nil
}

func unavailable(err error, op string) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(err, apperrors.CodeStoreUnavailable, op)
}

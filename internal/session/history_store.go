package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const historyTTL = 24 * time.Hour

// ErrHistoryNotFound is returned when no mirrored history exists.
var ErrHistoryNotFound = errors.New("session: history not found")

// HistoryStore mirrors session transcripts to redis so they remain readable
// after the in-memory session is gone.
type HistoryStore struct {
	redis  *redis.Client
	tracer trace.Tracer
}

func NewHistoryStore(client *redis.Client, tracer trace.Tracer) *HistoryStore {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("telehealth.internal.session.history")
	}
	return &HistoryStore{redis: client, tracer: tracer}
}

func (s *HistoryStore) Save(ctx context.Context, patientID string, history []Message) error {
	ctx, span := s.tracer.Start(ctx, "session.save_history")
	defer span.End()

	data, err := json.Marshal(history)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to marshal history: %w", err)
	}
	if err := s.redis.Set(ctx, historyKey(patientID), data, historyTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to persist history: %w", err)
	}
	return nil
}

func (s *HistoryStore) Load(ctx context.Context, patientID string) ([]Message, error) {
	ctx, span := s.tracer.Start(ctx, "session.load_history")
	defer span.End()

	data, err := s.redis.Get(ctx, historyKey(patientID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrHistoryNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to load history: %w", err)
	}

	var history []Message
	if err := json.Unmarshal(data, &history); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to decode history: %w", err)
	}
	return history, nil
}

func historyKey(patientID string) string {
	return fmt.Sprintf("intake:history:%s", patientID)
}

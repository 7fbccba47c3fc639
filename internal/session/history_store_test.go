package session

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestHistoryStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewHistoryStore(client, nil)
	at := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	history := []Message{
		{Role: RoleUser, Content: "[Audio Message]", At: at},
		{Role: RoleAssistant, Content: "What brings you in today?", At: at.Add(time.Second)},
	}
	if err := store.Save(context.Background(), "patient-1", history); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ttl := mr.TTL("intake:history:patient-1"); ttl != 24*time.Hour {
		t.Fatalf("expected 24h ttl, got %s", ttl)
	}

	got, err := store.Load(context.Background(), "patient-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[1].Content != "What brings you in today?" || got[0].Role != RoleUser {
		t.Fatalf("unexpected history %+v", got)
	}
}

func TestHistoryStoreMissing(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, err := NewHistoryStore(client, nil).Load(context.Background(), "nobody")
	if !errors.Is(err, ErrHistoryNotFound) {
		t.Fatalf("expected ErrHistoryNotFound, got %v", err)
	}
}

func TestHistoryStoreCorruptPayload(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	if err := mr.Set("intake:history:patient-1", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := NewHistoryStore(client, nil).Load(context.Background(), "patient-1")
	if err == nil || errors.Is(err, ErrHistoryNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

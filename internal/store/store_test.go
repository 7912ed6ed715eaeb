package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adaxion/LibMythicPlus/internal/model"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
)

func newTestRedis(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient([]string{mr.Addr()}, "", 0)
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	t.Cleanup(func() { client.Client.Close() })
	return client, mr
}

func TestActiveSessionRoundTrip(t *testing.T) {
	client, _ := newTestRedis(t)
	ctx := context.Background()

	if _, err := client.LoadActive(ctx, "Arthas-Area52"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("LoadActive on empty store: %v", err)
	}

	session := model.Session{
		Keystone:  model.Keystone{Level: 12, MapID: 399, MapName: "Ruby Life Pools"},
		Party:     []model.PartyMember{{ID: "Player-1", Name: "Arthas", Realm: "Area52"}},
		StartedAt: time.Date(2026, 10, 19, 20, 0, 0, 0, time.UTC),
		Deaths:    2,
	}
	if err := client.SaveActive(ctx, "Arthas-Area52", session); err != nil {
		t.Fatalf("SaveActive: %v", err)
	}

	got, err := client.LoadActive(ctx, "Arthas-Area52")
	if err != nil {
		t.Fatalf("LoadActive: %v", err)
	}
	if got.Keystone.Level != 12 || got.Deaths != 2 || len(got.Party) != 1 || !got.StartedAt.Equal(session.StartedAt) {
		t.Fatalf("loaded session = %+v", got)
	}
}

func TestFinishActiveMovesRunToHistory(t *testing.T) {
	client, mr := newTestRedis(t)
	ctx := context.Background()

	for level := 2; level < 2+HistoryLimit+3; level++ {
		s := model.Session{Keystone: model.Keystone{Level: level}}
		if err := client.SaveActive(ctx, "Jaina-Proudmoore", s); err != nil {
			t.Fatalf("SaveActive: %v", err)
		}
		if err := client.FinishActive(ctx, "Jaina-Proudmoore", s); err != nil {
			t.Fatalf("FinishActive: %v", err)
		}
	}

	if mr.Exists(activeKey("Jaina-Proudmoore")) {
		t.Fatal("active key survived FinishActive")
	}
	history, err := client.History(ctx, "Jaina-Proudmoore", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != HistoryLimit {
		t.Fatalf("history length = %d, want %d", len(history), HistoryLimit)
	}
	if history[0].Keystone.Level != 2+HistoryLimit+2 {
		t.Fatalf("newest entry level = %d", history[0].Keystone.Level)
	}

	recent, err := client.History(ctx, "Jaina-Proudmoore", 3)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("limited history length = %d", len(recent))
	}
}

func TestArchiveObjectName(t *testing.T) {
	id := uuid.MustParse("6f1c1f43-2c55-4a5b-9f7e-0d3c8c3f8b11")
	started := time.Date(2026, 10, 19, 22, 15, 0, 0, time.FixedZone("CEST", 2*3600))
	got := ArchiveObjectName("Thrall-Draenor", started, id)
	want := "runs/Thrall-Draenor/2026-10-19T20:15:00Z-6f1c1f43-2c55-4a5b-9f7e-0d3c8c3f8b11.json"
	if got != want {
		t.Fatalf("ArchiveObjectName = %q, want %q", got, want)
	}
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adaxion/LibMythicPlus/internal/host"
	"github.com/adaxion/LibMythicPlus/internal/host/hosttest"
	"github.com/adaxion/LibMythicPlus/internal/model"
	"github.com/adaxion/LibMythicPlus/internal/store"
	"github.com/adaxion/LibMythicPlus/internal/timer"
	"github.com/adaxion/LibMythicPlus/service"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	server  *Server
	tracker *service.Tracker
	host    *hosttest.Host
	redis   *store.RedisClient
}

func newFixture(t *testing.T, withRedis bool) fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()

	var redisClient *store.RedisClient
	opts := service.Options{Scheduler: timer.NewFake(time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC))}
	if withRedis {
		mr := miniredis.RunT(t)
		var err error
		redisClient, err = store.NewRedisClient([]string{mr.Addr()}, "", 0)
		if err != nil {
			t.Fatalf("NewRedisClient: %v", err)
		}
		t.Cleanup(func() { redisClient.Client.Close() })
		opts.Store = redisClient
	}

	h := hosttest.New()
	tracker, err := service.NewTracker(h, opts, logger)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	t.Cleanup(tracker.Close)
	if err := tracker.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return fixture{
		server:  NewServer(redisClient, tracker, nil, logger),
		tracker: tracker,
		host:    h,
		redis:   redisClient,
	}
}

func (f fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
}

func TestPing(t *testing.T) {
	f := newFixture(t, true)
	if rec := f.do(t, http.MethodGet, "/ping", ""); rec.Code != http.StatusOK {
		t.Fatalf("/ping = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/redis-ping", ""); rec.Code != http.StatusOK {
		t.Fatalf("/redis-ping = %d", rec.Code)
	}
}

func TestRedisRoutesWithoutRedis(t *testing.T) {
	f := newFixture(t, false)
	for _, path := range []string{"/redis-ping", "/history"} {
		if rec := f.do(t, http.MethodGet, path, ""); rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s = %d", path, rec.Code)
		}
	}
}

func TestSeasonReadiness(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/season", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("/season before affixes = %d", rec.Code)
	}
	var ready struct{ Ready, Available bool }
	decode(t, f.do(t, http.MethodGet, "/ready", ""), &ready)
	if ready.Ready {
		t.Fatal("should not be ready before affixes load")
	}

	if rec := f.do(t, http.MethodPost, "/host/signals", `{"type":"affix-data-updated"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("signal = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/season", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("/season = %d", rec.Code)
	}
	var season model.Season
	decode(t, rec, &season)
	if season.ID != 13 || len(season.Affixes) != 4 || len(season.Maps) != 1 {
		t.Fatalf("season = %+v", season)
	}
	decode(t, f.do(t, http.MethodGet, "/ready", ""), &ready)
	if !ready.Ready || !ready.Available {
		t.Fatalf("ready = %+v", ready)
	}
}

func TestSessionRoutes(t *testing.T) {
	f := newFixture(t, false)

	if rec := f.do(t, http.MethodGet, "/session", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("/session while idle = %d", rec.Code)
	}

	f.do(t, http.MethodPost, "/host/signals", `{"type":"affix-data-updated"}`)
	if rec := f.do(t, http.MethodPost, "/host/signals", `{"type":"activity-started"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("start signal = %d", rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/session", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("/session = %d", rec.Code)
	}
	var s model.Session
	decode(t, rec, &s)
	if s.Keystone.Level != 10 || s.Keystone.MapID != hosttest.RunMap || len(s.Party) != 2 {
		t.Fatalf("session = %+v", s)
	}

	var status struct{ Active, Present bool }
	decode(t, f.do(t, http.MethodGet, "/session/status", ""), &status)
	if !status.Active || !status.Present {
		t.Fatalf("status = %+v", status)
	}
}

func TestKeystoneAndAffixRoutes(t *testing.T) {
	f := newFixture(t, false)
	f.do(t, http.MethodPost, "/host/signals", `{"type":"affix-data-updated"}`)

	var owned model.Keystone
	rec := f.do(t, http.MethodGet, "/keystone/owned", "")
	decode(t, rec, &owned)
	if rec.Code != http.StatusOK || owned.Level != 11 || owned.MapName != "Ruby Life Pools" {
		t.Fatalf("owned = %d %+v", rec.Code, owned)
	}

	tests := []struct {
		level string
		code  int
		count int
	}{
		{"2", http.StatusOK, 1},
		{"5", http.StatusOK, 2},
		{"8", http.StatusOK, 3},
		{"12", http.StatusOK, 4},
		{"zero", http.StatusBadRequest, 0},
		{"0", http.StatusBadRequest, 0},
		{"1", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		rec := f.do(t, http.MethodGet, "/affixes/"+tt.level, "")
		if rec.Code != tt.code {
			t.Fatalf("/affixes/%s = %d", tt.level, rec.Code)
		}
		if tt.code != http.StatusOK {
			continue
		}
		var body struct{ Affixes []model.Affix }
		decode(t, rec, &body)
		if len(body.Affixes) != tt.count {
			t.Fatalf("/affixes/%s returned %d affixes, want %d", tt.level, len(body.Affixes), tt.count)
		}
	}
}

func TestHistoryListsFinishedRuns(t *testing.T) {
	f := newFixture(t, true)
	f.do(t, http.MethodPost, "/host/signals", `{"type":"affix-data-updated"}`)
	f.do(t, http.MethodPost, "/host/signals", `{"type":"activity-started"}`)
	f.do(t, http.MethodPost, "/host/signals", `{"type":"activity-completed"}`)

	rec := f.do(t, http.MethodGet, "/history?limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("/history = %d %s", rec.Code, rec.Body.String())
	}
	var body struct{ Runs []model.Session }
	decode(t, rec, &body)
	if len(body.Runs) != 1 || !body.Runs[0].IsCompleted {
		t.Fatalf("runs = %+v", body.Runs)
	}

	if rec := f.do(t, http.MethodGet, "/history?limit=500", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized limit = %d", rec.Code)
	}
}

func TestSignalValidation(t *testing.T) {
	f := newFixture(t, false)
	for _, body := range []string{`not json`, `{"type":"bogus"}`, `{"type":"system-chat-message"}`} {
		if rec := f.do(t, http.MethodPost, "/host/signals", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s = %d", body, rec.Code)
		}
	}
}

func TestSignalHostNotReady(t *testing.T) {
	f := newFixture(t, false)
	f.host.Set(func(h *hosttest.Host) { delete(h.Units, host.LocalUnit) })

	if rec := f.do(t, http.MethodPost, "/host/signals", `{"type":"activity-started"}`); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("start with unresolved player = %d", rec.Code)
	}
}

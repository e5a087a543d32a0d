package compat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

type staticLookup struct {
	caps  map[string][]string
	err   error
	calls int
	last  []string
}

func (s *staticLookup) ServiceIDsByEmployee(_ context.Context, _ string, ids []string) (map[string][]string, error) {
	s.calls++
	s.last = append([]string(nil), ids...)
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string][]string, len(ids))
	for _, id := range ids {
		if c, ok := s.caps[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func employees(ids ...string) []model.Employee {
	out := make([]model.Employee, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Employee{ID: id, Active: true})
	}
	return out
}

func TestFilterIntersection(t *testing.T) {
	caps := map[string][]string{
		"E1": {"S1"},
		"E2": {"S1", "S2"},
		"E3": {"S2"},
	}
	got := Filter([]string{"S1", "S2"}, employees("E1", "E2", "E3"), caps)
	if len(got) != 1 || got[0].ID != "E2" {
		t.Fatalf("expected only E2, got %+v", got)
	}
}

func TestFilterEmptySelectionPassesThrough(t *testing.T) {
	in := employees("E3", "E1", "E2")
	got := Filter(nil, in, nil)
	if len(got) != 3 || got[0].ID != "E3" || got[1].ID != "E1" || got[2].ID != "E2" {
		t.Fatalf("expected input unchanged, got %+v", got)
	}
}

func TestFilterEmployeeWithoutCapabilities(t *testing.T) {
	got := Filter([]string{"S1"}, employees("E1"), map[string][]string{})
	if len(got) != 0 {
		t.Fatalf("expected no employees, got %+v", got)
	}
}

func TestResolverDegradesOnLookupFailure(t *testing.T) {
	r := NewResolver(&staticLookup{err: errors.New("db down")}, quietLogger())
	in := employees("E1", "E2")
	res := r.FilterEmployees(context.Background(), "b1", []string{"S1"}, in)
	if !res.Degraded {
		t.Fatal("expected degraded result")
	}
	if len(res.Employees) != 2 {
		t.Fatalf("expected unfiltered list, got %+v", res.Employees)
	}
	if HasNoEligibleEmployees([]string{"S1"}, res) {
		t.Fatal("degraded result must not report no eligible employees")
	}
}

func TestHasNoEligibleEmployees(t *testing.T) {
	r := NewResolver(&staticLookup{caps: map[string][]string{"E1": {"S1"}}}, quietLogger())
	res := r.FilterEmployees(context.Background(), "b1", []string{"S2"}, employees("E1"))
	if !HasNoEligibleEmployees([]string{"S2"}, res) {
		t.Fatal("expected no eligible employees for S2")
	}
	if HasNoEligibleEmployees(nil, Result{}) {
		t.Fatal("empty selection is not 'no eligible employees'")
	}
}

func TestCachedLookupFallsThroughWhenRedisUnavailable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	next := &staticLookup{caps: map[string][]string{"E1": {"S1", "S2"}}}
	c := NewCachedLookup(rdb, next, time.Minute, quietLogger())
	got, err := c.ServiceIDsByEmployee(context.Background(), "b1", []string{"E1", "E2"})
	if err != nil {
		t.Fatalf("expected fall-through, got %v", err)
	}
	if next.calls != 1 {
		t.Fatalf("expected one underlying lookup, got %d", next.calls)
	}
	if len(got["E1"]) != 2 || len(got["E2"]) != 0 {
		t.Fatalf("unexpected capabilities %+v", got)
	}
}

// memRedis keeps just enough of Cmdable in memory for CachedLookup.
type memRedis struct {
	redis.Cmdable
	data map[string]string
	ttl  map[string]time.Duration
}

func newMemRedis() *memRedis {
	return &memRedis{data: map[string]string{}, ttl: map[string]time.Duration{}}
}

func (m *memRedis) MGet(_ context.Context, keys ...string) *redis.SliceCmd {
	vals := make([]interface{}, len(keys))
	for i, k := range keys {
		if v, ok := m.data[k]; ok {
			vals[i] = v
		}
	}
	return redis.NewSliceResult(vals, nil)
}

func (m *memRedis) Pipelined(_ context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	return nil, fn(&memPipe{m: m})
}

func (m *memRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

type memPipe struct {
	redis.Pipeliner
	m *memRedis
}

func (p *memPipe) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		p.m.data[key] = string(v)
	case string:
		p.m.data[key] = v
	}
	p.m.ttl[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func TestCachedLookupHitMissAndInvalidate(t *testing.T) {
	ctx := context.Background()
	rdb := newMemRedis()
	next := &staticLookup{caps: map[string][]string{"E1": {"S1", "S2"}}}
	c := NewCachedLookup(rdb, next, time.Minute, quietLogger())

	got, err := c.ServiceIDsByEmployee(ctx, "b1", []string{"E1", "E2"})
	if err != nil {
		t.Fatalf("first lookup: %v", err)
	}
	if next.calls != 1 || len(got["E1"]) != 2 || len(got["E2"]) != 0 {
		t.Fatalf("miss: calls=%d caps=%+v", next.calls, got)
	}
	if rdb.data[cacheKey("b1", "E2")] != "[]" {
		t.Fatalf("employee without capabilities should be cached as empty, got %q", rdb.data[cacheKey("b1", "E2")])
	}
	if rdb.ttl[cacheKey("b1", "E1")] != time.Minute {
		t.Fatalf("unexpected ttl %v", rdb.ttl[cacheKey("b1", "E1")])
	}

	next.caps["E1"] = []string{"S1"}
	got, err = c.ServiceIDsByEmployee(ctx, "b1", []string{"E1", "E2"})
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if next.calls != 1 {
		t.Fatalf("expected cache hit, underlying lookup called %d times", next.calls)
	}
	if len(got["E1"]) != 2 {
		t.Fatalf("hit should serve the cached list, got %+v", got["E1"])
	}

	if err := c.Invalidate(ctx, "b1", "E1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	got, err = c.ServiceIDsByEmployee(ctx, "b1", []string{"E1", "E2"})
	if err != nil {
		t.Fatalf("third lookup: %v", err)
	}
	if next.calls != 2 {
		t.Fatalf("expected one refetch, got %d calls", next.calls)
	}
	if len(next.last) != 1 || next.last[0] != "E1" {
		t.Fatalf("only the invalidated employee should be refetched, got %v", next.last)
	}
	if len(got["E1"]) != 1 || got["E1"][0] != "S1" {
		t.Fatalf("expected refreshed capabilities, got %+v", got["E1"])
	}
}

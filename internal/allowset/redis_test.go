package allowset

import (
	"context"
	"sort"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(mr.Addr(), "", 0, "")
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r, mr
}

func TestRedisInsertContains(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)
	if r.Contains(ctx, "192.0.2.1") {
		t.Fatal("empty set reported membership")
	}
	for i := 0; i < 2; i++ {
		if err := r.Insert(ctx, "192.0.2.1"); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := r.Insert(ctx, "192.0.2.2"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !r.Contains(ctx, "192.0.2.1") {
		t.Error("expected member")
	}
	if n := r.Len(ctx); n != 2 {
		t.Errorf("expected 2 members, got %d", n)
	}
	members, err := mr.Members(DefaultRedisKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Errorf("redis set has %v", members)
	}
	snap, err := r.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(snap)
	if len(snap) != 2 || snap[0] != "192.0.2.1" || snap[1] != "192.0.2.2" {
		t.Errorf("unexpected snapshot %v", snap)
	}
}

func TestRedisSharedBetweenInstances(t *testing.T) {
	ctx := context.Background()
	a, mr := newTestRedis(t)
	b, err := NewRedis(mr.Addr(), "", 0, "")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if err := a.Insert(ctx, "198.51.100.4"); err != nil {
		t.Fatal(err)
	}
	if !b.Contains(ctx, "198.51.100.4") {
		t.Error("second instance did not see the authorization")
	}
}

func TestRedisFailsClosed(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)
	mr.Close()
	if r.Contains(ctx, "192.0.2.1") {
		t.Error("expected false when redis is unreachable")
	}
	if err := r.Insert(ctx, "192.0.2.1"); err == nil {
		t.Error("expected insert error when redis is unreachable")
	}
}

func TestRedisCachedPositiveSurvivesOutage(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)
	if err := r.Insert(ctx, "192.0.2.5"); err != nil {
		t.Fatal(err)
	}
	mr.Close()
	if !r.Contains(ctx, "192.0.2.5") {
		t.Error("expected cached member to stay admitted")
	}
}

func TestNewPicksBackend(t *testing.T) {
	s, err := New(RedisConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*Memory); !ok {
		t.Errorf("expected in-memory store, got %T", s)
	}
	mr := miniredis.RunT(t)
	s, err = New(RedisConfig{Addr: mr.Addr(), Key: "test:allowed"})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, ok := s.(*Redis); !ok {
		t.Errorf("expected redis store, got %T", s)
	}
}

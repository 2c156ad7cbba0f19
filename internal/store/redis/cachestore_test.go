package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
)

func newMockStore(t *testing.T, cfg CacheConfig) (*CacheStore, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	if cfg.Prefix == "" {
		cfg.Prefix = "test:"
	}
	s := NewCacheStoreWithClient(db, cfg, nil)
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})
	return s, mock
}

func TestCacheStore_GetHitAndMiss(t *testing.T) {
	s, mock := newMockStore(t, CacheConfig{})
	ctx := context.Background()

	mock.ExpectGet("test:hist:AAPL").SetVal(`[1,2,3]`)
	mock.ExpectGet("test:hist:MSFT").RedisNil()

	b, found, err := s.Get(ctx, "hist:AAPL")
	if err != nil || !found || string(b) != `[1,2,3]` {
		t.Fatalf("hit = (%q, %v, %v)", b, found, err)
	}
	b, found, err = s.Get(ctx, "hist:MSFT")
	if err != nil || found || b != nil {
		t.Fatalf("miss = (%q, %v, %v)", b, found, err)
	}
}

func TestCacheStore_SetUsesPrefixAndTTL(t *testing.T) {
	s, mock := newMockStore(t, CacheConfig{})

	mock.ExpectSet("test:ind:AAPL:SMA:20@5m", `{"value":1}`, 30*time.Second).SetVal("OK")
	if err := s.Set(context.Background(), "ind:AAPL:SMA:20@5m", []byte(`{"value":1}`), 30*time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestCacheStore_DeletePatternScansAllPages(t *testing.T) {
	s, mock := newMockStore(t, CacheConfig{})

	mock.ExpectScan(0, "test:hist:AAPL:*", scanBatch).SetVal([]string{"test:hist:AAPL:1m", "test:hist:AAPL:5m"}, 7)
	mock.ExpectDel("test:hist:AAPL:1m", "test:hist:AAPL:5m").SetVal(2)
	mock.ExpectScan(7, "test:hist:AAPL:*", scanBatch).SetVal([]string{"test:hist:AAPL:1h"}, 0)
	mock.ExpectDel("test:hist:AAPL:1h").SetVal(1)

	n, err := s.DeletePattern(context.Background(), "hist:AAPL:*")
	if err != nil || n != 3 {
		t.Fatalf("DeletePattern = (%d, %v), want (3, nil)", n, err)
	}
}

func TestCacheStore_SetRecordsTags(t *testing.T) {
	s, mock := newMockStore(t, CacheConfig{TagTTL: time.Hour})

	mock.ExpectSet("test:hist:AAPL:1m:61:1709550000", `[]`, 5*time.Minute).SetVal("OK")
	mock.ExpectSAdd("test:tags:symbol:AAPL", "hist:AAPL:1m:61:1709550000").SetVal(1)
	mock.ExpectExpire("test:tags:symbol:AAPL", time.Hour).SetVal(true)

	err := s.Set(context.Background(), "hist:AAPL:1m:61:1709550000", []byte(`[]`), 5*time.Minute, "symbol:AAPL")
	if err != nil {
		t.Fatal(err)
	}
}

func TestCacheStore_DeleteTag(t *testing.T) {
	s, mock := newMockStore(t, CacheConfig{})
	ctx := context.Background()

	mock.ExpectSMembers("test:tags:symbol:AAPL").SetVal([]string{"hist:AAPL:a", "ind:AAPL:b"})
	mock.ExpectDel("test:hist:AAPL:a", "test:ind:AAPL:b").SetVal(1)
	mock.ExpectDel("test:tags:symbol:AAPL").SetVal(1)

	n, err := s.DeleteTag(ctx, "symbol:AAPL")
	if err != nil || n != 1 {
		t.Fatalf("DeleteTag = (%d, %v), want (1, nil)", n, err)
	}

	mock.ExpectSMembers("test:tags:symbol:MSFT").SetVal([]string{})
	mock.ExpectDel("test:tags:symbol:MSFT").SetVal(0)
	if n, err := s.DeleteTag(ctx, "symbol:MSFT"); err != nil || n != 0 {
		t.Fatalf("empty DeleteTag = (%d, %v), want (0, nil)", n, err)
	}
}

func TestCacheStore_DeleteFuncSkipsTagSets(t *testing.T) {
	s, mock := newMockStore(t, CacheConfig{})

	mock.ExpectScan(0, "test:*", scanBatch).SetVal([]string{
		"test:ind:AAPL:SMA:3@1m:4:1709550000:159",
		"test:hist:AAPL:1m:61:1709550000",
		"test:tags:symbol:AAPL",
	}, 0)
	mock.ExpectDel("test:ind:AAPL:SMA:3@1m:4:1709550000:159").SetVal(1)

	n, err := s.DeleteFunc(context.Background(), func(k string) bool {
		return k != "hist:AAPL:1m:61:1709550000"
	})
	if err != nil || n != 1 {
		t.Fatalf("DeleteFunc = (%d, %v), want (1, nil)", n, err)
	}
}

func TestCacheStore_Delete(t *testing.T) {
	s, mock := newMockStore(t, CacheConfig{})
	mock.ExpectDel("test:a", "test:b").SetVal(2)
	if err := s.Delete(context.Background(), "a", "b"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestCacheStore_BreakerOpensOnErrorsNotMisses(t *testing.T) {
	s, mock := newMockStore(t, CacheConfig{MaxFailures: 2, ResetTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		mock.ExpectGet("test:k").RedisNil()
	}
	for i := 0; i < 3; i++ {
		if _, _, err := s.Get(ctx, "k"); err != nil {
			t.Fatalf("miss %d: %v", i, err)
		}
	}
	if s.Breaker().CurrentState() != StateClosed {
		t.Fatal("misses must not trip the breaker")
	}

	down := errors.New("connection refused")
	mock.ExpectGet("test:k").SetErr(down)
	mock.ExpectGet("test:k").SetErr(down)
	for i := 0; i < 2; i++ {
		if _, _, err := s.Get(ctx, "k"); !errors.Is(err, down) {
			t.Fatalf("call %d: err = %v, want %v", i, err, down)
		}
	}

	if _, _, err := s.Get(ctx, "k"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

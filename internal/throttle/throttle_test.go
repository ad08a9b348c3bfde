package throttle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

/************ fake pgx ************/
type fakeRow struct{ scan func(dest ...any) error }

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakePool struct {
	claimErr   error
	remaining  time.Time
	remErr     error
	lastWindow any
}

func (f *fakePool) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	switch {
	case strings.Contains(sql, "RETURNING expires_at"):
		f.lastWindow = args[1]
		return fakeRow{scan: func(dest ...any) error {
			if f.claimErr != nil {
				return f.claimErr
			}
			*(dest[0].(*time.Time)) = time.Now().Add(time.Minute)
			return nil
		}}
	case strings.Contains(sql, "SELECT expires_at"):
		return fakeRow{scan: func(dest ...any) error {
			if f.remErr != nil {
				return f.remErr
			}
			*(dest[0].(*time.Time)) = f.remaining
			return nil
		}}
	default:
		return fakeRow{scan: func(dest ...any) error { return errors.New("unexpected query") }}
	}
}

func TestPG_Allow_Claims(t *testing.T) {
	fp := &fakePool{}
	l := NewPG(fp, 30*time.Second)

	ok, dur, err := l.Allow(context.Background(), Key("u", "c", "l"))
	if err != nil || !ok || dur != 0 {
		t.Fatalf("Allow claim: ok=%v dur=%v err=%v", ok, dur, err)
	}
	if fp.lastWindow != 30*time.Second {
		t.Fatalf("window not passed as interval: %v", fp.lastWindow)
	}
}

func TestPG_Allow_Throttled(t *testing.T) {
	fp := &fakePool{claimErr: pgx.ErrNoRows, remaining: time.Now().Add(10 * time.Second)}
	l := NewPG(fp, 30*time.Second)

	ok, dur, err := l.Allow(context.Background(), "k")
	if err != nil || ok || dur <= 0 || dur > 10*time.Second {
		t.Fatalf("Allow throttled: ok=%v dur=%v err=%v", ok, dur, err)
	}
}

func TestPG_Allow_DBError_Propagates(t *testing.T) {
	fp := &fakePool{claimErr: errors.New("db boom")}
	l := NewPG(fp, time.Second)

	ok, _, err := l.Allow(context.Background(), "k")
	if err == nil || ok {
		t.Fatalf("want error propagate, got ok=%v err=%v", ok, err)
	}
}

type fakeRedis struct {
	taken map[string]bool
	ttl   time.Duration
	err   error
}

func (f *fakeRedis) SetNX(_ context.Context, key string, _ any, _ time.Duration) *redis.BoolCmd {
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if f.taken[key] {
		return redis.NewBoolResult(false, nil)
	}
	f.taken[key] = true
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) PTTL(context.Context, string) *redis.DurationCmd {
	return redis.NewDurationResult(f.ttl, nil)
}

func TestRedis_Allow(t *testing.T) {
	fr := &fakeRedis{taken: map[string]bool{}, ttl: 7 * time.Second}
	l := NewRedis(fr, 30*time.Second)
	ctx := context.Background()

	ok, _, err := l.Allow(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("first allow: ok=%v err=%v", ok, err)
	}
	ok, dur, err := l.Allow(ctx, "k")
	if err != nil || ok || dur != 7*time.Second {
		t.Fatalf("second allow: ok=%v dur=%v err=%v", ok, dur, err)
	}
	if !fr.taken["lms:throttle:k"] {
		t.Fatalf("key not prefixed")
	}

	fr.err = errors.New("down")
	if _, _, err := l.Allow(ctx, "other"); err == nil {
		t.Fatalf("want redis error")
	}
}

func TestMemory_Allow(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory(10 * time.Second)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _, _ := m.Allow(ctx, "k"); !ok {
		t.Fatalf("first call must pass")
	}
	if ok, dur, _ := m.Allow(ctx, "k"); ok || dur != 10*time.Second {
		t.Fatalf("second call must be throttled, dur=%v", dur)
	}
	if ok, _, _ := m.Allow(ctx, "other"); !ok {
		t.Fatalf("keys are independent")
	}
	now = now.Add(10 * time.Second)
	if ok, _, _ := m.Allow(ctx, "k"); !ok {
		t.Fatalf("window elapsed")
	}
}

func TestNop(t *testing.T) {
	if ok, _, err := (Nop{}).Allow(context.Background(), "k"); !ok || err != nil {
		t.Fatalf("nop must allow")
	}
}

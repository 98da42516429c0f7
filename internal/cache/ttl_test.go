package cache

import (
	"errors"
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func counting(value string, calls *int) func() (string, error) {
	return func() (string, error) {
		*calls++
		return value, nil
	}
}

func TestGetReusesLiveEntry(t *testing.T) {
	clk := &clock{t: time.Unix(1000, 0)}
	c := New(time.Second).WithClock(clk.now)

	calls := 0
	for i := 0; i < 2; i++ {
		v, err := Get(c, "k", map[string]any{}, counting("v", &calls))
		if err != nil {
			t.Fatal(err)
		}
		if v != "v" {
			t.Errorf("expected 'v', got %q", v)
		}
		clk.advance(400 * time.Millisecond)
	}
	if calls != 1 {
		t.Errorf("expected resolver to run once within ttl, ran %d times", calls)
	}
}

func TestGetAfterExpiryAndClean(t *testing.T) {
	clk := &clock{t: time.Unix(1000, 0)}
	c := New(time.Second).WithClock(clk.now)

	calls := 0
	if _, err := Get(c, "k", map[string]any{}, counting("v", &calls)); err != nil {
		t.Fatal(err)
	}

	clk.advance(1500 * time.Millisecond)
	if removed := c.Clean(); removed != 1 {
		t.Errorf("expected Clean to drop 1 entry, dropped %d", removed)
	}
	if c.Len() != 0 {
		t.Errorf("expected empty cache after Clean, got %d entries", c.Len())
	}

	if _, err := Get(c, "k", map[string]any{}, counting("v", &calls)); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("expected resolver to run again after expiry, ran %d times", calls)
	}
}

func TestGetChecksExpiryBeforeClean(t *testing.T) {
	clk := &clock{t: time.Unix(1000, 0)}
	c := New(time.Second).WithClock(clk.now)

	calls := 0
	Get(c, "k", nil, counting("old", &calls))
	clk.advance(time.Second)

	v, err := Get(c, "k", nil, counting("new", &calls))
	if err != nil {
		t.Fatal(err)
	}
	if v != "new" {
		t.Errorf("expected expired entry to be refreshed on read, got %q", v)
	}
	if calls != 2 {
		t.Errorf("expected 2 resolver calls, got %d", calls)
	}
}

func TestGetDistinctArgs(t *testing.T) {
	c := New(time.Minute)

	calls := 0
	a, _ := Get(c, "page", map[string]any{"url": "a"}, counting("A", &calls))
	b, _ := Get(c, "page", map[string]any{"url": "b"}, counting("B", &calls))
	again, _ := Get(c, "page", map[string]any{"url": "a"}, counting("other", &calls))

	if a != "A" || b != "B" {
		t.Errorf("expected independent entries, got %q and %q", a, b)
	}
	if again != "A" {
		t.Errorf("expected cached value for url a, got %q", again)
	}
	if calls != 2 {
		t.Errorf("expected 2 resolver calls, got %d", calls)
	}
}

func TestKeyIsDeterministic(t *testing.T) {
	k1, err := Key("search", map[string]any{"b": 2, "a": 1, "c": []string{"x"}})
	if err != nil {
		t.Fatal(err)
	}
	k2, _ := Key("search", map[string]any{"c": []string{"x"}, "a": 1, "b": 2})
	if k1 != k2 {
		t.Errorf("expected equal keys, got %q and %q", k1, k2)
	}

	other, _ := Key("lookup", map[string]any{"b": 2, "a": 1, "c": []string{"x"}})
	if other == k1 {
		t.Error("expected name to be part of the key")
	}
}

func TestGetDoesNotCacheErrors(t *testing.T) {
	c := New(time.Minute)
	boom := errors.New("boom")

	_, err := Get(c, "k", nil, func() (int, error) { return 0, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected resolver error, got %v", err)
	}

	v, err := Get(c, "k", nil, func() (int, error) { return 7, nil })
	if err != nil {
		t.Fatal(err)
	}
	if v != 7 {
		t.Errorf("expected 7, got %d", v)
	}
}

func TestKeyRejectsUnserializableArgs(t *testing.T) {
	if _, err := Key("k", map[string]any{"fn": func() {}}); err == nil {
		t.Error("expected error for unserializable args")
	}
}

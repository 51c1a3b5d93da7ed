package ens

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type stubResolver struct {
	calls   atomic.Int32
	names   map[string]string
	err     error
	release chan struct{}
}

func (s *stubResolver) Lookup(ctx context.Context, address string) (string, bool, error) {
	s.calls.Add(1)
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
	if s.err != nil {
		return "", false, s.err
	}
	name, ok := s.names[address]
	return name, ok, nil
}

func TestResolveMemoizes(t *testing.T) {
	r := &stubResolver{names: map[string]string{"0xabc": "alice.eth"}}
	c := NewCache(r, nil, nil)

	for i := 0; i < 3; i++ {
		name, found, err := c.Resolve(context.Background(), "0xABC")
		if err != nil {
			t.Fatal(err)
		}
		if !found || name != "alice.eth" {
			t.Errorf("Resolve = %q, %v, want alice.eth", name, found)
		}
	}
	if got := r.calls.Load(); got != 1 {
		t.Errorf("lookups = %d, want 1", got)
	}
}

func TestResolveCachesNotFound(t *testing.T) {
	r := &stubResolver{names: map[string]string{}}
	c := NewCache(r, nil, nil)

	for i := 0; i < 2; i++ {
		_, found, err := c.Resolve(context.Background(), "0xdead")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Error("expected not found")
		}
	}
	if got := r.calls.Load(); got != 1 {
		t.Errorf("lookups = %d, want 1 (negative result cached)", got)
	}
	if _, found, cached := c.Peek("0xDEAD"); !cached || found {
		t.Errorf("Peek = found %v cached %v, want cached miss", found, cached)
	}
}

func TestResolveFailureNotCached(t *testing.T) {
	r := &stubResolver{err: errors.New("rpc down")}
	c := NewCache(r, nil, nil)

	if _, _, err := c.Resolve(context.Background(), "0xabc"); err == nil {
		t.Fatal("expected error")
	}
	if _, _, cached := c.Peek("0xabc"); cached {
		t.Error("failed lookup must not be cached")
	}

	r.err = nil
	r.names = map[string]string{"0xabc": "alice.eth"}
	name, found, err := c.Resolve(context.Background(), "0xabc")
	if err != nil || !found || name != "alice.eth" {
		t.Errorf("retry Resolve = %q, %v, %v", name, found, err)
	}
	if got := r.calls.Load(); got != 2 {
		t.Errorf("lookups = %d, want 2", got)
	}
}

func TestConcurrentResolveSingleLookup(t *testing.T) {
	r := &stubResolver{names: map[string]string{"0xabc": "alice.eth"}, release: make(chan struct{})}
	c := NewCache(r, nil, nil)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name, _, err := c.Resolve(context.Background(), "0xabc")
			if err != nil {
				t.Error(err)
			}
			results[i] = name
		}(i)
	}

	// Let every caller pile up on the in-flight lookup.
	time.Sleep(100 * time.Millisecond)
	close(r.release)
	wg.Wait()

	if got := r.calls.Load(); got != 1 {
		t.Errorf("lookups = %d, want exactly 1", got)
	}
	for i, name := range results {
		if name != "alice.eth" {
			t.Errorf("caller %d got %q", i, name)
		}
	}
}

func TestResolveCallerCancel(t *testing.T) {
	r := &stubResolver{names: map[string]string{"0xabc": "alice.eth"}, release: make(chan struct{})}
	c := NewCache(r, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := c.Resolve(ctx, "0xabc"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	close(r.release)

	// The abandoned lookup still completes and fills the cache.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if name, _, cached := c.Peek("0xabc"); cached {
			if name != "alice.eth" {
				t.Errorf("name = %q, want alice.eth", name)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("abandoned lookup never populated the cache")
}

type countingObserver struct {
	found, missed, failed int
}

func (o *countingObserver) ObserveLookup(found bool, err error) {
	switch {
	case err != nil:
		o.failed++
	case found:
		o.found++
	default:
		o.missed++
	}
}

func TestObserverAndReset(t *testing.T) {
	r := &stubResolver{names: map[string]string{"0xabc": "alice.eth"}}
	obs := &countingObserver{}
	c := NewCache(r, obs, nil)

	_, _, _ = c.Resolve(context.Background(), "0xabc")
	_, _, _ = c.Resolve(context.Background(), "0xdef")
	if obs.found != 1 || obs.missed != 1 {
		t.Errorf("observer = %+v, want 1 found 1 missed", obs)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}

	c.Reset()
	if c.Len() != 0 {
		t.Errorf("Len after Reset = %d", c.Len())
	}
}

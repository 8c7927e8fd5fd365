package registry

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(t *testing.T, clock *fakeClock, opts ...Option) (*Registry, string) {
	t.Helper()
	root := t.TempDir()
	opts = append([]Option{
		WithClock(clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	return New(root, 30*time.Minute, opts...), root
}

func stageFile(t *testing.T, root, name string) string {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.WriteFile(path, []byte("audio"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestPutResolveRoundTrip(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	reg, root := newTestRegistry(t, clock)
	path := stageFile(t, root, "upload-1.wav")

	handle, err := reg.Put(path)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if handle == "" || handle == path || handle == "upload-1.wav" {
		t.Fatalf("handle must be opaque, got %q", handle)
	}

	clock.Advance(29 * time.Minute)
	got, err := reg.Resolve(handle)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != path {
		t.Fatalf("Resolve() = %q, want %q", got, path)
	}

	reg.Remove(handle)
	if _, err := reg.Resolve(handle); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after Remove, got %v", err)
	}
	reg.Remove(handle)
}

func TestPutRejectsPathOutsideRoot(t *testing.T) {
	reg, _ := newTestRegistry(t, &fakeClock{now: time.Now()})
	outside := stageFile(t, t.TempDir(), "elsewhere.wav")

	if _, err := reg.Put(outside); err == nil {
		t.Fatal("expected Put to reject a path outside the root")
	}
	if reg.Len() != 0 {
		t.Fatalf("expected no entries, got %d", reg.Len())
	}
}

func TestPutRegeneratesCollidingHandle(t *testing.T) {
	handles := []string{"same", "same", "other"}
	next := 0
	gen := func() string {
		h := handles[next]
		next++
		return h
	}
	reg, root := newTestRegistry(t, &fakeClock{now: time.Now()}, WithHandleGenerator(gen))

	first, err := reg.Put(stageFile(t, root, "a.wav"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	second, err := reg.Put(stageFile(t, root, "b.wav"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if first != "same" || second != "other" {
		t.Fatalf("unexpected handles: %q %q", first, second)
	}
}

func TestSweepHonorsTTLBoundary(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	reg, root := newTestRegistry(t, clock)
	start := clock.Now()

	oldPath := stageFile(t, root, "old.wav")
	oldHandle, _ := reg.Put(oldPath)
	clock.Advance(10 * time.Minute)
	youngPath := stageFile(t, root, "young.wav")
	youngHandle, _ := reg.Put(youngPath)

	if removed := reg.Sweep(start.Add(30*time.Minute-time.Nanosecond), 30*time.Minute); removed != 0 {
		t.Fatalf("expected nothing removed before TTL, got %d", removed)
	}
	if removed := reg.Sweep(start.Add(30*time.Minute), 30*time.Minute); removed != 1 {
		t.Fatalf("expected exactly the old entry removed at TTL, got %d", removed)
	}

	if _, err := reg.Resolve(oldHandle); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected old handle gone, got %v", err)
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Fatalf("expected old file deleted, stat err = %v", err)
	}
	if _, err := reg.Resolve(youngHandle); err != nil {
		t.Fatalf("young handle should survive: %v", err)
	}
	if _, err := os.Stat(youngPath); err != nil {
		t.Fatalf("young file should survive: %v", err)
	}
}

func TestPutSweepsExpiredEntries(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var swept int
	reg, root := newTestRegistry(t, clock, WithSweepObserver(func(n int) { swept += n }))

	stale, _ := reg.Put(stageFile(t, root, "stale.wav"))
	clock.Advance(31 * time.Minute)
	fresh, _ := reg.Put(stageFile(t, root, "fresh.wav"))

	if _, err := reg.Resolve(stale); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected stale handle swept on Put, got %v", err)
	}
	if _, err := reg.Resolve(fresh); err != nil {
		t.Fatalf("fresh handle missing: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected sweep observer to see 1, got %d", swept)
	}
}

func TestSweepToleratesRemoveFailure(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	reg, root := newTestRegistry(t, clock, WithRemover(func(string) error {
		return errors.New("permission denied")
	}))
	handle, _ := reg.Put(stageFile(t, root, "locked.wav"))

	if removed := reg.Sweep(clock.Now().Add(time.Hour), 30*time.Minute); removed != 1 {
		t.Fatalf("expected entry removed despite file error, got %d", removed)
	}
	if _, err := reg.Resolve(handle); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected handle gone, got %v", err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	reg, root := newTestRegistry(t, clock)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := filepath.Join(root, fmt.Sprintf("f-%d.wav", i))
			if err := os.WriteFile(path, nil, 0o600); err != nil {
				t.Errorf("WriteFile: %v", err)
				return
			}
			handle, err := reg.Put(path)
			if err != nil {
				t.Errorf("Put: %v", err)
				return
			}
			if got, err := reg.Resolve(handle); err != nil || got != path {
				t.Errorf("Resolve(%s) = %q, %v", handle, got, err)
			}
			reg.Sweep(clock.Now(), 30*time.Minute)
			reg.Remove(handle)
		}(i)
	}
	wg.Wait()

	if reg.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", reg.Len())
	}
}

func TestSweepSkipsDeleteWhenPathEscapesRoot(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var removed []string
	reg, root := newTestRegistry(t, clock, WithRemover(func(path string) error {
		removed = append(removed, path)
		return os.Remove(path)
	}))

	path := stageFile(t, root, "upload-1.wav")
	handle, err := reg.Put(path)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	secret := stageFile(t, t.TempDir(), "secret.wav")
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := os.Symlink(secret, path); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	if n := reg.Sweep(clock.Now().Add(time.Hour), 30*time.Minute); n != 1 {
		t.Fatalf("expected the entry dropped, got %d", n)
	}
	if _, err := reg.Resolve(handle); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected handle gone, got %v", err)
	}
	if len(removed) != 0 {
		t.Fatalf("nothing may be deleted for an escaping path, removed %v", removed)
	}
	if _, err := os.Stat(secret); err != nil {
		t.Fatalf("outside file must not be touched: %v", err)
	}
}

func TestSweepDropsEntryWhoseFileIsGone(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var removed int
	reg, root := newTestRegistry(t, clock, WithRemover(func(string) error {
		removed++
		return nil
	}))
	path := stageFile(t, root, "gone.wav")
	handle, _ := reg.Put(path)
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if n := reg.Sweep(clock.Now().Add(time.Hour), 30*time.Minute); n != 1 {
		t.Fatalf("expected the entry dropped, got %d", n)
	}
	if _, err := reg.Resolve(handle); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected handle gone, got %v", err)
	}
	if removed != 0 {
		t.Fatalf("remover should not run for a missing file, ran %d times", removed)
	}
}

func TestNewHandleIs128BitHex(t *testing.T) {
	hexHandle := regexp.MustCompile(`^[0-9a-f]{32}$`)
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		h := NewHandle()
		if !hexHandle.MatchString(h) {
			t.Fatalf("unexpected handle format: %q", h)
		}
		if _, dup := seen[h]; dup {
			t.Fatalf("duplicate handle %q", h)
		}
		seen[h] = struct{}{}
	}
}

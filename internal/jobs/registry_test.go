package jobs

import (
	"errors"
	"sync"
	"testing"
	"time"

	"memegen/internal/domain"
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

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recordingRemover struct {
	mu      sync.Mutex
	removed []string
	err     error
}

func (r *recordingRemover) RemoveJobDir(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, jobID)
	return r.err
}

func TestCreateReturnsRunningJob(t *testing.T) {
	reg := NewRegistry(Options{})
	id := reg.Create()
	job, err := reg.Get(id)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if job.Status != domain.JobStatusRunning {
		t.Fatalf("status = %s, want running", job.Status)
	}
	if job.ErrorMessage != "" || job.ArtifactPath != "" || !job.CompletedAt.IsZero() {
		t.Fatalf("running job carries terminal data: %+v", job)
	}
}

func TestCreateConcurrentIDsAreUnique(t *testing.T) {
	reg := NewRegistry(Options{})
	const n = 200
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- reg.Create()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{}, n)
	for id := range ids {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
	}
	if reg.Len() != n {
		t.Fatalf("Len = %d, want %d", reg.Len(), n)
	}
}

func TestGetUnknownJob(t *testing.T) {
	reg := NewRegistry(Options{})
	if _, err := reg.Get("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTransitionsAreWriteOnce(t *testing.T) {
	reg := NewRegistry(Options{})

	done := reg.Create()
	if err := reg.Complete(done, "/tmp/a/meme_a.jpg"); err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if err := reg.Fail(done, "late failure"); !errors.Is(err, domain.ErrJobTerminal) {
		t.Fatalf("Fail after Complete err = %v, want ErrJobTerminal", err)
	}
	if err := reg.Complete(done, "/tmp/other.jpg"); !errors.Is(err, domain.ErrJobTerminal) {
		t.Fatalf("second Complete err = %v, want ErrJobTerminal", err)
	}
	first, _ := reg.Get(done)
	second, _ := reg.Get(done)
	if first != second {
		t.Fatalf("terminal job changed between reads: %+v vs %+v", first, second)
	}
	if first.Status != domain.JobStatusCompleted || first.ArtifactPath != "/tmp/a/meme_a.jpg" || first.ErrorMessage != "" {
		t.Fatalf("unexpected completed job: %+v", first)
	}
	if first.CompletedAt.IsZero() {
		t.Fatalf("CompletedAt not set")
	}

	failed := reg.Create()
	if err := reg.Fail(failed, "boom"); err != nil {
		t.Fatalf("Fail error: %v", err)
	}
	if err := reg.Complete(failed, "/tmp/x.jpg"); !errors.Is(err, domain.ErrJobTerminal) {
		t.Fatalf("Complete after Fail err = %v, want ErrJobTerminal", err)
	}
	job, _ := reg.Get(failed)
	if job.Status != domain.JobStatusFailed || job.ErrorMessage != "boom" || job.ArtifactPath != "" {
		t.Fatalf("unexpected failed job: %+v", job)
	}
}

func TestFailUsesFallbackMessage(t *testing.T) {
	reg := NewRegistry(Options{})
	id := reg.Create()
	if err := reg.Fail(id, ""); err != nil {
		t.Fatalf("Fail error: %v", err)
	}
	job, _ := reg.Get(id)
	if job.ErrorMessage == "" {
		t.Fatalf("expected non-empty error message")
	}
}

func TestTransitionUnknownJob(t *testing.T) {
	reg := NewRegistry(Options{})
	if err := reg.Complete("missing", "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Complete err = %v, want ErrNotFound", err)
	}
	if err := reg.Fail("missing", "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Fail err = %v, want ErrNotFound", err)
	}
}

func TestReapOnceHonorsGrace(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	remover := &recordingRemover{}
	reg := NewRegistry(Options{Remover: remover, Clock: clock.Now})
	grace := 3600 * time.Second

	old := reg.Create()
	if err := reg.Complete(old, "old.jpg"); err != nil {
		t.Fatalf("Complete old: %v", err)
	}

	clock.Set(start.Add(2 * time.Second))
	fresh := reg.Create()
	if err := reg.Complete(fresh, "fresh.jpg"); err != nil {
		t.Fatalf("Complete fresh: %v", err)
	}
	running := reg.Create()

	// old finished grace+1s ago, fresh grace-1s ago.
	now := start.Add(grace + time.Second)
	removed := reg.ReapOnce(now, grace)

	if len(removed) != 1 || removed[0] != old {
		t.Fatalf("removed = %v, want [%s]", removed, old)
	}
	if _, err := reg.Get(old); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("old job still present: %v", err)
	}
	if _, err := reg.Get(fresh); err != nil {
		t.Fatalf("fresh job reaped: %v", err)
	}
	if _, err := reg.Get(running); err != nil {
		t.Fatalf("running job reaped: %v", err)
	}
	if len(remover.removed) != 1 || remover.removed[0] != old {
		t.Fatalf("remover called with %v, want [%s]", remover.removed, old)
	}
}

func TestReapOnceRemovesFailedJobsAndIgnoresRemoverErrors(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	remover := &recordingRemover{err: errors.New("disk gone")}
	reg := NewRegistry(Options{Remover: remover, Clock: clock.Now})

	id := reg.Create()
	if err := reg.Fail(id, "nope"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	removed := reg.ReapOnce(start.Add(2*time.Minute), time.Minute)
	if len(removed) != 1 {
		t.Fatalf("removed = %v, want one id", removed)
	}
	if reg.Len() != 0 {
		t.Fatalf("Len = %d, want 0", reg.Len())
	}
}

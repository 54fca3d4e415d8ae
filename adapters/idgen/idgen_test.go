package idgen_test

import (
	"regexp"
	"sync"
	"testing"

	"github.com/pinglue/pg-repo-sub000/adapters/idgen"
)

func TestUUID_New(t *testing.T) {
	g := idgen.UUID{}

	id := g.New()
	uuidRegex := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	if !uuidRegex.MatchString(id) {
		t.Errorf("ID %s doesn't match UUID v4 format", id)
	}
	if g.New() == id {
		t.Error("two calls returned the same id")
	}
}

func TestSequential(t *testing.T) {
	g := idgen.NewSequential("run-")

	for _, want := range []string{"run-1", "run-2", "run-3"} {
		if got := g.New(); got != want {
			t.Errorf("New() = %q, want %q", got, want)
		}
	}

	g.Reset()
	if got := g.New(); got != "run-1" {
		t.Errorf("after Reset, New() = %q, want run-1", got)
	}
}

func TestSequential_Concurrent(t *testing.T) {
	g := idgen.NewSequential("")

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := g.New()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != 100 {
		t.Errorf("got %d unique ids, want 100", len(seen))
	}
}

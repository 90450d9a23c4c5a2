package trust

import (
	"errors"
	"sync"
	"testing"

	"trustkv/pkg/affinity"
	"trustkv/pkg/dberrors"
	"trustkv/pkg/pool"
)

func newOwners(t *testing.T, n int) []*pool.Owner {
	t.Helper()
	p, err := pool.Configure(n+1, affinity.Compact, pool.WithCores(n+1), pool.WithPinner(affinity.Noop()))
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	t.Cleanup(p.Close)

	owners := make([]*pool.Owner, n)
	for i := range owners {
		o, err := p.Worker(i + 1).BecomeOwner()
		if err != nil {
			t.Fatalf("BecomeOwner failed: %v", err)
		}
		owners[i] = o
	}
	return owners
}

type counter struct {
	n int
}

func TestApply_ReturnsResult(t *testing.T) {
	owners := newOwners(t, 1)
	tr, err := Entrust(owners[0], &counter{})
	if err != nil {
		t.Fatalf("Entrust failed: %v", err)
	}

	for i := 1; i <= 10; i++ {
		got := Apply(tr, func(c *counter) int {
			c.n++
			return c.n
		})
		if got != i {
			t.Fatalf("Apply #%d returned %d", i, got)
		}
	}
}

func TestEntrust_OneCellPerOwner(t *testing.T) {
	owners := newOwners(t, 1)
	if _, err := Entrust(owners[0], 1); err != nil {
		t.Fatalf("first Entrust failed: %v", err)
	}
	if _, err := Entrust(owners[0], 2); !errors.Is(err, dberrors.ErrRoleTaken) {
		t.Fatalf("second Entrust: expected ErrRoleTaken, got %v", err)
	}
}

func TestLazyApply_PreservesSubmissionOrder(t *testing.T) {
	owners := newOwners(t, 1)
	tr, err := Entrust(owners[0], &[]int{})
	if err != nil {
		t.Fatalf("Entrust failed: %v", err)
	}

	pending := make([]*Pending[int], 0, 200)
	for i := 0; i < 200; i++ {
		i := i
		pending = append(pending, LazyApply(tr, func(s *[]int) int {
			*s = append(*s, i)
			return len(*s)
		}))
	}

	for i, p := range pending {
		if got := p.Join(); got != i+1 {
			t.Fatalf("closure %d observed length %d", i, got)
		}
	}
}

func TestLazyApply_CrossShardBatchCompletes(t *testing.T) {
	owners := newOwners(t, 3)
	cells := make([]Trust[*counter], len(owners))
	for i, o := range owners {
		tr, err := Entrust(o, &counter{})
		if err != nil {
			t.Fatalf("Entrust failed: %v", err)
		}
		cells[i] = tr
	}

	var pending []*Pending[int]
	for i := 0; i < 30; i++ {
		pending = append(pending, LazyApply(cells[i%3], func(c *counter) int {
			c.n++
			return c.n
		}))
	}

	// join in reverse order; completion order must not matter
	for i := len(pending) - 1; i >= 0; i-- {
		want := i/3 + 1
		if got := pending[i].Join(); got != want {
			t.Fatalf("op %d: got %d, want %d", i, got, want)
		}
	}
}

func TestApply_ConcurrentCallersAreSerialized(t *testing.T) {
	owners := newOwners(t, 1)
	tr, err := Entrust(owners[0], &counter{})
	if err != nil {
		t.Fatalf("Entrust failed: %v", err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				Apply(tr, func(c *counter) struct{} {
					c.n++
					return struct{}{}
				})
			}
		}()
	}
	wg.Wait()

	if got := Apply(tr, func(c *counter) int { return c.n }); got != 8*500 {
		t.Fatalf("counter = %d, want %d", got, 8*500)
	}
}

func TestPending_JoinTwicePanics(t *testing.T) {
	owners := newOwners(t, 1)
	tr, _ := Entrust(owners[0], 0)
	p := LazyApply(tr, func(v int) int { return v })
	p.Join()

	defer func() {
		if recover() == nil {
			t.Fatal("second Join must panic")
		}
	}()
	p.Join()
}

func TestApply_ClosurePanicReachesCaller(t *testing.T) {
	owners := newOwners(t, 1)
	tr, _ := Entrust(owners[0], 0)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic from Apply")
			}
		}()
		Apply(tr, func(int) int { panic("owner side") })
	}()

	// the owner survives and keeps serving
	if got := Apply(tr, func(v int) int { return v + 1 }); got != 1 {
		t.Fatalf("Apply after panic = %d", got)
	}
}

func TestPending_JoinAfterPoolClose(t *testing.T) {
	p, err := pool.Configure(2, affinity.Compact, pool.WithCores(2), pool.WithPinner(affinity.Noop()))
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	owner, err := p.Worker(1).BecomeOwner()
	if err != nil {
		t.Fatalf("BecomeOwner failed: %v", err)
	}
	tr, err := Entrust(owner, 0)
	if err != nil {
		t.Fatalf("Entrust failed: %v", err)
	}
	p.Close()

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, dberrors.ErrClosed) {
			t.Fatalf("expected ErrClosed panic, got %v", r)
		}
	}()
	Apply(tr, func(v int) int { return v })
}

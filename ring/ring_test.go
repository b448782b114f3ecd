package ring

import (
	"testing"

	"github.com/ratnadeepb/vdataplane/shm"
)

func withScratchDir(t *testing.T) {
	t.Helper()
	shm.SetBaseDir(t.TempDir())
}

func TestCreateRejectsNonPowerOfTwo(t *testing.T) {
	withScratchDir(t)
	if _, err := Create("ring-a", 10); err != ErrNotPowerOfTwo {
		t.Fatalf("Create(10) = %v, want ErrNotPowerOfTwo", err)
	}
}

func TestEnqueueDequeueOrderPreserved(t *testing.T) {
	withScratchDir(t)
	r, err := Create("ring-b", 8)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer r.Close()

	for i := uint64(0); i < 8; i++ {
		if err := r.EnqueueOne(i); err != nil {
			t.Fatalf("EnqueueOne(%d): %v", i, err)
		}
	}
	if err := r.EnqueueOne(99); err != ErrNoSpace {
		t.Fatalf("EnqueueOne on full ring = %v, want ErrNoSpace", err)
	}
	for i := uint64(0); i < 8; i++ {
		v, err := r.DequeueOne()
		if err != nil {
			t.Fatalf("DequeueOne: %v", err)
		}
		if v != i {
			t.Fatalf("DequeueOne() = %d, want %d", v, i)
		}
	}
	if _, err := r.DequeueOne(); err != ErrNoEntries {
		t.Fatalf("DequeueOne on empty ring = %v, want ErrNoEntries", err)
	}
}

func TestEnqueueBulkAllOrNothing(t *testing.T) {
	withScratchDir(t)
	r, err := Create("ring-c", 4)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer r.Close()

	if err := r.EnqueueBulk([]uint64{1, 2, 3, 4, 5}); err != ErrNoSpace {
		t.Fatalf("EnqueueBulk(5) on capacity-4 ring = %v, want ErrNoSpace", err)
	}
	if r.Len() != 0 {
		t.Fatalf("Len() after rejected EnqueueBulk = %d, want 0", r.Len())
	}
	if err := r.EnqueueBulk([]uint64{1, 2, 3}); err != nil {
		t.Fatalf("EnqueueBulk(3): %v", err)
	}
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}
}

func TestDequeueBurstBestEffort(t *testing.T) {
	withScratchDir(t)
	r, err := Create("ring-d", 8)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer r.Close()

	_ = r.EnqueueBulk([]uint64{10, 20, 30})
	got := r.DequeueBurst(10)
	if len(got) != 3 {
		t.Fatalf("DequeueBurst(10) returned %d values, want 3", len(got))
	}
	want := []uint64{10, 20, 30}
	for i, v := range want {
		if got[i] != v {
			t.Fatalf("DequeueBurst()[%d] = %d, want %d", i, got[i], v)
		}
	}
	if r.Len() != 0 {
		t.Fatalf("Len() after draining = %d, want 0", r.Len())
	}
}

func TestBindProducerConsumerExactlyOnce(t *testing.T) {
	withScratchDir(t)
	r, err := Create("ring-e", 4)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer r.Close()

	if err := r.BindProducer(); err != nil {
		t.Fatalf("first BindProducer: %v", err)
	}
	if err := r.BindProducer(); err != ErrAlreadyBound {
		t.Fatalf("second BindProducer = %v, want ErrAlreadyBound", err)
	}
	if err := r.BindConsumer(); err != nil {
		t.Fatalf("first BindConsumer: %v", err)
	}
	if err := r.BindConsumer(); err != ErrAlreadyBound {
		t.Fatalf("second BindConsumer = %v, want ErrAlreadyBound", err)
	}
}

func TestNameFormatsChannelConvention(t *testing.T) {
	if got, want := Name("C2E", 7), "C2E-7"; got != want {
		t.Fatalf("Name(C2E, 7) = %q, want %q", got, want)
	}
	if got, want := Name("E2C", 0), "E2C-0"; got != want {
		t.Fatalf("Name(E2C, 0) = %q, want %q", got, want)
	}
}

func TestOpenSeesProducerWrites(t *testing.T) {
	withScratchDir(t)
	r, err := Create("ring-f", 4)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer r.Close()
	if err := r.EnqueueOne(42); err != nil {
		t.Fatalf("EnqueueOne: %v", err)
	}

	r2, err := Open("ring-f", 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r2.Close()

	v, err := r2.DequeueOne()
	if err != nil {
		t.Fatalf("DequeueOne via second handle: %v", err)
	}
	if v != 42 {
		t.Fatalf("DequeueOne() via second handle = %d, want 42", v)
	}
}

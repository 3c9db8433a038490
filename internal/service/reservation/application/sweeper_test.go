package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nexus-wms/internal/service/reservation/domain"
	"nexus-wms/internal/service/reservation/infrastructure/memory"
)

func reserveWithTTL(t *testing.T, f *fixture, ref string, minutes int) int64 {
	t.Helper()
	req := reserveReq(ref, ReserveLine{Item: 7, Qty: 1})
	req.TTLMinutes = &minutes
	resp, err := f.svc.Reserve(context.Background(), req)
	if err != nil {
		t.Fatalf("Reserve %s: %v", ref, err)
	}
	return resp.ReservationID
}

func fixedSettings(batch, maxBatches int) func() SweepSettings {
	return func() SweepSettings {
		return SweepSettings{Interval: time.Millisecond, BatchSize: batch, MaxBatches: maxBatches}
	}
}

func TestSweepReleasesExpiredAndFreesStock(t *testing.T) {
	f := newFixture(t)
	f.store.SetOnHand(7, 1, 1)
	reserveWithTTL(t, f, "R-1", 1)

	if _, err := f.svc.Reserve(context.Background(), reserveReq("R-2", ReserveLine{Item: 7, Qty: 1})); err == nil {
		t.Fatal("stock should be held by R-1")
	}

	rec := NewExpiryReconciler(f.svc, fixedSettings(10, 0))
	n, err := rec.Sweep(context.Background(), f.clock.Now())
	if err != nil || n != 0 {
		t.Fatalf("sweep before expiry = %d, %v", n, err)
	}

	f.clock.Advance(2 * time.Minute)
	n, err = rec.Sweep(context.Background(), f.clock.Now())
	if err != nil || n != 1 {
		t.Fatalf("sweep after expiry = %d, %v", n, err)
	}
	head, _, _ := f.store.Snapshot(mustKey(t, "R-1"))
	if head.Status != domain.StatusExpired {
		t.Errorf("status = %s, want expired", head.Status)
	}
	if _, err := f.svc.Reserve(context.Background(), reserveReq("R-2", ReserveLine{Item: 7, Qty: 1})); err != nil {
		t.Fatalf("stock should be free after expiry: %v", err)
	}
}

func TestSweepBatches(t *testing.T) {
	f := newFixture(t)
	f.store.SetOnHand(7, 1, 100)
	for i := 0; i < 5; i++ {
		reserveWithTTL(t, f, fmt.Sprintf("R-%d", i), 1)
	}
	reserveWithTTL(t, f, "R-forever", 0)
	f.clock.Advance(time.Hour)

	n, err := NewExpiryReconciler(f.svc, fixedSettings(2, 1)).Sweep(context.Background(), f.clock.Now())
	if err != nil || n != 2 {
		t.Fatalf("single batch = %d, %v; want 2", n, err)
	}
	n, err = NewExpiryReconciler(f.svc, fixedSettings(2, 0)).Sweep(context.Background(), f.clock.Now())
	if err != nil || n != 3 {
		t.Fatalf("unbounded = %d, %v; want 3", n, err)
	}
	head, _, _ := f.store.Snapshot(mustKey(t, "R-forever"))
	if head.Status != domain.StatusOpen {
		t.Errorf("reservation without expiry must stay open, got %s", head.Status)
	}
}

func TestReleaseExpiredConvergesUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	f.store.SetOnHand(7, 1, 10)
	id := reserveWithTTL(t, f, "R-1", 1)
	f.clock.Advance(time.Hour)
	rec := NewExpiryReconciler(f.svc, fixedSettings(10, 0))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := rec.ReleaseExpired(context.Background(), id, f.clock.Now())
			if err != nil {
				t.Errorf("ReleaseExpired: %v", err)
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("wins = %d, want 1", wins.Load())
	}

	var expired int
	for _, e := range f.pub.types() {
		if e == domain.EventExpired {
			expired++
		}
	}
	if expired != 1 {
		t.Errorf("expired events = %d, want 1", expired)
	}
}

func TestReleaseExpiredRechecksUnderLock(t *testing.T) {
	f := newFixture(t)
	f.store.SetOnHand(7, 1, 10)
	rec := NewExpiryReconciler(f.svc, fixedSettings(10, 0))
	ctx := context.Background()

	// 候选被清理
	purged := reserveWithTTL(t, f, "R-purged", 1)
	f.store.Purge(purged)
	if ok, err := rec.ReleaseExpired(ctx, purged, f.clock.Now().Add(time.Hour)); err != nil || ok {
		t.Errorf("purged = %v, %v", ok, err)
	}

	// 候选已被消耗
	consumed := reserveWithTTL(t, f, "R-consumed", 1)
	req := keyReq("R-consumed")
	if _, err := f.svc.Consume(ctx, &req); err != nil {
		t.Fatal(err)
	}
	if ok, err := rec.ReleaseExpired(ctx, consumed, f.clock.Now().Add(time.Hour)); err != nil || ok {
		t.Errorf("consumed = %v, %v", ok, err)
	}

	// 扫描之后过期时间被延长
	extended := reserveWithTTL(t, f, "R-extended", 1)
	f.clock.Advance(2 * time.Minute)
	sweepAt := f.clock.Now()
	ids, err := f.store.FindExpired(ctx, sweepAt, 10)
	if err != nil || len(ids) != 1 || ids[0] != extended {
		t.Fatalf("FindExpired = %v, %v", ids, err)
	}
	reserveWithTTL(t, f, "R-extended", 60)
	if ok, err := rec.ReleaseExpired(ctx, extended, sweepAt); err != nil || ok {
		t.Errorf("extended = %v, %v", ok, err)
	}
	head, _, _ := f.store.Snapshot(mustKey(t, "R-extended"))
	if head.Status != domain.StatusOpen {
		t.Errorf("status = %s, want open", head.Status)
	}
}

func TestReconcilerRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.store.SetOnHand(7, 1, 10)
	reserveWithTTL(t, f, "R-1", 1)
	f.clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewExpiryReconciler(f.svc, fixedSettings(10, 0)).Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		head, _, _ := f.store.Snapshot(mustKey(t, "R-1"))
		if head.Status == domain.StatusExpired {
			break
		}
		select {
		case <-deadline:
			t.Fatal("reconciler did not release the expired reservation")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSweepStopsWhenOnlyBusyKeysRemain(t *testing.T) {
	f := newFixtureWithStore(t, []memory.Option{memory.WithLockTimeout(50 * time.Millisecond)})
	f.store.SetOnHand(7, 1, 10)
	reserveWithTTL(t, f, "R-busy", 1)
	f.clock.Advance(time.Hour)

	busy := mustKey(t, "R-busy")
	held := make(chan struct{})
	unlock := make(chan struct{})
	holderDone := make(chan error, 1)
	go func() {
		holderDone <- f.store.RunInTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
			if err := tx.Lock(ctx, busy); err != nil {
				return err
			}
			close(held)
			<-unlock
			return nil
		})
	}()
	<-held

	rec := NewExpiryReconciler(f.svc, fixedSettings(1, 0))
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := rec.Sweep(context.Background(), f.clock.Now())
		done <- result{n, err}
	}()
	select {
	case r := <-done:
		if r.err != nil || r.n != 0 {
			t.Errorf("sweep with busy key = %d, %v", r.n, r.err)
		}
	case <-time.After(2 * time.Second):
		close(unlock)
		t.Fatal("sweep kept retrying the busy key")
	}

	close(unlock)
	if err := <-holderDone; err != nil {
		t.Fatal(err)
	}
	n, err := rec.Sweep(context.Background(), f.clock.Now())
	if err != nil || n != 1 {
		t.Fatalf("sweep after unlock = %d, %v", n, err)
	}
}

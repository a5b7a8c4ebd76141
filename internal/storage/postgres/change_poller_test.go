package postgres

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
)

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger.WithField("component", "test")
}

func TestChangePoller_FirstRunStartsAtLatestRevision(t *testing.T) {
	t.Parallel()

	lister := &stubChangeLister{changes: []Change{
		{Revision: 1, Key: "cart_local_anon", Value: "[]", Origin: "other"},
		{Revision: 2, Key: "cart_local_anon", Value: `[{"productId":"p","qty":1}]`, Origin: "other"},
	}}
	dispatcher := &recordingDispatcher{}
	poller := NewChangePoller(lister, dispatcher, "self", WithPollerLogger(loggerForTests()))

	poller.ProcessOnce(context.Background())

	if got := poller.Cursor(); got != 2 {
		t.Fatalf("expected cursor 2 after first run, got %d", got)
	}
	if got := len(dispatcher.all()); got != 0 {
		t.Fatalf("history before start must not be replayed, got %d signals", got)
	}

	poller.ProcessOnce(context.Background())
	if got := len(dispatcher.all()); got != 0 {
		t.Fatalf("history before start must not be replayed on later runs, got %d signals", got)
	}
}

func TestChangePoller_PicksUpLateCommittedRevision(t *testing.T) {
	t.Parallel()

	lister := &stubChangeLister{}
	dispatcher := &recordingDispatcher{}
	poller := NewChangePoller(lister, dispatcher, "self", WithPollerLogger(loggerForTests()))
	poller.ProcessOnce(context.Background())

	// revision 2 закоммичена раньше revision 1
	lister.add(Change{Revision: 2, Key: "cart_local_7", Value: `[{"productId":"b","qty":1}]`, Origin: "other"})
	poller.ProcessOnce(context.Background())
	if got := poller.Cursor(); got != 2 {
		t.Fatalf("expected cursor 2, got %d", got)
	}

	lister.add(Change{Revision: 1, Key: "cart_local_anon", Value: `[{"productId":"a","qty":1}]`, Origin: "other"})
	poller.ProcessOnce(context.Background())
	poller.ProcessOnce(context.Background())

	signals := dispatcher.all()
	if len(signals) != 2 {
		t.Fatalf("expected each change exactly once, got %d: %+v", len(signals), signals)
	}
	if signals[0].Key != "cart_local_7" || signals[1].Key != "cart_local_anon" {
		t.Fatalf("unexpected signal order: %+v", signals)
	}
	if got := poller.Cursor(); got != 2 {
		t.Fatalf("cursor must not move back, got %d", got)
	}
}

func TestChangePoller_LookbackIsBounded(t *testing.T) {
	t.Parallel()

	lister := &stubChangeLister{}
	dispatcher := &recordingDispatcher{}
	poller := NewChangePoller(lister, dispatcher, "self", WithPollLookback(2), WithPollerLogger(loggerForTests()))
	poller.ProcessOnce(context.Background())

	lister.add(Change{Revision: 10, Key: "k10", Value: "v", Origin: "other"})
	poller.ProcessOnce(context.Background())

	// 7 вне окна (10-2), 9 внутри
	lister.add(
		Change{Revision: 7, Key: "k7", Value: "v", Origin: "other"},
		Change{Revision: 9, Key: "k9", Value: "v", Origin: "other"},
	)
	poller.ProcessOnce(context.Background())

	signals := dispatcher.all()
	if len(signals) != 2 || signals[0].Key != "k10" || signals[1].Key != "k9" {
		t.Fatalf("unexpected signals: %+v", signals)
	}
}

func TestChangePoller_DispatchesForeignChangesOnly(t *testing.T) {
	t.Parallel()

	lister := &stubChangeLister{}
	dispatcher := &recordingDispatcher{}
	poller := NewChangePoller(lister, dispatcher, "self", WithPollerLogger(loggerForTests()))
	poller.ProcessOnce(context.Background())

	lister.add(
		Change{Revision: 1, Key: "cart_local_anon", Value: `[{"productId":"a","qty":1}]`, Origin: "self"},
		Change{Revision: 2, Key: "cart_local_anon", Value: `[{"productId":"a","qty":2}]`, Origin: "other"},
		Change{Revision: 3, Key: "cart_local_anon", Deleted: true, Origin: "other"},
	)
	poller.ProcessOnce(context.Background())

	signals := dispatcher.all()
	if len(signals) != 2 {
		t.Fatalf("expected 2 signals, got %d: %+v", len(signals), signals)
	}
	first := signals[0]
	if first.Key != "cart_local_anon" || first.NewValue != `[{"productId":"a","qty":2}]` || first.Removed {
		t.Fatalf("unexpected first signal: %+v", first)
	}
	if first.OldValue != `[{"productId":"a","qty":1}]` {
		t.Fatalf("expected old value from own earlier write, got %q", first.OldValue)
	}
	if first.Origin != "other" {
		t.Fatalf("expected origin other, got %q", first.Origin)
	}
	second := signals[1]
	if !second.Removed || second.NewValue != "" || second.OldValue != `[{"productId":"a","qty":2}]` {
		t.Fatalf("unexpected removal signal: %+v", second)
	}
	if got := poller.Cursor(); got != 3 {
		t.Fatalf("expected cursor 3, got %d", got)
	}
}

func TestChangePoller_DrainsAllPages(t *testing.T) {
	t.Parallel()

	lister := &stubChangeLister{}
	dispatcher := &recordingDispatcher{}
	poller := NewChangePoller(lister, dispatcher, "self", WithPollBatchSize(2), WithPollerLogger(loggerForTests()))
	poller.ProcessOnce(context.Background())

	for rev := int64(1); rev <= 5; rev++ {
		lister.add(Change{Revision: rev, Key: "user", Value: `{"id":"7"}`, Origin: "other"})
	}
	poller.ProcessOnce(context.Background())

	if got := len(dispatcher.all()); got != 5 {
		t.Fatalf("expected 5 signals, got %d", got)
	}
	if got := lister.listCalls(); got != 3 {
		t.Fatalf("expected 3 page requests, got %d", got)
	}
}

func TestChangePoller_ErrorKeepsCursor(t *testing.T) {
	t.Parallel()

	lister := &stubChangeLister{}
	dispatcher := &recordingDispatcher{}
	poller := NewChangePoller(lister, dispatcher, "self", WithPollerLogger(loggerForTests()))

	lister.setErr(errors.New("db down"))
	poller.ProcessOnce(context.Background())
	if poller.initialized {
		t.Fatal("poller must not initialize when latest revision is unavailable")
	}

	lister.setErr(nil)
	poller.ProcessOnce(context.Background())
	lister.add(Change{Revision: 1, Key: "k", Value: "v", Origin: "other"})

	lister.setErr(errors.New("db down"))
	poller.ProcessOnce(context.Background())
	if got := poller.Cursor(); got != 0 {
		t.Fatalf("cursor must not move on error, got %d", got)
	}

	lister.setErr(nil)
	poller.ProcessOnce(context.Background())
	if got := len(dispatcher.all()); got != 1 {
		t.Fatalf("expected change to be delivered after recovery, got %d", got)
	}
}

func TestChangePoller_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	lister := &stubChangeLister{}
	poller := NewChangePoller(lister, &recordingDispatcher{}, "self",
		WithPollInterval(5*time.Millisecond),
		WithPollerLogger(loggerForTests()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		poller.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop on context cancel")
	}
	if lister.listCalls() == 0 {
		t.Fatal("expected at least one page request")
	}
}

func TestChangePoller_RunDisabledWithoutDispatcher(t *testing.T) {
	t.Parallel()

	poller := NewChangePoller(&stubChangeLister{}, nil, "self", WithPollerLogger(loggerForTests()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		poller.Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled poller must return immediately")
	}
}

type stubChangeLister struct {
	mu      sync.Mutex
	changes []Change
	err     error
	calls   int
}

func (s *stubChangeLister) add(changes ...Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, changes...)
}

func (s *stubChangeLister) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *stubChangeLister) LatestRevision(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	var latest int64
	for _, change := range s.changes {
		if change.Revision > latest {
			latest = change.Revision
		}
	}
	return latest, nil
}

func (s *stubChangeLister) ChangesSince(_ context.Context, after int64, limit int) ([]Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	ordered := append([]Change(nil), s.changes...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Revision < ordered[j].Revision })

	var out []Change
	for _, change := range ordered {
		if change.Revision > after {
			out = append(out, change)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *stubChangeLister) listCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingDispatcher struct {
	mu      sync.Mutex
	changes []domain.StorageChange
}

func (d *recordingDispatcher) Dispatch(change domain.StorageChange) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.changes = append(d.changes, change)
}

func (d *recordingDispatcher) all() []domain.StorageChange {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.StorageChange(nil), d.changes...)
}

package registry

import (
	"sync"
	"testing"
)

type recordingSender struct {
	mu  sync.Mutex
	got []any
}

func (s *recordingSender) Send(msg any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, msg)
}

func (s *recordingSender) messages() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(s.got))
	copy(out, s.got)
	return out
}

func TestAttachDetachAndOnline(t *testing.T) {
	r := New()
	sender := &recordingSender{}
	if r.IsOnline(1) {
		t.Fatal("user should not be online before attach")
	}
	r.Attach(1, sender)
	if !r.IsOnline(1) {
		t.Fatal("user should be online after attach")
	}
	if r.Count() != 1 {
		t.Fatalf("Count = %d, want 1", r.Count())
	}
	r.Detach(1, sender)
	if r.IsOnline(1) {
		t.Fatal("user should be offline after detach")
	}
}

func TestSecondLoginDisplacesFirstSession(t *testing.T) {
	r := New()
	first := &recordingSender{}
	second := &recordingSender{}

	r.Attach(1, first)
	r.Attach(1, second) // simulates a second concurrent login

	s, ok := r.Get(1)
	if !ok || s.Sender != second {
		t.Fatal("second attach should win the registry slot")
	}

	// The displaced (first) connection's own detach must not evict the
	// newer session — it no longer owns the slot.
	r.Detach(1, first)
	if !r.IsOnline(1) {
		t.Fatal("stale detach from displaced session should not evict the new one")
	}
}

func TestSendToOfflineUserIsNoop(t *testing.T) {
	r := New()
	r.SendTo(999, "hello") // must not panic
}

func TestSendToManySnapshotsUnderLock(t *testing.T) {
	r := New()
	a, b, c := &recordingSender{}, &recordingSender{}, &recordingSender{}
	r.Attach(1, a)
	r.Attach(2, b)
	// user 3 left offline intentionally

	r.SendToMany([]int64{1, 2, 3}, "ping")

	if len(a.messages()) != 1 || len(b.messages()) != 1 {
		t.Fatalf("expected both online users to receive exactly one message: a=%v b=%v", a.messages(), b.messages())
	}
	if len(c.messages()) != 0 {
		t.Fatal("offline user's sender should never be touched")
	}
}

func TestBroadcastAllReachesEveryAttachedSession(t *testing.T) {
	r := New()
	a, b := &recordingSender{}, &recordingSender{}
	r.Attach(1, a)
	r.Attach(2, b)

	r.BroadcastAll("refresh")

	if len(a.messages()) != 1 || len(b.messages()) != 1 {
		t.Fatalf("expected both sessions to receive the broadcast: a=%v b=%v", a.messages(), b.messages())
	}
}

func TestWatchNotifiesOnAttachAndDetach(t *testing.T) {
	r := New()
	sender := &recordingSender{}

	var mu sync.Mutex
	var events []string
	unsubscribe := r.Watch(func(event string, userCount int) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	})
	defer unsubscribe()

	r.Attach(1, sender)
	r.Detach(1, sender)

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[0] != "attach" || events[1] != "detach" {
		t.Fatalf("events = %v, want [attach detach]", events)
	}
}

func TestWatchUnsubscribeStopsNotifications(t *testing.T) {
	r := New()
	sender := &recordingSender{}

	var mu sync.Mutex
	count := 0
	unsubscribe := r.Watch(func(string, int) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	unsubscribe()

	r.Attach(1, sender)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Fatalf("count = %d, want 0 after unsubscribe", count)
	}
}

func TestOnlineUserIDsSorted(t *testing.T) {
	r := New()
	r.Attach(30, &recordingSender{})
	r.Attach(10, &recordingSender{})
	r.Attach(20, &recordingSender{})

	ids := r.OnlineUserIDs()
	want := []int64{10, 20, 30}
	if len(ids) != len(want) {
		t.Fatalf("len = %d, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
}

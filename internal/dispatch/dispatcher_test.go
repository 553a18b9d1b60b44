package dispatch

import (
	"errors"
	"testing"
	"time"
)

type fakeResolver map[string][]int64

func (f fakeResolver) ResolveTenderIDs(extKey string) ([]int64, error) {
	return f[extKey], nil
}

type queueKey struct {
	tenderID int64
	extKey   string
}

type recordingQueue struct {
	items map[queueKey]time.Time
}

func newRecordingQueue() *recordingQueue {
	return &recordingQueue{items: make(map[queueKey]time.Time)}
}

func (q *recordingQueue) Enqueue(tenderID int64, extKey string, at time.Time) error {
	key := queueKey{tenderID, extKey}
	if _, ok := q.items[key]; ok {
		return nil // coalesce
	}
	q.items[key] = at
	return nil
}

func TestNotifyKeymapRunsSyncHandlers(t *testing.T) {
	d := New(fakeResolver{}, newRecordingQueue())

	var got []int64
	d.Subscribe(KeymapWrite, func(tenderID int64, extKey string) error {
		if extKey != "X1" {
			t.Errorf("extKey = %q, want X1", extKey)
		}
		got = append(got, tenderID)
		return nil
	})

	if err := d.NotifyKeymap(7, "X1"); err != nil {
		t.Fatalf("NotifyKeymap: %v", err)
	}
	if len(got) != 1 || got[0] != 7 {
		t.Errorf("handler invocations = %v, want [7]", got)
	}
}

func TestNotifyKeymapPropagatesHandlerError(t *testing.T) {
	d := New(fakeResolver{}, newRecordingQueue())
	boom := errors.New("boom")
	d.Subscribe(KeymapWrite, func(int64, string) error { return boom })

	err := d.NotifyKeymap(1, "X1")
	if !errors.Is(err, boom) {
		t.Errorf("NotifyKeymap error = %v, want wrapped boom", err)
	}
}

func TestNotifyCalendarFansOutToMappedTenders(t *testing.T) {
	d := New(fakeResolver{"X1": {3, 5}}, newRecordingQueue())

	var got []int64
	d.Subscribe(CalendarWrite, func(tenderID int64, _ string) error {
		got = append(got, tenderID)
		return nil
	})

	if err := d.NotifyCalendar("X1"); err != nil {
		t.Fatalf("NotifyCalendar: %v", err)
	}
	if len(got) != 2 || got[0] != 3 || got[1] != 5 {
		t.Errorf("handler invocations = %v, want [3 5]", got)
	}
}

func TestNotifyCalendarUnmappedKeyIsNoop(t *testing.T) {
	q := newRecordingQueue()
	d := New(fakeResolver{}, q)
	d.Subscribe(CalendarWrite, func(int64, string) error {
		t.Error("handler must not run for an unmapped key")
		return nil
	})
	d.SubscribeQueued(KeymapWrite)

	if err := d.NotifyCalendar("NOPE"); err != nil {
		t.Fatalf("NotifyCalendar: %v", err)
	}
	if len(q.items) != 0 {
		t.Errorf("queue has %d items, want 0", len(q.items))
	}
}

func TestSubscribeQueuedDefersToQueue(t *testing.T) {
	q := newRecordingQueue()
	d := New(fakeResolver{"X1": {3, 5}}, q)
	d.SubscribeQueued(CalendarWrite)
	d.Subscribe(CalendarWrite, func(int64, string) error {
		t.Error("sync handler must not run when the event is queued")
		return nil
	})

	if err := d.NotifyCalendar("X1"); err != nil {
		t.Fatalf("NotifyCalendar: %v", err)
	}
	if len(q.items) != 2 {
		t.Errorf("queued items = %d, want 2", len(q.items))
	}
}

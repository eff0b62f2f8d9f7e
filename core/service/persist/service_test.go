package persist

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"mailwatch/core/domain"
	"mailwatch/core/port/out"
	"mailwatch/pkg/apperr"
)

type fakeStore struct {
	messages        map[string]int64
	classifications map[int64]*domain.Classification
	nextID          int64
	failMessage     bool
	failClass       bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages:        map[string]int64{},
		classifications: map[int64]*domain.Classification{},
	}
}

func (f *fakeStore) UpsertMessage(ctx context.Context, m *domain.Message) (int64, error) {
	if f.failMessage {
		return 0, errors.New("db down")
	}
	if id, ok := f.messages[m.IdempKey]; ok {
		return id, nil
	}
	f.nextID++
	f.messages[m.IdempKey] = f.nextID
	return f.nextID, nil
}

func (f *fakeStore) UpsertClassification(ctx context.Context, c *domain.Classification) error {
	if f.failClass {
		return errors.New("db down")
	}
	f.classifications[c.MessageID] = c
	return nil
}

func (f *fakeStore) ListMessages(ctx context.Context, mailboxID string, limit int) ([]*out.MessageWithClassification, error) {
	return nil, nil
}

func classifiedEvent() *domain.ClassifiedEmailEvent {
	return &domain.ClassifiedEmailEvent{
		TraceID:    "t1",
		MailboxID:  "m",
		IdempKey:   "k1",
		BodyHash:   "h1",
		Subject:    "s",
		ReceivedTS: 1700000000,
		Class:      "subs",
		Confidence: 0.8,
		WatcherID:  "w1",
	}
}

func TestPersistWritesMessageThenClassification(t *testing.T) {
	store := newFakeStore()
	svc := New(store, zerolog.Nop())

	if err := svc.Persist(context.Background(), classifiedEvent()); err != nil {
		t.Fatal(err)
	}

	id, ok := store.messages["k1"]
	if !ok {
		t.Fatal("message not written")
	}
	cls := store.classifications[id]
	if cls == nil || cls.Class != "subs" || cls.WatcherID != "w1" {
		t.Errorf("classification = %+v", cls)
	}
}

func TestPersistReplaySameIdempKeyKeepsOneMessage(t *testing.T) {
	store := newFakeStore()
	svc := New(store, zerolog.Nop())
	ctx := context.Background()

	if err := svc.Persist(ctx, classifiedEvent()); err != nil {
		t.Fatal(err)
	}
	ev := classifiedEvent()
	ev.Confidence = 0.95
	if err := svc.Persist(ctx, ev); err != nil {
		t.Fatal(err)
	}

	if len(store.messages) != 1 {
		t.Errorf("messages = %d, want 1", len(store.messages))
	}
	id := store.messages["k1"]
	if store.classifications[id].Confidence != 0.95 {
		t.Errorf("classification not refreshed: %+v", store.classifications[id])
	}
}

func TestPersistStorageErrorsAreTransient(t *testing.T) {
	for _, mode := range []string{"message", "classification"} {
		store := newFakeStore()
		if mode == "message" {
			store.failMessage = true
		} else {
			store.failClass = true
		}
		svc := New(store, zerolog.Nop())

		err := svc.Persist(context.Background(), classifiedEvent())
		if err == nil {
			t.Fatalf("%s: expected error", mode)
		}
		if apperr.KindOf(err) != apperr.KindTransient {
			t.Errorf("%s: kind = %v, want transient", mode, apperr.KindOf(err))
		}
	}
}

package eventbus

import "testing"

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.PublishMRUpdated(MRUpdated{MRID: 42, UpdateType: MRPurged, InstanceID: 1, IID: 7})

	select {
	case ev := <-ch:
		if ev.Kind != KindMRUpdated {
			t.Fatalf("Kind = %v, want KindMRUpdated", ev.Kind)
		}
		if ev.MRUpdated.MRID != 42 {
			t.Errorf("MRID = %d, want 42", ev.MRUpdated.MRID)
		}
	default:
		t.Fatal("expected event on channel, got none")
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	for i := 0; i < defaultBufferSize+10; i++ {
		b.PublishMRUpdated(MRUpdated{MRID: int64(i)})
	}

	if b.Dropped() == 0 {
		t.Error("expected some events to be dropped once the subscriber channel filled")
	}
	// Draining should still work without panicking.
	for {
		select {
		case <-ch:
			continue
		default:
			return
		}
	}
}

func TestRecentReturnsBoundedHistory(t *testing.T) {
	b := New()
	for i := 0; i < defaultRingSize+20; i++ {
		b.PublishMRUpdated(MRUpdated{MRID: int64(i)})
	}
	recent := b.Recent(5)
	if len(recent) != 5 {
		t.Fatalf("len(Recent(5)) = %d, want 5", len(recent))
	}
	last := recent[len(recent)-1]
	if last.MRUpdated.MRID != int64(defaultRingSize+19) {
		t.Errorf("last event MRID = %d, want %d", last.MRUpdated.MRID, defaultRingSize+19)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe()
	unsubscribe()
	b.PublishMRUpdated(MRUpdated{MRID: 1})

	_, ok := <-ch
	if ok {
		t.Error("expected channel closed after unsubscribe")
	}
}

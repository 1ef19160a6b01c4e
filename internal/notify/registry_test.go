package notify

import "testing"

func TestPublishReachesSubscribers(t *testing.T) {
	r := NewRegistry()
	var got []any
	r.Subscribe(EventOffer, func(p any) { got = append(got, p) })
	r.Subscribe(EventOffer, func(p any) { got = append(got, p) })

	r.Publish(EventOffer, "ride-1")
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	r := NewRegistry()
	n := 0
	off := r.Subscribe(EventBillReady, func(any) { n++ })
	r.Publish(EventBillReady, nil)
	off()
	r.Publish(EventBillReady, nil)
	if n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	NewRegistry().Publish(EventRideTaken, "r1")
}

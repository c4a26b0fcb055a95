package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"storefront-svc/cache"
	"storefront-svc/catalog"
	"storefront-svc/models"
	"storefront-svc/notifier"
	"storefront-svc/webhook"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap/zaptest"
)

type delivery struct {
	Email string
	IDs   []string
}

type fakeDeliverer struct {
	calls  []delivery
	result notifier.Result
}

func (f *fakeDeliverer) Deliver(ctx context.Context, email string, ids []string) notifier.Result {
	f.calls = append(f.calls, delivery{Email: email, IDs: ids})
	if f.result.Status == "" {
		return notifier.Result{Status: models.DeliveryStatusSent, Delivered: ids}
	}
	return f.result
}

type fakePublisher struct {
	events []models.FulfillmentEvent
	err    error
}

func (f *fakePublisher) PublishFulfillment(ctx context.Context, event models.FulfillmentEvent) error {
	f.events = append(f.events, event)
	return f.err
}

type recordingSender struct {
	messages []notifier.Message
}

func (r *recordingSender) Name() string { return "recording" }

func (r *recordingSender) Send(ctx context.Context, msg notifier.Message) error {
	r.messages = append(r.messages, msg)
	return nil
}

func newIndex(t *testing.T, doc string) *catalog.Index {
	snap, err := catalog.Parse([]byte(doc), "https://cdn.example.com")
	require.NoError(t, err)
	return catalog.NewStaticIndex(snap, zaptest.NewLogger(t))
}

const horrorCatalog = `{"categories":[{"id":"horror","folder":"horror","price_eur":2,"files":["loop_1.wav","loop_2.wav"]}]}`

func sessionEvent(t *testing.T, eventType string, sess webhook.CheckoutSession) stripe.Event {
	raw, err := json.Marshal(sess)
	require.NoError(t, err)
	return stripe.Event{
		ID:   "evt_test_1",
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func paidSession(metadata map[string]string) webhook.CheckoutSession {
	return webhook.CheckoutSession{
		ID:              "cs_test_1",
		Mode:            "payment",
		PaymentStatus:   "paid",
		CustomerDetails: &webhook.CustomerDetails{Email: "buyer@example.com"},
		Metadata:        metadata,
	}
}

func TestDispatcher_ExplicitLoops(t *testing.T) {
	deliverer := &fakeDeliverer{}
	d := NewDispatcher(newIndex(t, horrorCatalog), deliverer, zaptest.NewLogger(t))

	outcome, err := d.Handle(context.Background(),
		sessionEvent(t, EventSessionCompleted, paidSession(map[string]string{"loops": "horror__loop_1"})))
	require.NoError(t, err)

	assert.Equal(t, OutcomeDispatched, outcome)
	require.Len(t, deliverer.calls, 1)
	assert.Equal(t, delivery{Email: "buyer@example.com", IDs: []string{"horror__loop_1"}}, deliverer.calls[0])
}

func TestDispatcher_FullPackResolvedAtNotificationTime(t *testing.T) {
	idx := newIndex(t, horrorCatalog)
	deliverer := &fakeDeliverer{}
	d := NewDispatcher(idx, deliverer, zaptest.NewLogger(t))

	// The catalog grows after checkout but before the notification arrives.
	grown, err := catalog.Parse([]byte(`{"categories":[
  {"id":"horror","folder":"horror","price_eur":2,"files":["loop_1.wav","loop_2.wav","loop_3.wav"]}
]}`), "https://cdn.example.com")
	require.NoError(t, err)
	idx.Publish(grown)

	outcome, err := d.Handle(context.Background(),
		sessionEvent(t, EventSessionCompleted, paidSession(map[string]string{"full_pack": "1"})))
	require.NoError(t, err)

	assert.Equal(t, OutcomeDispatched, outcome)
	require.Len(t, deliverer.calls, 1)
	assert.Equal(t, []string{"horror__loop_1", "horror__loop_2", "horror__loop_3"}, deliverer.calls[0].IDs)
}

func TestDispatcher_UnknownIDsDroppedAtDelivery(t *testing.T) {
	idx := newIndex(t, `{"categories":[{"id":"x","files":["a.wav","c.wav"]}]}`)
	sender := &recordingSender{}
	n := notifier.NewNotifier(idx, sender, time.Second, zaptest.NewLogger(t))
	d := NewDispatcher(idx, n, zaptest.NewLogger(t))

	outcome, err := d.Handle(context.Background(),
		sessionEvent(t, EventSessionCompleted, paidSession(map[string]string{"loops": "x__a,x__b,x__c"})))
	require.NoError(t, err)

	assert.Equal(t, OutcomeDispatched, outcome)
	require.Len(t, sender.messages, 1)
	assert.Contains(t, sender.messages[0].Text, "https://cdn.example.com/a.wav")
	assert.Contains(t, sender.messages[0].Text, "https://cdn.example.com/c.wav")
	assert.NotContains(t, sender.messages[0].Text, "b.wav")
}

func TestDispatcher_Ignored(t *testing.T) {
	deliverer := &fakeDeliverer{}
	d := NewDispatcher(newIndex(t, horrorCatalog), deliverer, zaptest.NewLogger(t))

	outcome, err := d.Handle(context.Background(), stripe.Event{ID: "evt_1", Type: "invoice.paid"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	unpaid := paidSession(map[string]string{"loops": "horror__loop_1"})
	unpaid.PaymentStatus = "unpaid"
	outcome, err = d.Handle(context.Background(), sessionEvent(t, EventSessionCompleted, unpaid))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	assert.Empty(t, deliverer.calls)
}

func TestDispatcher_AsyncPaymentSucceeded(t *testing.T) {
	deliverer := &fakeDeliverer{}
	d := NewDispatcher(newIndex(t, horrorCatalog), deliverer, zaptest.NewLogger(t))

	sess := paidSession(map[string]string{"loops": "horror__loop_2"})
	sess.PaymentStatus = "paid"
	outcome, err := d.Handle(context.Background(), sessionEvent(t, EventAsyncPaymentSuccess, sess))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatched, outcome)
	assert.Len(t, deliverer.calls, 1)
}

func TestDispatcher_Dropped(t *testing.T) {
	deliverer := &fakeDeliverer{}
	d := NewDispatcher(newIndex(t, horrorCatalog), deliverer, zaptest.NewLogger(t))

	noItems := paidSession(map[string]string{"loops": ",,"})
	outcome, err := d.Handle(context.Background(), sessionEvent(t, EventSessionCompleted, noItems))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDropped, outcome)

	noEmail := paidSession(map[string]string{"loops": "horror__loop_1"})
	noEmail.CustomerDetails = nil
	outcome, err = d.Handle(context.Background(), sessionEvent(t, EventSessionCompleted, noEmail))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDropped, outcome)

	assert.Empty(t, deliverer.calls)
}

func TestDispatcher_CustomerEmailFallback(t *testing.T) {
	deliverer := &fakeDeliverer{}
	d := NewDispatcher(newIndex(t, horrorCatalog), deliverer, zaptest.NewLogger(t))

	sess := paidSession(map[string]string{"loops": "horror__loop_1"})
	sess.CustomerDetails = nil
	sess.CustomerEmail = "prefilled@example.com"

	_, err := d.Handle(context.Background(), sessionEvent(t, EventSessionCompleted, sess))
	require.NoError(t, err)
	require.Len(t, deliverer.calls, 1)
	assert.Equal(t, "prefilled@example.com", deliverer.calls[0].Email)
}

func TestDispatcher_Malformed(t *testing.T) {
	d := NewDispatcher(newIndex(t, horrorCatalog), &fakeDeliverer{}, zaptest.NewLogger(t))

	_, err := d.Handle(context.Background(), stripe.Event{
		ID:   "evt_1",
		Type: EventSessionCompleted,
		Data: &stripe.EventData{Raw: []byte(`"not an object"`)},
	})
	assert.ErrorIs(t, err, webhook.ErrMalformedNotification)
}

func TestDispatcher_DuplicateDeliversTwiceWithoutDeduper(t *testing.T) {
	deliverer := &fakeDeliverer{}
	d := NewDispatcher(newIndex(t, horrorCatalog), deliverer, zaptest.NewLogger(t))
	event := sessionEvent(t, EventSessionCompleted, paidSession(map[string]string{"loops": "horror__loop_1"}))

	_, _ = d.Handle(context.Background(), event)
	_, _ = d.Handle(context.Background(), event)
	assert.Len(t, deliverer.calls, 2)
}

func TestDispatcher_Dedup(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	deliverer := &fakeDeliverer{}
	d := NewDispatcher(newIndex(t, horrorCatalog), deliverer, zaptest.NewLogger(t),
		WithDeduper(cache.NewSessionDeduper(rdb, time.Hour)))
	event := sessionEvent(t, EventSessionCompleted, paidSession(map[string]string{"loops": "horror__loop_1"}))

	first, err := d.Handle(context.Background(), event)
	require.NoError(t, err)
	second, err := d.Handle(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, OutcomeDispatched, first)
	assert.Equal(t, OutcomeDuplicate, second)
	assert.Len(t, deliverer.calls, 1)
}

func TestDispatcher_DedupReleasedOnFailedDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	deliverer := &fakeDeliverer{result: notifier.Result{Status: models.DeliveryStatusFailed, Err: errors.New("down")}}
	d := NewDispatcher(newIndex(t, horrorCatalog), deliverer, zaptest.NewLogger(t),
		WithDeduper(cache.NewSessionDeduper(rdb, time.Hour)))
	event := sessionEvent(t, EventSessionCompleted, paidSession(map[string]string{"loops": "horror__loop_1"}))

	_, _ = d.Handle(context.Background(), event)
	outcome, err := d.Handle(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatched, outcome)
	assert.Len(t, deliverer.calls, 2)
}

func TestDispatcher_DedupFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	deliverer := &fakeDeliverer{}
	d := NewDispatcher(newIndex(t, horrorCatalog), deliverer, zaptest.NewLogger(t),
		WithDeduper(cache.NewSessionDeduper(rdb, time.Hour)))

	outcome, err := d.Handle(context.Background(),
		sessionEvent(t, EventSessionCompleted, paidSession(map[string]string{"loops": "horror__loop_1"})))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatched, outcome)
	assert.Len(t, deliverer.calls, 1)
}

func TestDispatcher_PublishesEvent(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("broker down")}
	deliverer := &fakeDeliverer{}
	d := NewDispatcher(newIndex(t, horrorCatalog), deliverer, zaptest.NewLogger(t), WithPublisher(publisher))
	d.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }

	outcome, err := d.Handle(context.Background(),
		sessionEvent(t, EventSessionCompleted, paidSession(map[string]string{"full_pack": "1"})))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatched, outcome)

	require.Len(t, publisher.events, 1)
	ev := publisher.events[0]
	assert.Equal(t, "order_fulfilled", ev.EventType)
	assert.Equal(t, "cs_test_1", ev.SessionID)
	assert.True(t, ev.FullPack)
	assert.Equal(t, models.DeliveryStatusSent, ev.Delivery)
	assert.Len(t, ev.LoopIDs, 2)
}

type stalledPublisher struct {
	hadDeadline chan bool
	release     chan struct{}
}

func (s *stalledPublisher) PublishFulfillment(ctx context.Context, event models.FulfillmentEvent) error {
	_, ok := ctx.Deadline()
	s.hadDeadline <- ok
	<-s.release
	return nil
}

func TestDispatcher_PublishIsBounded(t *testing.T) {
	publisher := &stalledPublisher{hadDeadline: make(chan bool, 1), release: make(chan struct{})}
	defer close(publisher.release)

	deliverer := &fakeDeliverer{}
	d := NewDispatcher(newIndex(t, horrorCatalog), deliverer, zaptest.NewLogger(t),
		WithPublisher(publisher), WithPublishTimeout(50*time.Millisecond))

	start := time.Now()
	outcome, err := d.Handle(context.Background(),
		sessionEvent(t, EventSessionCompleted, paidSession(map[string]string{"loops": "horror__loop_1"})))
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatched, outcome)
	assert.Len(t, deliverer.calls, 1)
	assert.Less(t, elapsed, time.Second, "Handle must not wait on a stalled broker")
	assert.True(t, <-publisher.hadDeadline, "publisher context should carry a deadline")
}

func TestNewDispatcher_DefaultPublishTimeout(t *testing.T) {
	d := NewDispatcher(newIndex(t, horrorCatalog), &fakeDeliverer{}, zaptest.NewLogger(t), WithPublishTimeout(0))
	assert.Equal(t, DefaultPublishTimeout, d.publishTimeout)
}

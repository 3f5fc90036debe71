package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarlink/atruci/atr"
	"github.com/sarlink/atruci/config"
)

type sentMessage struct {
	topic string
	body  []byte
}

// fakeBroker records everything the orchestrator publishes and can be told
// to fail specific sends.
type fakeBroker struct {
	mu       sync.Mutex
	subs     map[string]func([]byte)
	sent     []sentMessage
	attempts map[string]int
	failAt   func(topic string, nthOnTopic int) error
	closed   bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{subs: make(map[string]func([]byte)), attempts: make(map[string]int)}
}

func (b *fakeBroker) Subscribe(topic string, fn func([]byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = fn
	return nil
}

func (b *fakeBroker) Send(topic string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.attempts[topic]
	b.attempts[topic]++
	if b.failAt != nil {
		if err := b.failAt(topic, n); err != nil {
			return err
		}
	}
	b.sent = append(b.sent, sentMessage{topic: topic, body: append([]byte(nil), body...)})
	return nil
}

func (b *fakeBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBroker) onTopic(topic string) []sentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []sentMessage
	for _, m := range b.sent {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type stubEngine struct {
	detections []atr.Detection
	err        error
	calls      int
}

func (e *stubEngine) Process(path string) ([]atr.Detection, error) {
	e.calls++
	return e.detections, e.err
}

func testConfig(threshold float64) *config.Config {
	return &config.Config{
		BrokerAddress:       "ws://localhost:9000",
		ConfidenceThreshold: threshold,
		SystemUUID:          "11111111-2222-3333-4444-555555555555",
		SystemDescription:   "test service",
		ServiceVersion:      "1.0.0",
		Topics: config.Topics{
			FileLocation:     "FileLocation_uci",
			Entity:           "Entity_uci",
			ProcessingResult: "AtrProcessingResult_uci",
			ProductMetadata:  "ProductMetadata_uci",
			ProductLocation:  "ProductLocation_uci",
		},
	}
}

func notification(path string) []byte {
	return []byte(fmt.Sprintf(
		`{"FileLocation":{"MessageData":{"LocationAndStatus":{"Location":{"Network":{"Address":%q}}}}}}`,
		path))
}

// connectService wires a Service to a fake broker and returns the broker
// and the subscription callback that simulates an inbound notification.
func connectService(t *testing.T, cfg *config.Config, engine atr.Engine) (*Service, *fakeBroker, func([]byte)) {
	t.Helper()
	broker := newFakeBroker()
	svc := New(cfg, engine)
	svc.dial = func() (Broker, error) { return broker, nil }
	require.NoError(t, svc.connect())

	fn := broker.subs[cfg.Topics.FileLocation]
	require.NotNil(t, fn, "service did not subscribe to the notification topic")
	return svc, broker, fn
}

func entityID(t *testing.T, body []byte) string {
	t.Helper()
	var doc struct {
		Entity struct {
			MessageData struct {
				EntityID struct {
					UUID string `json:"UUID"`
				} `json:"EntityID"`
			} `json:"MessageData"`
		} `json:"Entity"`
	}
	require.NoError(t, json.Unmarshal(body, &doc))
	return doc.Entity.MessageData.EntityID.UUID
}

func resultIDs(t *testing.T, body []byte) []string {
	t.Helper()
	var doc struct {
		Result struct {
			EntityIDs []struct {
				UUID string `json:"ns1:UUID"`
			} `json:"ns1:EntityId"`
		} `json:"ATR_ProcessingResultsType"`
	}
	require.NoError(t, json.Unmarshal(body, &doc))
	ids := make([]string, 0, len(doc.Result.EntityIDs))
	for _, e := range doc.Result.EntityIDs {
		ids = append(ids, e.UUID)
	}
	return ids
}

func det(confidence float64) atr.Detection {
	return atr.Detection{
		Classification: "class1",
		Confidence:     confidence,
		Box:            atr.BoundingBox{X1: 0.1, Y1: 0.1, X2: 0.3, Y2: 0.3},
	}
}

func TestThresholdFilteringAndCorrelation(t *testing.T) {
	engine := &stubEngine{detections: []atr.Detection{det(0.95), det(0.40), det(0.70)}}
	_, broker, notify := connectService(t, testConfig(0.5), engine)

	notify(notification("/data/scene.nitf"))

	entities := broker.onTopic("Entity_uci")
	require.Len(t, entities, 2, "exactly the detections at or above threshold publish")

	results := broker.onTopic("AtrProcessingResult_uci")
	require.Len(t, results, 1)

	publishedIDs := []string{entityID(t, entities[0].body), entityID(t, entities[1].body)}
	assert.Equal(t, publishedIDs, resultIDs(t, results[0].body),
		"result must list exactly the published entity ids, in publish order")
}

func TestExactThresholdIsPublished(t *testing.T) {
	engine := &stubEngine{detections: []atr.Detection{det(0.5)}}
	_, broker, notify := connectService(t, testConfig(0.5), engine)

	notify(notification("/data/scene.nitf"))

	assert.Len(t, broker.onTopic("Entity_uci"), 1,
		"a detection exactly at threshold is published")
}

func TestZeroPublishedCyclePublishesNothing(t *testing.T) {
	cases := map[string][]atr.Detection{
		"all below threshold": {det(0.1), det(0.2)},
		"no detections":       {},
	}
	for name, dets := range cases {
		t.Run(name, func(t *testing.T) {
			engine := &stubEngine{detections: dets}
			_, broker, notify := connectService(t, testConfig(0.5), engine)

			notify(notification("/data/scene.nitf"))

			assert.Empty(t, broker.onTopic("Entity_uci"))
			assert.Empty(t, broker.onTopic("AtrProcessingResult_uci"))
		})
	}
}

func TestUndecodableNotificationSkipsEngine(t *testing.T) {
	engine := &stubEngine{detections: []atr.Detection{det(0.9)}}
	svc, broker, notify := connectService(t, testConfig(0.5), engine)

	notify([]byte(`{"FileLocation":{"MessageData":{}}}`))

	assert.Zero(t, engine.calls, "engine must not run for an undecodable notification")
	assert.Empty(t, broker.sent)
	assert.Equal(t, int64(1), svc.Stats().Snapshot().DecodeFailures)
}

func TestEngineErrorAbandonsCycle(t *testing.T) {
	engine := &stubEngine{err: fmt.Errorf("corrupt NITF header")}
	svc, broker, notify := connectService(t, testConfig(0.5), engine)

	notify(notification("/data/bad.nitf"))

	assert.Empty(t, broker.sent)
	assert.Equal(t, int64(1), svc.Stats().Snapshot().EngineFailures)

	// The service keeps serving subsequent notifications.
	engine.err = nil
	engine.detections = []atr.Detection{det(0.9)}
	notify(notification("/data/good.nitf"))
	assert.Len(t, broker.onTopic("Entity_uci"), 1)
}

func TestPublishFailureIsIsolated(t *testing.T) {
	engine := &stubEngine{detections: []atr.Detection{det(0.9), det(0.8), det(0.7)}}
	cfg := testConfig(0.5)
	broker := newFakeBroker()
	broker.failAt = func(topic string, nth int) error {
		if topic == "Entity_uci" && nth == 0 {
			return fmt.Errorf("broker rejected send")
		}
		return nil
	}

	svc := New(cfg, engine)
	svc.dial = func() (Broker, error) { return broker, nil }
	require.NoError(t, svc.connect())

	broker.subs[cfg.Topics.FileLocation](notification("/data/scene.nitf"))

	entities := broker.onTopic("Entity_uci")
	require.Len(t, entities, 2, "remaining detections publish after one failure")

	results := broker.onTopic("AtrProcessingResult_uci")
	require.Len(t, results, 1)
	ids := resultIDs(t, results[0].body)
	assert.Equal(t, []string{entityID(t, entities[0].body), entityID(t, entities[1].body)}, ids,
		"the failed publish must not contribute an id")
	assert.Equal(t, int64(1), svc.Stats().Snapshot().PublishErrors)
}

func TestChipDetectionPublishesProductDocuments(t *testing.T) {
	withChip := det(0.9)
	withChip.ChipPath = "/output/chips/chip_0007.nitf"
	engine := &stubEngine{detections: []atr.Detection{withChip, det(0.8)}}
	_, broker, notify := connectService(t, testConfig(0.5), engine)

	notify(notification("/data/scene.nitf"))

	assert.Len(t, broker.onTopic("ProductMetadata_uci"), 1)
	assert.Len(t, broker.onTopic("ProductLocation_uci"), 1)
	assert.Len(t, broker.onTopic("Entity_uci"), 2)
}

func TestRetryBound(t *testing.T) {
	svc := New(testConfig(0.5), &stubEngine{})
	svc.RetryDelay = time.Millisecond

	attempts := 0
	svc.dial = func() (Broker, error) {
		attempts++
		return nil, fmt.Errorf("connection refused")
	}

	err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 5, attempts, "startup must try exactly 5 connections")
}

func TestRunStopsOnContextDuringBackoff(t *testing.T) {
	svc := New(testConfig(0.5), &stubEngine{})
	svc.RetryDelay = time.Hour

	svc.dial = func() (Broker, error) {
		return nil, fmt.Errorf("connection refused")
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop when the context was canceled")
	}
}

func TestRunClosesBrokerOnShutdown(t *testing.T) {
	broker := newFakeBroker()
	svc := New(testConfig(0.5), &stubEngine{})
	svc.dial = func() (Broker, error) { return broker, nil }

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	broker.mu.Lock()
	defer broker.mu.Unlock()
	assert.True(t, broker.closed, "shutdown must close the broker session")
}

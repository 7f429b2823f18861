package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/entitlement-sync/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-sync/internal/models"
)

func TestPublisher_PublishEntitlementChanged(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	uri, cleanup := brokerURI(ctx, t)
	defer cleanup()

	conn := dial(t, uri)
	queue := InstanceQueue("publish-test")
	ch, err := SetupChannel(conn, "test-entitlements", []QueueConfig{queue})
	require.NoError(t, err)
	defer func() { _ = ch.Close() }()

	event := models.EntitlementChanged{
		UserID:         "user-1",
		EventID:        "evt_1",
		EventType:      "customer.subscription.updated",
		PreviousStatus: models.StatusNone,
		Status:         models.StatusActive,
		ChangedAt:      time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, NewPublisher(ch, "test-entitlements").PublishEntitlementChanged(ctx, event))

	deliveries, err := ch.Consume(queue.QueueName, "test-consumer", true, false, false, false, nil)
	require.NoError(t, err)

	select {
	case d := <-deliveries:
		var got models.EntitlementChanged
		require.NoError(t, json.Unmarshal(d.Body, &got))
		assert.Equal(t, event.UserID, got.UserID)
		assert.Equal(t, event.Status, got.Status)
		assert.Equal(t, "application/json", d.ContentType)
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for message via exchange")
	}
}

func TestPublishMessage_MarshalError(t *testing.T) {
	ctx := context.Background()
	uri, cleanup := brokerURI(ctx, t)
	defer cleanup()

	ch, err := dial(t, uri).Channel()
	require.NoError(t, err)
	defer func() { _ = ch.Close() }()

	badMsg := struct {
		Ch chan int `json:"ch"`
	}{Ch: make(chan int)}

	err = PublishMessage(ch, "", "any", badMsg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rabbitmq.PublishMessage")
}

func TestConsumerMessage_AckAndRequeue(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	uri, cleanup := brokerURI(ctx, t)
	defer cleanup()

	conn := dial(t, uri)
	queue := InstanceQueue("consume-test")
	ch, err := SetupChannel(conn, "test-entitlements", []QueueConfig{queue})
	require.NoError(t, err)
	defer func() { _ = ch.Close() }()

	var (
		mu       sync.Mutex
		attempts = map[string]int{}
		wg       sync.WaitGroup
	)
	wg.Add(2)
	handler := func(_ context.Context, body []byte) error {
		mu.Lock()
		defer mu.Unlock()
		attempts[string(body)]++
		if string(body) == `"retry"` && attempts[string(body)] == 1 {
			return errors.New("temporary failure")
		}
		wg.Done()
		return nil
	}

	consumeCtx, stop := context.WithCancel(ctx)
	done, err := ConsumerMessage(consumeCtx, sl.Discard(), ch, queue.QueueName, handler)
	require.NoError(t, err)

	for _, msg := range []string{"ok", "retry"} {
		require.NoError(t, PublishMessage(ch, "test-entitlements", RoutingKeyEntitlementChanged, msg))
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(15 * time.Second):
		t.Fatal("timeout waiting for messages to be processed")
	}

	stop()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, attempts[`"ok"`])
	assert.Equal(t, 2, attempts[`"retry"`])
}

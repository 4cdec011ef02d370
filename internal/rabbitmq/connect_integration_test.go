//go:build integration

package rabbitmq

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func amqpURI(ctx context.Context, t *testing.T) string {
	t.Helper()
	if uri := os.Getenv("TEST_RABBITMQ_URL"); uri != "" {
		return uri
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3-management",
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor:   wait.ForListeningPort("5672/tcp").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate rabbitmq container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5672/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port())
}

func TestPublishAndConsume_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conn, err := Connect(amqpURI(ctx, t), 5, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	ch, err := SetupChannel(conn, 10, WorkflowQueues())
	require.NoError(t, err)
	defer ch.Close()

	received := make(chan string, 1)
	_, err = ConsumerMessage(ctx, newNoopLogger(), ch, DeliveryQueue, 2, func(_ context.Context, body []byte) error {
		received <- string(body)
		return nil
	})
	require.NoError(t, err)

	pubCh, err := conn.Channel()
	require.NoError(t, err)
	defer pubCh.Close()
	require.NoError(t, NewPublisher(pubCh, WorkflowExchange).PublishMessage(DeliveryRoutingKey, map[string]string{"runId": "run-42"}))

	select {
	case body := <-received:
		assert.JSONEq(t, `{"runId":"run-42"}`, body)
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for delivery")
	}
}

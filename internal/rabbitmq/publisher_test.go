package rabbitmq

import (
	"errors"
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(exchange, key, mandatory, immediate, msg)
	return args.Error(0)
}

func TestPublisher_PublishMessage(t *testing.T) {
	tests := []struct {
		name       string
		message    any
		publishErr error
		wantErr    bool
	}{
		{
			name:    "success",
			message: map[string]string{"runId": "run-1"},
		},
		{
			name:       "broker error",
			message:    map[string]string{"runId": "run-1"},
			publishErr: errors.New("channel closed"),
			wantErr:    true,
		},
		{
			name:    "unmarshalable message",
			message: make(chan int),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := new(MockChannel)
			if _, ok := tt.message.(chan int); !ok {
				ch.On("Publish", WorkflowExchange, DeliveryRoutingKey, false, false, mock.MatchedBy(func(p amqp.Publishing) bool {
					return p.ContentType == "application/json" &&
						p.DeliveryMode == amqp.Persistent &&
						string(p.Body) == `{"runId":"run-1"}`
				})).Return(tt.publishErr)
			}

			p := NewPublisher(ch, WorkflowExchange)
			err := p.PublishMessage(DeliveryRoutingKey, tt.message)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			ch.AssertExpectations(t)
		})
	}
}

func TestWorkflowQueues(t *testing.T) {
	queues := WorkflowQueues()
	require.Len(t, queues, 1)
	assert.Equal(t, DeliveryQueue, queues[0].QueueName)
	assert.Equal(t, DeliveryRoutingKey, queues[0].RoutingKey)
}

package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisSink_PublishesToRecipientChannel(t *testing.T) {
	client, mock := redismock.NewClientMock()
	defer mock.ClearExpect()

	n := Notification{
		TicketID:  "ticket-1",
		Kind:      "message_posted",
		ActorID:   "landlord-1",
		Recipient: "renter-1",
		Status:    "open",
		Version:   3,
		At:        time.Date(2024, 10, 31, 12, 0, 0, 0, time.UTC),
	}
	payload, err := json.Marshal(n)
	require.NoError(t, err)

	mock.ExpectPublish("dispute:notify:renter-1", payload).SetVal(1)

	err = NewRedisSink(client).Deliver(context.Background(), n)
	assert.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisSink_WrapsPublishError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	defer mock.ClearExpect()

	n := Notification{TicketID: "ticket-1", Recipient: AdminAudience, Kind: "escalated"}
	payload, err := json.Marshal(n)
	require.NoError(t, err)
	mock.ExpectPublish("dispute:notify:admins", payload).SetErr(assert.AnError)

	err = NewRedisSink(client).Deliver(context.Background(), n)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestNewRedisClient_AcceptsBareAddress(t *testing.T) {
	client := NewRedisClient("localhost:6380", "secret", 2)
	defer client.Close()

	opts := client.Options()
	assert.Equal(t, "localhost:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
}

package mq

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaPublisher_SendMessage(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewProducerConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"event":"credit.payment_allocated"}` {
			return errors.New("unexpected payload")
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewKafkaPublisher(producer)
	require.NoError(t, p.SendMessage("coop-credit-events", "7", `{"event":"credit.payment_allocated"}`))
	assert.ErrorIs(t, p.SendMessage("coop-credit-events", "7", `{}`), sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestNewProducerConfig(t *testing.T) {
	cfg := NewProducerConfig()
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.True(t, cfg.Producer.Return.Successes)
}

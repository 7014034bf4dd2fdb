//go:build integration

package audit_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"heirloom/internal/audit"
	"heirloom/pkg/testutil/containers"
)

type KafkaSinkSuite struct {
	suite.Suite
	broker string
	topic  string
	sink   *audit.Kafka
}

func TestKafkaSinkSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaSinkSuite))
}

func (s *KafkaSinkSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.broker = mgr.GetRedpanda(s.T()).Broker
	s.topic = "heirloom.identity.audit." + uuid.NewString()

	sink, err := audit.NewKafka(context.Background(), []string{s.broker}, s.topic)
	s.Require().NoError(err)
	s.sink = sink
}

func (s *KafkaSinkSuite) TearDownSuite() {
	if s.sink != nil {
		s.sink.Close()
	}
}

func (s *KafkaSinkSuite) TestAppendRoundTrip() {
	ctx := context.Background()

	event := audit.Event{
		Timestamp:     time.Now().UTC().Truncate(time.Millisecond),
		Action:        audit.ActionUserEnrolled,
		RequestID:     uuid.NewString(),
		WalletAddress: "0xabc",
		DID:           "did:privado:alice",
	}
	s.Require().NoError(s.sink.Append(ctx, event))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.broker),
		kgo.ConsumeTopics(s.topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	pollCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	fetches := consumer.PollFetches(pollCtx)
	s.Require().NoError(fetches.Err())

	records := fetches.Records()
	s.Require().Len(records, 1)
	s.Equal("0xabc", string(records[0].Key))

	var decoded audit.Event
	s.Require().NoError(json.Unmarshal(records[0].Value, &decoded))
	s.Equal(event.Action, decoded.Action)
	s.Equal(event.RequestID, decoded.RequestID)
	s.Equal(event.DID, decoded.DID)
	s.Equal(event.Timestamp.UnixNano(), decoded.Timestamp.UnixNano())
}

// Creating the sink twice against the same topic must not fail on the
// already-exists response.
func (s *KafkaSinkSuite) TestTopicCreationIsIdempotent() {
	sink, err := audit.NewKafka(context.Background(), []string{s.broker}, s.topic)
	s.Require().NoError(err)
	sink.Close()
}

package natsclient

import (
	"fmt"

	"github.com/bartossh/Settlementis/logger"
	"github.com/bartossh/Settlementis/orchestrator"
	"github.com/nats-io/nats.go"
)

// Subscriber provides functionality to pull messages from the pub/sub queue.
type Subscriber struct {
	*socket
	log logger.Logger
}

// SubscriberConnect connects subscriber to the pub/sub queue using provided config
func SubscriberConnect(cfg Config, log logger.Logger) (*Subscriber, error) {
	s, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	return &Subscriber{socket: s, log: log}, nil
}

// SubscribeBatchEvents calls the handler with every event of the batch. Empty batch id subscribes to all batches.
// Malformed messages are logged and skipped.
func (s *Subscriber) SubscribeBatchEvents(batchID string, handler func(orchestrator.Event)) (*nats.Subscription, error) {
	subj := subject(batchID)
	if batchID == "" {
		subj = PubSubBatchEvents + ".*"
	}
	return s.conn.Subscribe(subj, func(m *nats.Msg) {
		e, err := Decode(m.Data)
		if err != nil {
			s.log.Error(fmt.Sprintf("nats subscriber received malformed message on %s, %s", m.Subject, err))
			return
		}
		handler(e)
	})
}

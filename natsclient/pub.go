package natsclient

import (
	"fmt"

	"github.com/bartossh/Settlementis/logger"
	"github.com/bartossh/Settlementis/orchestrator"
)

// Publisher provides functionality to push messages to the pub/sub queue
type Publisher struct {
	*socket
	log logger.Logger
}

// PublisherConnect connects publisher to the pub/sub queue using provided config
func PublisherConnect(cfg Config, log logger.Logger) (*Publisher, error) {
	s, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	return &Publisher{socket: s, log: log}, nil
}

// PublishBatchEvent publishes the batch event on the subject of the batch.
func (p *Publisher) PublishBatchEvent(e orchestrator.Event) error {
	msg, err := Encode(e)
	if err != nil {
		return err
	}
	return p.conn.Publish(subject(e.BatchID), msg)
}

// Notify satisfies orchestrator.Notifier. Nats client buffers outgoing messages so it does not block.
func (p *Publisher) Notify(e orchestrator.Event) {
	if err := p.PublishBatchEvent(e); err != nil {
		p.log.Error(fmt.Sprintf("nats publisher cannot publish event of batch %s, %s", e.BatchID, err))
	}
}

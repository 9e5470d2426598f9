package natsclient

import (
	"errors"
	"net/url"

	"github.com/nats-io/nats.go"
)

// PubSubBatchEvents is the subject prefix of batch events, the batch id is the last token.
const PubSubBatchEvents string = "settlement.batch"

var ErrEmptyAddress = errors.New("nats server address is empty")

// Config contains all arguments required to connect to the nats setvice
type Config struct {
	Address string `yaml:"server_address"`
	Name    string `yaml:"client_name"`
	Token   string `yaml:"token"`
}

type socket struct {
	conn *nats.Conn
}

func connect(cfg Config) (*socket, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}
	if _, err := url.Parse(cfg.Address); err != nil {
		return nil, err
	}
	opts := []nats.Option{nats.Name(cfg.Name)}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	conn, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, err
	}
	return &socket{conn: conn}, nil
}

// Disconnect drains the message queue and disconnects from the pub/sub.
// Nats Drain will put a connection into a drain state.
// All subscriptions will immediately be put into a drain state.
// Upon completion, the publishers will be drained and can not publish any additional messages.
func (s *socket) Disconnect() error {
	return s.conn.Drain()
}

func subject(batchID string) string {
	return PubSubBatchEvents + "." + batchID
}

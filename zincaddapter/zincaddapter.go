package zincaddapter

import (
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/Settlementis/httpclient"
)

const (
	healthz          = "/healthz"
	createDocumentIn = "/api/%s/_doc"
)

const timeout = time.Second * 5

var (
	ErrZincServerNotResponding = errors.New("zinc server not responding on given address")
	ErrZincServerWriteFailed   = errors.New("zinc server write failed")
)

// Config contains configuration of the ZincSearch log sink.
type Config struct {
	Address string `yaml:"address"` // logger back-end server address
	Index   string `yaml:"index"`   // unique index per service to easy search for logs by the service
	Token   string `yaml:"token"`   // authorization header value, for example "Basic <credentials>"
}

type message struct {
	Log string `json:"log"`
}

// ZincClient provides a client that sends logs to the zincsearch backend.
type ZincClient struct {
	address   string
	indexName string
	token     string
}

// New creates a new ZincClient. The server must respond on the health check.
func New(cfg Config) (ZincClient, error) {
	if err := httpclient.MakeGet(timeout, cfg.Address+healthz, nil); err != nil {
		return ZincClient{}, errors.Join(ErrZincServerNotResponding, err)
	}
	return ZincClient{address: cfg.Address, indexName: cfg.Index, token: cfg.Token}, nil
}

// Write satisfies io.Writer abstraction.
func (z *ZincClient) Write(p []byte) (n int, err error) {
	var headers []httpclient.Header
	if z.token != "" {
		headers = append(headers, httpclient.Header{Key: "Authorization", Value: z.token})
	}
	url := z.address + fmt.Sprintf(createDocumentIn, z.indexName)
	if err := httpclient.MakePost(timeout, url, message{Log: string(p)}, nil, headers...); err != nil {
		return 0, errors.Join(ErrZincServerWriteFailed, err)
	}
	return len(p), nil
}

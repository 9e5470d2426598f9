package vendorlookup

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bartossh/Settlementis/address"
	"github.com/bartossh/Settlementis/httpclient"
	"github.com/valyala/fasthttp"
)

const (
	counterpartyURL = "/counterparties/%s"
	defaultTimeout  = 5 * time.Second
)

var (
	ErrEmptyCounterparty    = errors.New("counterparty id is empty")
	ErrCounterpartyNotFound = errors.New("counterparty not found")
	ErrNoSettlementAddress  = errors.New("counterparty has no settlement address")
	ErrLookupFailed         = errors.New("vendor lookup failed")
)

// Config contains configuration of the vendor directory.
// When URL is empty the static table is used.
type Config struct {
	URL    string                     `yaml:"url"`
	Token  string                     `yaml:"token"`
	Static map[string]address.Address `yaml:"static"`
}

// Counterparty is the vendor directory entry.
type Counterparty struct {
	ID                string          `json:"counterparty_id"`
	Name              string          `json:"name"`
	SettlementAddress address.Address `json:"settlement_address"`
}

// Client looks up counterparties in the remote vendor directory.
type Client struct {
	base    string
	token   string
	timeout time.Duration
}

// NewClient creates new vendor directory Client.
func NewClient(cfg Config) Client {
	return Client{base: strings.TrimSuffix(cfg.URL, "/"), token: cfg.Token, timeout: defaultTimeout}
}

// Lookup returns settlement address of the counterparty.
func (c Client) Lookup(ctx context.Context, id string) (address.Address, error) {
	if id == "" {
		return address.Zero, ErrEmptyCounterparty
	}
	if err := ctx.Err(); err != nil {
		return address.Zero, err
	}
	var cp Counterparty
	var headers []httpclient.Header
	if c.token != "" {
		headers = append(headers, httpclient.Header{Key: "Authorization", Value: "Bearer " + c.token})
	}
	err := httpclient.MakeGet(c.timeout, c.base+fmt.Sprintf(counterpartyURL, url.PathEscape(id)), &cp, headers...)
	if err != nil {
		if code, ok := httpclient.StatusCode(err); ok && code == fasthttp.StatusNotFound {
			return address.Zero, errors.Join(ErrCounterpartyNotFound, fmt.Errorf("counterparty %s", id))
		}
		return address.Zero, errors.Join(ErrLookupFailed, err)
	}
	if cp.SettlementAddress.IsZero() {
		return address.Zero, errors.Join(ErrNoSettlementAddress, fmt.Errorf("counterparty %s", id))
	}
	return cp.SettlementAddress, nil
}

// Static is a fixed counterparty table.
type Static map[string]address.Address

// Lookup returns settlement address of the counterparty.
func (s Static) Lookup(_ context.Context, id string) (address.Address, error) {
	if id == "" {
		return address.Zero, ErrEmptyCounterparty
	}
	a, ok := s[id]
	if !ok {
		return address.Zero, errors.Join(ErrCounterpartyNotFound, fmt.Errorf("counterparty %s", id))
	}
	if a.IsZero() {
		return address.Zero, errors.Join(ErrNoSettlementAddress, fmt.Errorf("counterparty %s", id))
	}
	return a, nil
}

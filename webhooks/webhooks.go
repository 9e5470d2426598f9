package webhooks

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bartossh/Settlementis/httpclient"
	"github.com/bartossh/Settlementis/logger"
	"github.com/bartossh/Settlementis/orchestrator"
)

// Trigger is the kind of batch event the hook is subscribed to.
type Trigger string

const (
	TriggerInvoiceSettled Trigger = "invoice_settled" // invoice record persisted after its execution confirmed
	TriggerBatchConfirmed Trigger = "batch_confirmed" // last invoice of the batch settled
	TriggerBatchFailed    Trigger = "batch_failed"    // batch halted with an error
)

const timeout = time.Second * 5

var ErrorHookNotImplemented = errors.New("hook not implemented")

// Message is posted to the hook url.
type Message struct {
	Token   string             `json:"token"`   // Token given to the webhook by the webhooks creator to validate the message source.
	Trigger Trigger            `json:"trigger"` // Trigger that fired the hook.
	Event   orchestrator.Event `json:"event"`
	Time    time.Time          `json:"time"`
}

// Hook is the hook that is used to trigger the webhook.
type Hook struct {
	URL      string    `json:"address"  yaml:"url"`      // URL is a url of the webhook.
	Token    string    `json:"token"    yaml:"token"`    // Token is added to the message to verify that it comes from the valid source.
	Triggers []Trigger `json:"triggers" yaml:"triggers"` // Triggers the hook is subscribed to.
}

type hooks map[string]Hook

// Service posts batch events to subscribed webhooks.
type Service struct {
	mux    sync.RWMutex
	buffer map[Trigger]hooks
	wg     sync.WaitGroup
	log    logger.Logger
}

// New creates new instance of the webhook service.
func New(l logger.Logger, hs ...Hook) (*Service, error) {
	s := &Service{buffer: make(map[Trigger]hooks), log: l}
	for _, h := range hs {
		for _, tr := range h.Triggers {
			if err := s.CreateWebhook(tr, h); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

// CreateWebhook creates new webhook or updates existing one for given trigger. Hooks are keyed by the URL.
func (s *Service) CreateWebhook(trigger Trigger, h Hook) error {
	switch trigger {
	case TriggerInvoiceSettled, TriggerBatchConfirmed, TriggerBatchFailed:
	default:
		return errors.Join(ErrorHookNotImplemented, fmt.Errorf("trigger %q", trigger))
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	hs, ok := s.buffer[trigger]
	if !ok {
		hs = make(hooks)
		s.buffer[trigger] = hs
	}
	hs[h.URL] = h
	return nil
}

// RemoveWebhook removes webhook for given trigger and Hook URL.
func (s *Service) RemoveWebhook(trigger Trigger, url string) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if hs, ok := s.buffer[trigger]; ok {
		delete(hs, url)
	}
}

// Notify satisfies orchestrator.Notifier. Messages are posted in the background.
func (s *Service) Notify(e orchestrator.Event) {
	var trigger Trigger
	switch {
	case e.State == orchestrator.StateConfirmed:
		trigger = TriggerBatchConfirmed
	case e.State == orchestrator.StateFailed:
		trigger = TriggerBatchFailed
	case e.RecordID != "":
		trigger = TriggerInvoiceSettled
	default:
		return
	}

	s.mux.RLock()
	defer s.mux.RUnlock()
	for _, h := range s.buffer[trigger] {
		msg := Message{Token: h.Token, Trigger: trigger, Event: e, Time: time.Now().UTC()}
		s.wg.Add(1)
		go func(url string) {
			defer s.wg.Done()
			if err := httpclient.MakePost(timeout, url, msg, nil); err != nil {
				s.log.Error(fmt.Sprintf("webhook service error posting %s of batch %s to webhook url: %s, %s", trigger, e.BatchID, url, err))
			}
		}(h.URL)
	}
}

// Wait waits for messages being posted.
func (s *Service) Wait() {
	s.wg.Wait()
}

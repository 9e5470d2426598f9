package natsclient

import (
	"testing"
	"time"

	"github.com/bartossh/Settlementis/orchestrator"
	"github.com/bartossh/Settlementis/payment"
	"gotest.tools/v3/assert"
)

func TestProtoConversionEvent(t *testing.T) {
	events := []orchestrator.Event{
		{
			BatchID: "batch-1", State: orchestrator.StateEncrypting, InvoiceIndex: -1,
			Detail: "preparing audit data", CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 123, time.UTC),
		},
		{
			BatchID: "batch-1", State: orchestrator.StateConfirming, InvoiceIndex: 2, Phase: payment.PhaseExecute,
			Detail: "invoice settled", SubmissionID: "sub-1", Signature: "5ig", RecordID: "batch-1:INV-3",
			CreatedAt: time.Date(2026, 3, 1, 10, 0, 1, 0, time.UTC),
		},
		{
			BatchID: "batch-2", State: orchestrator.StateFailed, InvoiceIndex: 1, Phase: payment.PhaseCreate,
			Detail: "validation_rejected", CreatedAt: time.Date(2026, 3, 1, 10, 0, 2, 0, time.UTC),
			Error: &orchestrator.Error{
				Kind: orchestrator.ValidationRejected, Reason: "drain_attempt", InvoiceIndex: 1, Phase: payment.PhaseCreate,
			},
		},
	}
	for _, e := range events {
		msg, err := Encode(e)
		assert.NilError(t, err)
		got, err := Decode(msg)
		assert.NilError(t, err)
		assert.DeepEqual(t, e, got)
	}
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte{0xff, 0x01})
	assert.ErrorIs(t, err, ErrMalformedEvent)

	msg, err := Encode(orchestrator.Event{})
	assert.NilError(t, err)
	_, err = Decode(msg)
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "settlement.batch.batch-1", subject("batch-1"))
}

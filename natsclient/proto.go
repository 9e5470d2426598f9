package natsclient

import (
	"errors"

	"github.com/bartossh/Settlementis/orchestrator"
	"github.com/bartossh/Settlementis/payment"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

var ErrMalformedEvent = errors.New("malformed batch event message")

// Encode encodes the batch event as protobuf Struct. Creation time is kept in the
// canonical JSON form of the protobuf Timestamp.
func Encode(e orchestrator.Event) ([]byte, error) {
	ts, err := protojson.Marshal(timestamppb.New(e.CreatedAt))
	if err != nil {
		return nil, err
	}
	fields := map[string]any{
		"batch_id":        e.BatchID,
		"state":           string(e.State),
		"invoice_index":   float64(e.InvoiceIndex),
		"phase":           e.Phase.String(),
		"detail":          e.Detail,
		"sign_request_id": e.SignRequestID,
		"submission_id":   e.SubmissionID,
		"signature":       e.Signature,
		"record_id":       e.RecordID,
		"created_at":      string(ts[1 : len(ts)-1]),
	}
	if e.Error != nil {
		fields["error"] = map[string]any{
			"kind":          string(e.Error.Kind),
			"reason":        e.Error.Reason,
			"invoice_index": float64(e.Error.InvoiceIndex),
			"phase":         e.Error.Phase.String(),
			"submission_id": e.Error.SubmissionID,
		}
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

// Decode decodes the batch event encoded with Encode.
func Decode(msg []byte) (orchestrator.Event, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(msg, &s); err != nil {
		return orchestrator.Event{}, errors.Join(ErrMalformedEvent, err)
	}
	f := s.GetFields()
	e := orchestrator.Event{
		BatchID:       f["batch_id"].GetStringValue(),
		State:         orchestrator.State(f["state"].GetStringValue()),
		InvoiceIndex:  int(f["invoice_index"].GetNumberValue()),
		Detail:        f["detail"].GetStringValue(),
		SignRequestID: f["sign_request_id"].GetStringValue(),
		SubmissionID:  f["submission_id"].GetStringValue(),
		Signature:     f["signature"].GetStringValue(),
		RecordID:      f["record_id"].GetStringValue(),
	}
	if e.BatchID == "" || e.State == "" {
		return orchestrator.Event{}, ErrMalformedEvent
	}
	if err := phase(&e.Phase, f["phase"]); err != nil {
		return orchestrator.Event{}, err
	}
	var ts timestamppb.Timestamp
	if err := protojson.Unmarshal([]byte(`"`+f["created_at"].GetStringValue()+`"`), &ts); err != nil {
		return orchestrator.Event{}, errors.Join(ErrMalformedEvent, err)
	}
	e.CreatedAt = ts.AsTime()

	if ev := f["error"].GetStructValue(); ev != nil {
		ef := ev.GetFields()
		e.Error = &orchestrator.Error{
			Kind:         orchestrator.Kind(ef["kind"].GetStringValue()),
			Reason:       ef["reason"].GetStringValue(),
			InvoiceIndex: int(ef["invoice_index"].GetNumberValue()),
			SubmissionID: ef["submission_id"].GetStringValue(),
		}
		if err := phase(&e.Error.Phase, ef["phase"]); err != nil {
			return orchestrator.Event{}, err
		}
	}
	return e, nil
}

func phase(p *payment.PhaseKind, v *structpb.Value) error {
	if err := p.UnmarshalText([]byte(v.GetStringValue())); err != nil {
		return errors.Join(ErrMalformedEvent, err)
	}
	return nil
}

package repomongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/Settlementis/audit"
	"github.com/bartossh/Settlementis/payment"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrMalformedDocument = errors.New("malformed audit record document")

type essentialDocument struct {
	InvoiceNumber     string   `bson:"invoice_number"`
	Amount            string   `bson:"amount"`
	AttachmentDigests []string `bson:"attachment_digests"`
}

type recordDocument struct {
	ID                string            `bson:"_id"`
	BatchID           string            `bson:"batch_id"`
	InvoiceIndex      int               `bson:"invoice_index"`
	Signature         string            `bson:"signature"`
	SubmissionID      string            `bson:"submission_id"`
	Essential         essentialDocument `bson:"essential_data"`
	EssentialHash     string            `bson:"essential_hash"`
	Memo              []byte            `bson:"memo"`
	SchemaVersion     int               `bson:"schema_version"`
	ComprehensiveData []byte            `bson:"comprehensive_data"`
	CreatedAt         time.Time         `bson:"created_at"`
}

type keyDocument struct {
	RecordID string `bson:"_id"`
	Key      []byte `bson:"key"`
}

func toDocument(id string, r audit.Record) recordDocument {
	digests := make([]string, 0, len(r.Essential.AttachmentDigests))
	for _, d := range r.Essential.AttachmentDigests {
		digests = append(digests, d.String())
	}
	return recordDocument{
		ID:           id,
		BatchID:      r.BatchID,
		InvoiceIndex: r.InvoiceIndex,
		Signature:    r.Signature,
		SubmissionID: r.SubmissionID,
		Essential: essentialDocument{
			InvoiceNumber:     r.Essential.InvoiceNumber,
			Amount:            r.Essential.Amount.String(),
			AttachmentDigests: digests,
		},
		EssentialHash:     r.EssentialHash.String(),
		Memo:              r.Memo,
		SchemaVersion:     r.SchemaVersion,
		ComprehensiveData: r.ComprehensiveData,
		CreatedAt:         r.CreatedAt,
	}
}

func fromDocument(doc recordDocument, key []byte) (audit.Record, error) {
	amount, err := decimal.NewFromString(doc.Essential.Amount)
	if err != nil {
		return audit.Record{}, errors.Join(ErrMalformedDocument, err)
	}
	hash, err := payment.HashFromString(doc.EssentialHash)
	if err != nil {
		return audit.Record{}, errors.Join(ErrMalformedDocument, err)
	}
	digests := make([]payment.Hash, 0, len(doc.Essential.AttachmentDigests))
	for _, s := range doc.Essential.AttachmentDigests {
		d, err := payment.HashFromString(s)
		if err != nil {
			return audit.Record{}, errors.Join(ErrMalformedDocument, err)
		}
		digests = append(digests, d)
	}
	return audit.Record{
		ID:           doc.ID,
		BatchID:      doc.BatchID,
		InvoiceIndex: doc.InvoiceIndex,
		Signature:    doc.Signature,
		SubmissionID: doc.SubmissionID,
		Essential: audit.Essential{
			InvoiceNumber:     doc.Essential.InvoiceNumber,
			Amount:            amount,
			AttachmentDigests: digests,
		},
		EssentialHash:     hash,
		Memo:              doc.Memo,
		SchemaVersion:     doc.SchemaVersion,
		ComprehensiveData: doc.ComprehensiveData,
		ComprehensiveKey:  key,
		CreatedAt:         doc.CreatedAt.UTC(),
	}, nil
}

// Put appends the audit record and stores its key in a separate collection.
// The key is written first so a record is never readable without it, and removed again
// when the record cannot be written.
func (c DataBase) Put(ctx context.Context, id string, r audit.Record) error {
	keys := c.inner.Collection(auditRecordKeysCollection)
	if _, err := keys.InsertOne(ctx, keyDocument{RecordID: id, Key: r.ComprehensiveKey}); err != nil {
		return insertErr(id, err)
	}
	if _, err := c.inner.Collection(auditRecordsCollection).InsertOne(ctx, toDocument(id, r)); err != nil {
		cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, errx := keys.DeleteOne(cleanup, bson.M{"_id": id}); errx != nil {
			return errors.Join(insertErr(id, err), fmt.Errorf("key of record %s left behind: %w", id, errx))
		}
		return insertErr(id, err)
	}
	return nil
}

func insertErr(id string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return errors.Join(audit.ErrRecordExists, fmt.Errorf("record %s", id))
	}
	return err
}

// Get reads the audit record with its key.
func (c DataBase) Get(ctx context.Context, id string) (audit.Record, error) {
	var doc recordDocument
	if err := c.inner.Collection(auditRecordsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return audit.Record{}, errors.Join(audit.ErrRecordNotFound, fmt.Errorf("record %s", id))
		}
		return audit.Record{}, err
	}
	key, err := c.key(ctx, id)
	if err != nil {
		return audit.Record{}, err
	}
	return fromDocument(doc, key)
}

func (c DataBase) key(ctx context.Context, id string) ([]byte, error) {
	var k keyDocument
	err := c.inner.Collection(auditRecordKeysCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&k)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Join(audit.ErrRecordNotFound, fmt.Errorf("key of record %s", id))
	}
	return k.Key, err
}

// ReadBatchRecords reads audit records of the batch ordered by invoice index.
func (c DataBase) ReadBatchRecords(ctx context.Context, batchID string) ([]audit.Record, error) {
	cursor, err := c.inner.Collection(auditRecordsCollection).Find(
		ctx, bson.M{"batch_id": batchID}, options.Find().SetSort(bson.D{{Key: "invoice_index", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []audit.Record
	for cursor.Next(ctx) {
		var doc recordDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		key, err := c.key(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		r, err := fromDocument(doc, key)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, cursor.Err()
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// ReceiptArchive stores a copy of every issued receipt, with its transaction
// and item snapshot, in an S3 compatible bucket.
type ReceiptArchive struct {
	Client s3iface.S3API
	Bucket string
	Prefix string
}

func (a *ReceiptArchive) Name() string { return "receipt-archive" }

func (a *ReceiptArchive) Handle(ctx context.Context, ev Event) error {
	if ev.Kind != PaymentSucceeded || ev.Transaction == nil || ev.Transaction.Receipt == nil {
		return nil
	}
	body, err := json.Marshal(ev.Transaction)
	if err != nil {
		return err
	}
	_, err = a.Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.Bucket),
		Key:           aws.String(a.key(ev.Transaction.Receipt.ReceiptNumber)),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
	})
	return err
}

func (a *ReceiptArchive) key(receiptNumber string) string {
	prefix := a.Prefix
	if prefix == "" {
		prefix = "receipts"
	}
	return path.Join(prefix, receiptNumber+".json")
}

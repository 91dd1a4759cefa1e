// services/receipt_archiver.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"

	"github.com/devvspaces/zk-chess-clash/models"
)

// R2ReceiptArchiver mirrors settlement receipts to an S3-compatible bucket
// (Cloudflare R2) so the audit trail survives the database.
type R2ReceiptArchiver struct {
	client     *s3.Client
	bucket     string
	cdnBaseURL string
}

// NewR2ReceiptArchiver reads the R2 connection from the environment and
// returns (nil, nil) when no bucket is configured, which disables archival.
func NewR2ReceiptArchiver(ctx context.Context) (*R2ReceiptArchiver, error) {
	accountID := os.Getenv("CLOUDFLARE_ACCOUNT_ID")
	accessKeyID := os.Getenv("R2_ACCESS_KEY_ID")
	accessKeySecret := os.Getenv("R2_ACCESS_KEY_SECRET")
	bucket := os.Getenv("R2_BUCKET_NAME")
	if bucket == "" {
		return nil, nil
	}

	cdnBaseURL := os.Getenv("CDN_BASE_URL")
	if cdnBaseURL == "" {
		cdnBaseURL = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID, accessKeySecret, "",
		)),
		config.WithEndpointResolver(aws.EndpointResolverFunc(
			func(service, region string) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID),
				}, nil
			}),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load R2 config")
	}

	return &R2ReceiptArchiver{
		client:     s3.NewFromConfig(cfg),
		bucket:     bucket,
		cdnBaseURL: cdnBaseURL,
	}, nil
}

// Archive uploads the receipt as JSON and returns its public URL.
func (a *R2ReceiptArchiver) Archive(ctx context.Context, receipt *models.SettlementReceipt) (string, error) {
	body, err := json.MarshalIndent(receipt, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to encode receipt")
	}

	key := fmt.Sprintf("receipts/%s/%s.json", receipt.GameID, receipt.ID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to upload receipt to R2")
	}

	return fmt.Sprintf("%s/%s", a.cdnBaseURL, key), nil
}

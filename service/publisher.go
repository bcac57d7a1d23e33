package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/vocdoni/davinci-ticketvote/log"
	"github.com/vocdoni/davinci-ticketvote/storage"
)

// LogPublisher writes every result to the log.
type LogPublisher struct{}

func (LogPublisher) Name() string { return "log" }

func (LogPublisher) Publish(_ context.Context, res *storage.Result) error {
	log.Infow("election tallied",
		"election", res.ElectionID,
		"options", res.Options,
		"tally", res.Tally,
		"ballots", res.Ballots,
		"cid", res.CID)
	return nil
}

// S3Config holds the configuration of the S3 results publisher.
type S3Config struct {
	Enabled bool
	// Endpoint is the base URL of the S3 compatible service. Empty uses AWS.
	Endpoint   string
	Region     string
	AccessKey  string
	SecretKey  string
	Bucket     string
	Prefix     string
	PublicRead bool
}

// NewDefaultS3Config returns a new S3Config with default values
func NewDefaultS3Config() *S3Config {
	return &S3Config{
		Region: "us-east-1",
		Bucket: "ticketvote",
		Prefix: "results",
	}
}

// S3Publisher uploads every result as a JSON object named after its
// election, with the content id in the object metadata.
type S3Publisher struct {
	client *s3.Client
	config *S3Config
}

// NewS3Publisher creates a publisher with the provided configuration.
func NewS3Publisher(ctx context.Context, cfg *S3Config) (*S3Publisher, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, fmt.Errorf("s3 publishing not enabled")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	sdkConfig, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS SDK config: %w", err)
	}

	client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		// no trailing checksums, several S3 compatible services reject them
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})
	return &S3Publisher{client: client, config: cfg}, nil
}

func (p *S3Publisher) Name() string { return "s3" }

// ObjectKey returns the object key of the result of an election.
func (p *S3Publisher) ObjectKey(electionID string) string {
	return path.Join(p.config.Prefix, electionID+".json")
}

// Publish uploads the result.
func (p *S3Publisher) Publish(ctx context.Context, res *storage.Result) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(p.config.Bucket),
		Key:         aws.String(p.ObjectKey(res.ElectionID)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata:    map[string]string{"cid": res.CID},
	}
	if p.config.PublicRead {
		input.ACL = s3types.ObjectCannedACLPublicRead
	}

	log.Infow("uploading result to S3", "election", res.ElectionID, "bucket", p.config.Bucket, "key", *input.Key)
	if _, err := p.client.PutObject(ctx, input); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("failed to upload result of %s: %s: %w", res.ElectionID, apiErr.ErrorCode(), err)
		}
		return fmt.Errorf("failed to upload result of %s: %w", res.ElectionID, err)
	}
	return nil
}

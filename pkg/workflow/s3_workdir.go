package workflow

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3WorkdirProvider allocates a node's workdir as a key prefix in an S3
// bucket rather than a local directory, for deployments where task runners
// and the workflow node itself are not on the same machine. It marks the
// prefix with an empty placeholder object so the allocation is visible to
// anything listing the bucket before the task writes its own output.
type S3WorkdirProvider struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3WorkdirConfig configures an S3WorkdirProvider.
type S3WorkdirConfig struct {
	Bucket   string
	Region   string
	Endpoint string // optional custom endpoint, e.g. for MinIO
	Prefix   string // optional key prefix under which every run's tasks live
}

// NewS3WorkdirProvider builds a provider from cfg, resolving AWS credentials
// the standard SDK way (env vars, shared config, or an attached role).
func NewS3WorkdirProvider(ctx context.Context, cfg S3WorkdirConfig) (*S3WorkdirProvider, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("workflow: loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3WorkdirProvider{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Allocate writes a zero-byte marker object <key>.keep, where key is
// <prefix><run>/task-<nid>-<taskid>/ (Prefix is prepended as given, with no
// separator added), and returns key.
func (p *S3WorkdirProvider) Allocate(ctx context.Context, g *Graph, n *Node) (string, error) {
	key := fmt.Sprintf("%s%s/task-%s-%s/", p.prefix, g.RunID, n.NID, n.Session.TaskID)

	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key + ".keep"),
		Body:        nil,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("workflow: allocating s3 workdir %q: %w", key, err)
	}
	return key, nil
}

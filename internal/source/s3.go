package source

import (
	"context"
	stderrors "errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectGetter is the part of the S3 API used to stream objects.
// *s3.Client implements it.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Options configures the S3 client. Empty credentials use the default AWS
// credential chain.
type S3Options struct {
	Region          string
	Endpoint        string
	Profile         string
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Client creates an S3 client from opts.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}

func (o *Opener) s3Client(ctx context.Context) (ObjectGetter, error) {
	o.s3Once.Do(func() {
		if o.s3 != nil {
			return
		}
		o.s3, o.s3Err = NewS3Client(ctx, o.s3Options)
		if o.s3Err == nil {
			o.logger.Debug("created S3 client", map[string]interface{}{
				"region":   o.s3Options.Region,
				"endpoint": o.s3Options.Endpoint,
			})
		}
	})
	return o.s3, o.s3Err
}

func (o *Opener) openS3(ctx context.Context, loc Location) (*Body, error) {
	client, err := o.s3Client(ctx)
	if err != nil {
		return nil, openError(loc.String(), "cannot create S3 client", err)
	}

	var out *s3.GetObjectOutput
	err = o.retryer.Do(ctx, func(ctx context.Context) error {
		var getErr error
		out, getErr = client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(loc.Bucket),
			Key:    aws.String(loc.Path),
		})
		if getErr != nil {
			return translateS3Error(loc, getErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return &Body{ReadCloser: out.Body, Location: loc, Size: size}, nil
}

// translateS3Error maps GetObject failures to SOURCE_OPEN. Missing objects
// and buckets are final; anything else may be retried.
func translateS3Error(loc Location, err error) error {
	switch {
	case isErrorType[*s3types.NoSuchKey](err):
		return openError(loc.String(), "object not found", err)
	case isErrorType[*s3types.NoSuchBucket](err):
		return openError(loc.String(), "bucket not found: "+loc.Bucket, err)
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return openError(loc.String(), "GetObject interrupted", err)
	default:
		e := openError(loc.String(), "GetObject failed", err)
		e.Retryable = true
		return e
	}
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return stderrors.As(err, &target)
}

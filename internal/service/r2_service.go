package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var ErrInvalidDataURI = errors.New("invalid data uri")

// MediaStager hosts inline base64 media at a public URL so platforms can
// fetch it.
type MediaStager interface {
	Stage(ctx context.Context, userID int64, dataURI string) (string, models.MediaType, error)
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type R2Service struct {
	config config.R2
	client objectPutter
}

func NewR2Service(ctx context.Context, cfg config.R2) (*R2Service, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("load r2 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID))
	})
	return &R2Service{config: cfg, client: client}, nil
}

// UploadToR2 stores file under key in the configured bucket.
func (r *R2Service) UploadToR2(ctx context.Context, key string, file []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(r.config.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(file),
		ContentType: aws.String(contentType),
	}

	if _, err := r.client.PutObject(ctx, input); err != nil {
		slog.Error("upload to r2", "key", key, "error", err)
		return err
	}
	return nil
}

func (r *R2Service) Stage(ctx context.Context, userID int64, dataURI string) (string, models.MediaType, error) {
	declared, data, err := decodeDataURI(dataURI)
	if err != nil {
		return "", "", err
	}

	kind, err := filetype.Match(data)
	if err != nil || kind == types.Unknown {
		return "", "", fmt.Errorf("%w: unrecognised payload (declared %q)", ErrInvalidDataURI, declared)
	}

	var mediaType models.MediaType
	switch kind.MIME.Type {
	case "image":
		mediaType = models.MediaTypeImage
	case "video":
		mediaType = models.MediaTypeVideo
	default:
		return "", "", fmt.Errorf("%w: %s is not an image or video", ErrInvalidDataURI, kind.MIME.Value)
	}

	id, err := gonanoid.New()
	if err != nil {
		return "", "", err
	}
	key := fmt.Sprintf("media/%d/%s.%s", userID, id, kind.Extension)

	if err := r.UploadToR2(ctx, key, data, kind.MIME.Value); err != nil {
		return "", "", fmt.Errorf("stage media: %w", err)
	}

	return strings.TrimRight(r.config.PublicURL, "/") + "/" + key, mediaType, nil
}

// IsDataURI reports whether s carries inline media rather than a URL.
func IsDataURI(s string) bool {
	return strings.HasPrefix(s, "data:")
}

func decodeDataURI(s string) (string, []byte, error) {
	if !IsDataURI(s) {
		return "", nil, ErrInvalidDataURI
	}
	meta, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: missing payload", ErrInvalidDataURI)
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("%w: only base64 payloads are supported", ErrInvalidDataURI)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	}
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	if len(data) == 0 {
		return "", nil, fmt.Errorf("%w: empty payload", ErrInvalidDataURI)
	}
	return mediaType, data, nil
}

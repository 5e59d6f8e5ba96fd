package evidence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"

	"fulfillment-controlplane/pkg/config"

	"github.com/bwmarrin/snowflake"
	"github.com/minio/minio-go/v7"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrStorageDisabled = errors.New("evidence storage is not configured")

var Module = fx.Module("evidence.store", fx.Provide(NewStore))

// Object is an uploaded evidence artifact.
type Object struct {
	Key         string `json:"reference"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

type Store interface {
	Put(ctx context.Context, evidenceType, filename, contentType string, r io.Reader, size int64) (*Object, error)
}

type minioStore struct {
	client *minio.Client
	bucket string
	node   *snowflake.Node
}

type Params struct {
	fx.In
	Config *config.Config
	Client *minio.Client `optional:"true"`
	Node   *snowflake.Node
}

func NewStore(p Params) Store {
	return &minioStore{client: p.Client, bucket: p.Config.Minio.BucketName, node: p.Node}
}

func (s *minioStore) Put(ctx context.Context, evidenceType, filename, contentType string, r io.Reader, size int64) (*Object, error) {
	if s.client == nil {
		return nil, ErrStorageDisabled
	}

	key := ObjectKey(evidenceType, s.node.Generate().String(), filename)
	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		zap.L().Error("failed to upload evidence", zap.String("key", key), zap.Error(err))
		return nil, err
	}

	return &Object{Key: info.Key, ContentType: contentType, Size: info.Size}, nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// ObjectKey builds evidence/{type}/{id}/{filename} with path-unsafe
// characters replaced.
func ObjectKey(evidenceType, id, filename string) string {
	name := unsafeChars.ReplaceAllString(path.Base(filename), "_")
	if name == "" || name == "." || name == "_" {
		name = "object"
	}
	return fmt.Sprintf("evidence/%s/%s/%s", unsafeChars.ReplaceAllString(evidenceType, "_"), id, name)
}

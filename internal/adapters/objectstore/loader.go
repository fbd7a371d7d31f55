// Package objectstore loads agent meshes from MinIO / S3.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/singleflight"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/samirrijal/geoar/internal/core/domain"
	"github.com/samirrijal/geoar/internal/pkg/schema"
)

const (
	// DefaultMaxObjectBytes bounds a single mesh document.
	DefaultMaxObjectBytes = 8 << 20
	// DefaultFetchTimeout bounds one shared object fetch. Callers apply
	// their own deadlines on top.
	DefaultFetchTimeout = 15 * time.Second
)

// Config selects the MinIO endpoint and default bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Loader implements ports.AssetLoader on top of minio-go. Concurrent loads
// of the same object share one request, which runs detached from any
// single caller so each caller keeps its own deadline.
type Loader struct {
	client       *minio.Client
	bucket       string
	validator    *schema.Validator
	maxBytes     int64
	fetchTimeout time.Duration
	fetchObject  func(ctx context.Context, bucket, key string) (*domain.Mesh, error)
	group        singleflight.Group
}

// New creates a Loader. It does not contact the server.
func New(cfg Config) (*Loader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	v, err := schema.NewMeshValidator()
	if err != nil {
		return nil, err
	}
	l := &Loader{
		client:       client,
		bucket:       cfg.Bucket,
		validator:    v,
		maxBytes:     DefaultMaxObjectBytes,
		fetchTimeout: DefaultFetchTimeout,
	}
	l.fetchObject = l.fetch
	return l, nil
}

// Load fetches and decodes the mesh behind modelRef. References are either
// "s3://bucket/key" or a key in the default bucket.
func (l *Loader) Load(ctx context.Context, modelRef string) (*domain.Mesh, error) {
	bucket, key, err := SplitRef(modelRef, l.bucket)
	if err != nil {
		return nil, err
	}
	flight := l.group.DoChan(bucket+"/"+key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.fetchTimeout)
		defer cancel()
		return l.fetchObject(fctx, bucket, key)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("load %s: %w", modelRef, ctx.Err())
	case res := <-flight:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneMesh(res.Val.(*domain.Mesh)), nil
	}
}

func (l *Loader) fetch(ctx context.Context, bucket, key string) (*domain.Mesh, error) {
	obj, err := l.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, l.maxBytes+1))
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("object %s/%s: %w", bucket, key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("read %s/%s: %w", bucket, key, err)
	}
	if int64(len(data)) > l.maxBytes {
		return nil, fmt.Errorf("object %s/%s exceeds %d bytes", bucket, key, l.maxBytes)
	}

	mesh, err := DecodeMesh(data, l.validator)
	if err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", bucket, key, err)
	}
	if mesh.Name == "" {
		mesh.Name = key
	}
	return mesh, nil
}

// Store validates a mesh document and uploads it under modelRef.
func (l *Loader) Store(ctx context.Context, modelRef string, data []byte) error {
	bucket, key, err := SplitRef(modelRef, l.bucket)
	if err != nil {
		return err
	}
	if int64(len(data)) > l.maxBytes {
		return fmt.Errorf("object %s/%s exceeds %d bytes", bucket, key, l.maxBytes)
	}
	if err := l.validator.ValidateBytes(data); err != nil {
		return &domain.ValidationError{Field: "mesh", Reason: err.Error()}
	}
	_, err = l.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	l.group.Forget(bucket + "/" + key)
	return nil
}

// EnsureBucket creates the default bucket when it does not exist.
func (l *Loader) EnsureBucket(ctx context.Context) error {
	ok, err := l.client.BucketExists(ctx, l.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists %s: %w", l.bucket, err)
	}
	if ok {
		return nil
	}
	if err := l.client.MakeBucket(ctx, l.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket %s: %w", l.bucket, err)
	}
	return nil
}

// Ping checks that the default bucket is reachable.
func (l *Loader) Ping(ctx context.Context) error {
	ok, err := l.client.BucketExists(ctx, l.bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %s: %w", l.bucket, domain.ErrNotFound)
	}
	return nil
}

// SplitRef resolves a model reference into bucket and key.
func SplitRef(ref, defaultBucket string) (bucket, key string, err error) {
	ref = strings.TrimSpace(ref)
	if rest, ok := strings.CutPrefix(ref, "s3://"); ok {
		bucket, key, _ = strings.Cut(rest, "/")
	} else {
		bucket, key = defaultBucket, strings.TrimPrefix(ref, "/")
	}
	if bucket == "" || key == "" {
		return "", "", &domain.ValidationError{Field: "model_ref", Reason: fmt.Sprintf("cannot resolve %q", ref)}
	}
	return bucket, key, nil
}

type meshDocument struct {
	Name      string       `json:"name"`
	Primitive string       `json:"primitive"`
	Color     string       `json:"color"`
	Vertices  [][3]float64 `json:"vertices"`
}

// DecodeMesh validates and decodes a stored mesh document.
func DecodeMesh(data []byte, v *schema.Validator) (*domain.Mesh, error) {
	if v != nil {
		if err := v.ValidateBytes(data); err != nil {
			return nil, err
		}
	}
	var doc meshDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	mesh := &domain.Mesh{
		Name:      doc.Name,
		Primitive: doc.Primitive,
		Color:     doc.Color,
		Vertices:  make([]r3.Vec, len(doc.Vertices)),
	}
	if mesh.Primitive == "" {
		mesh.Primitive = "model"
	}
	for i, p := range doc.Vertices {
		mesh.Vertices[i] = r3.Vec{X: p[0], Y: p[1], Z: p[2]}
	}
	return mesh, nil
}

func cloneMesh(m *domain.Mesh) *domain.Mesh {
	out := *m
	out.Vertices = append([]r3.Vec(nil), m.Vertices...)
	return &out
}

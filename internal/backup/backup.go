// Package backup uploads the snapshot and ledger databases to an
// S3-compatible bucket (Cloudflare R2 or any compatible endpoint). It is
// grounded on the source's R2 backup service: stage a tar.gz archive with
// a checksum manifest, upload it, then prune anything past the retention
// window. A backup failure is always logged and never fatal — the engine
// keeps trading with or without off-site copies of its state.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/nullstate/arb/internal/config"
)

const archivePrefix = "arb-backup-"

// Client wraps an S3-compatible bucket reachable at a custom endpoint.
type Client struct {
	s3     *s3.Client
	bucket string
	log    zerolog.Logger
}

// NewClient builds a Client from cfg. It does not verify connectivity;
// the first Upload/List call will surface any credential or endpoint
// problem.
func NewClient(cfg config.BackupConfig, log zerolog.Logger) *Client {
	awsCfg := aws.Config{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})
	return &Client{s3: client, bucket: cfg.Bucket, log: log.With().Str("component", "backup").Logger()}
}

// Upload streams r (size bytes long) to key using the multipart uploader,
// so archives larger than a single PutObject are handled transparently.
func (c *Client) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	uploader := manager.NewUploader(c.s3)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	return err
}

// Object describes one backup archive stored in the bucket.
type Object struct {
	Key       string
	SizeBytes int64
	Timestamp time.Time
}

// List returns every archive whose key starts with archivePrefix, newest
// first.
func (c *Client) List(ctx context.Context) ([]Object, error) {
	out, err := c.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(archivePrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("backup: list objects: %w", err)
	}

	objects := make([]Object, 0, len(out.Contents))
	for _, o := range out.Contents {
		if o.Key == nil {
			continue
		}
		ts, ok := parseArchiveTimestamp(*o.Key)
		if !ok {
			continue
		}
		size := int64(0)
		if o.Size != nil {
			size = *o.Size
		}
		objects = append(objects, Object{Key: *o.Key, SizeBytes: size, Timestamp: ts})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Timestamp.After(objects[j].Timestamp) })
	return objects, nil
}

// Delete removes one archive by key.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(key)})
	return err
}

func parseArchiveTimestamp(key string) (time.Time, bool) {
	if !strings.HasPrefix(key, archivePrefix) || !strings.HasSuffix(key, ".tar.gz") {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(key, archivePrefix), ".tar.gz")
	ts, err := time.Parse("2006-01-02-150405", stamp)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// manifest mirrors the source's backup-metadata.json: one checksummed
// entry per archived file.
type manifest struct {
	Timestamp time.Time      `json:"timestamp"`
	Files     []manifestFile `json:"files"`
}

type manifestFile struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// Uploader is the bucket surface Service depends on. *Client satisfies
// it; tests supply an in-memory stub so archive staging logic can be
// exercised without a live S3-compatible endpoint.
type Uploader interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64) error
	List(ctx context.Context) ([]Object, error)
	Delete(ctx context.Context, key string) error
}

// Service archives and uploads the data directory's databases on a
// schedule driven by the caller (see internal/scheduler).
type Service struct {
	client  Uploader
	dataDir string
	log     zerolog.Logger
}

// NewService constructs a Service backing up the sqlite files under
// dataDir ("snapshot.db", "ledger.db").
func NewService(client Uploader, dataDir string, log zerolog.Logger) *Service {
	return &Service{client: client, dataDir: dataDir, log: log.With().Str("component", "backup_service").Logger()}
}

// Run stages, archives and uploads one backup of every *.db file present
// in dataDir.
func (s *Service) Run(ctx context.Context) error {
	started := time.Now()

	stagingDir, err := os.MkdirTemp("", "arb-backup-staging-*")
	if err != nil {
		return fmt.Errorf("backup: staging dir: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	dbFiles, err := filepath.Glob(filepath.Join(s.dataDir, "*.db"))
	if err != nil {
		return fmt.Errorf("backup: glob data dir: %w", err)
	}
	if len(dbFiles) == 0 {
		return fmt.Errorf("backup: no database files found under %s", s.dataDir)
	}

	m := manifest{Timestamp: started.UTC()}
	for _, dbPath := range dbFiles {
		checksum, size, err := checksumFile(dbPath)
		if err != nil {
			return fmt.Errorf("backup: checksum %s: %w", dbPath, err)
		}
		m.Files = append(m.Files, manifestFile{Name: filepath.Base(dbPath), SizeBytes: size, Checksum: checksum})
	}

	manifestPath := filepath.Join(stagingDir, "manifest.json")
	if err := writeManifest(manifestPath, m); err != nil {
		return fmt.Errorf("backup: write manifest: %w", err)
	}

	archiveName := archivePrefix + started.Format("2006-01-02-150405") + ".tar.gz"
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, append(dbFiles, manifestPath)); err != nil {
		return fmt.Errorf("backup: create archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("backup: open archive: %w", err)
	}
	defer archiveFile.Close()

	info, err := archiveFile.Stat()
	if err != nil {
		return fmt.Errorf("backup: stat archive: %w", err)
	}

	if err := s.client.Upload(ctx, archiveName, archiveFile, info.Size()); err != nil {
		return fmt.Errorf("backup: upload: %w", err)
	}

	s.log.Info().Str("archive", archiveName).Dur("duration", time.Since(started)).Int64("size_bytes", info.Size()).Msg("backup uploaded")
	return nil
}

// Rotate deletes archives older than retention, always keeping the
// newest minKeep regardless of age.
func (s *Service) Rotate(ctx context.Context, retention time.Duration, minKeep int) error {
	objects, err := s.client.List(ctx)
	if err != nil {
		return fmt.Errorf("backup: list for rotation: %w", err)
	}
	if len(objects) <= minKeep {
		return nil
	}

	cutoff := time.Now().Add(-retention)
	deleted := 0
	for i, obj := range objects {
		if i < minKeep || !obj.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.client.Delete(ctx, obj.Key); err != nil {
			s.log.Warn().Err(err).Str("key", obj.Key).Msg("failed to delete old backup")
			continue
		}
		deleted++
	}
	s.log.Info().Int("deleted", deleted).Int("remaining", len(objects)-deleted).Msg("backup rotation complete")
	return nil
}

func checksumFile(path string) (checksum string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", 0, err
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("sha256:%x", h.Sum(nil)), info.Size(), nil
}

func writeManifest(path string, m manifest) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

func createArchive(archivePath string, files []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer archiveFile.Close()

	gz := gzip.NewWriter(archiveFile)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, path := range files {
		if err := addFileToArchive(tw, path); err != nil {
			return err
		}
	}
	return nil
}

func addFileToArchive(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{Name: filepath.Base(path), Size: info.Size(), Mode: int64(info.Mode()), ModTime: info.ModTime()}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

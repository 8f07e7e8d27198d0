package storage

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"
)

const archiveMagic = "GCM3NCR0"

// Archiver stores finished job results in S3, optionally encrypted with a
// shared password so archives are unreadable without it.
type Archiver struct {
	client   *s3.Client
	bucket   string
	prefix   string
	password string
}

// NewArchiver creates an S3-backed archiver. The password may be empty, in
// which case results are stored as plain text.
func NewArchiver(ctx context.Context, bucket, prefix, password string) (*Archiver, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &Archiver{
		client:   s3.NewFromConfig(cfg),
		bucket:   bucket,
		prefix:   prefix,
		password: password,
	}, nil
}

func (a *Archiver) key(jobID string) string {
	return path.Join(a.prefix, jobID+".txt")
}

// ArchiveResult uploads the aggregated text of a finished job.
func (a *Archiver) ArchiveResult(ctx context.Context, jobID, text string, meta map[string]string) error {
	data := []byte(text)
	encrypted := false
	if a.password != "" {
		var err error
		data, err = encryptGCM(data, a.password)
		if err != nil {
			return fmt.Errorf("failed to encrypt archive: %w", err)
		}
		encrypted = true
	}

	s3Meta := map[string]string{"encrypted": fmt.Sprintf("%t", encrypted)}
	for k, v := range meta {
		s3Meta[strings.ToLower(k)] = v
	}

	key := a.key(jobID)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(a.bucket),
		Key:      aws.String(key),
		Body:     bytes.NewReader(data),
		Metadata: s3Meta,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Info().
		Str("job_id", jobID).
		Str("key", key).
		Bool("encrypted", encrypted).
		Int("size", len(data)).
		Msg("archived job result")
	return nil
}

// FetchResult downloads a previously archived job result and decrypts it
// when needed.
func (a *Archiver) FetchResult(ctx context.Context, jobID string) (string, error) {
	key := a.key(jobID)
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to download from S3: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read S3 object: %w", err)
	}

	if len(data) >= len(archiveMagic) && string(data[:len(archiveMagic)]) == archiveMagic {
		if a.password == "" {
			return "", fmt.Errorf("archive %s is encrypted but no password configured", key)
		}
		data, err = decryptGCM(data, a.password)
		if err != nil {
			return "", fmt.Errorf("failed to decrypt archive: %w", err)
		}
	}

	return string(data), nil
}

// encryptGCM produces magic(8) + salt(16) + nonce(12) + ciphertext.
func encryptGCM(data []byte, password string) ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, 100000, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	result := make([]byte, 0, len(archiveMagic)+len(salt)+len(nonce)+len(data)+gcm.Overhead())
	result = append(result, []byte(archiveMagic)...)
	result = append(result, salt...)
	result = append(result, nonce...)
	result = gcm.Seal(result, nonce, data, nil)
	return result, nil
}

func decryptGCM(data []byte, password string) ([]byte, error) {
	// magic(8) + salt(16) + nonce(12) + ciphertext + tag(16)
	if len(data) < 8+16+12+16 {
		return nil, fmt.Errorf("encrypted data too short: %d bytes", len(data))
	}
	salt := data[8:24]
	nonce := data[24:36]
	ciphertext := data[36:]

	key := pbkdf2.Key([]byte(password), salt, 100000, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("GCM decryption failed: %w", err)
	}
	return plaintext, nil
}

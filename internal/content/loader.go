// internal/content/loader.go
package content

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-menu/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-menu/internal/log"
	"github.com/keithlinneman/linnemanlabs-menu/internal/xerrors"
)

// S3API is the subset of the S3 client used by the Loader.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// SSMAPI is the subset of the SSM client used by the Loader.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SignatureVerifier checks a detached signature over a content document.
// Implemented by cryptoutil.KMSVerifier.
type SignatureVerifier interface {
	VerifySignature(ctx context.Context, message, signature []byte) error
}

type LoaderOptions struct {
	Logger log.Logger

	// SSM parameter holding the SHA256 of the published document
	SSMParam string

	// S3 location for documents: s3://{bucket}/{prefix}/{hash}.json
	S3Bucket string
	S3Prefix string

	// Verifier checks {hash}.json.sig when set. Without RequireSignature a
	// missing signature object is logged and tolerated.
	Verifier         SignatureVerifier
	RequireSignature bool

	// MaxDocumentSize caps the downloaded document. Zero uses the default.
	MaxDocumentSize int64

	// AWS config (uses default if nil)
	AWSConfig *aws.Config

	// Clients override the ones built from AWSConfig.
	S3Client  S3API
	SSMClient SSMAPI
}

type Loader struct {
	opts      LoaderOptions
	ssmClient SSMAPI
	s3Client  S3API
	logger    log.Logger
}

// NewLoader creates a new content Loader with the given options
func NewLoader(ctx context.Context, opts LoaderOptions) (*Loader, error) {
	if opts.SSMParam == "" {
		return nil, xerrors.New("SSMParam is required")
	}
	if opts.S3Bucket == "" {
		return nil, xerrors.New("S3Bucket is required")
	}
	if opts.RequireSignature && opts.Verifier == nil {
		return nil, xerrors.New("RequireSignature needs a Verifier")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.MaxDocumentSize <= 0 {
		opts.MaxDocumentSize = maxDocumentSize
	}

	s3c, ssmc := opts.S3Client, opts.SSMClient
	if s3c == nil || ssmc == nil {
		var awsCfg aws.Config
		var err error
		if opts.AWSConfig != nil {
			awsCfg = *opts.AWSConfig
		} else {
			awsCfg, err = config.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, xerrors.Wrap(err, "load AWS config")
			}
		}
		if s3c == nil {
			s3c = s3.NewFromConfig(awsCfg)
		}
		if ssmc == nil {
			ssmc = ssm.NewFromConfig(awsCfg)
		}
	}

	return &Loader{
		opts:      opts,
		ssmClient: ssmc,
		s3Client:  s3c,
		logger:    opts.Logger,
	}, nil
}

// FetchCurrentHash reads the hash of the published content document from SSM.
func (l *Loader) FetchCurrentHash(ctx context.Context) (string, error) {
	out, err := l.ssmClient.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(l.opts.SSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", l.opts.SSMParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", l.opts.SSMParam)
	}

	hash := strings.ToLower(strings.TrimSpace(*out.Parameter.Value))
	if hash == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", l.opts.SSMParam)
	}

	return hash, nil
}

// s3Key returns the S3 object key for a given hash
func (l *Loader) s3Key(hash string) string {
	prefix := strings.Trim(l.opts.S3Prefix, "/")
	if prefix != "" {
		return fmt.Sprintf("%s/%s.json", prefix, hash)
	}
	return fmt.Sprintf("%s.json", hash)
}

func (l *Loader) getObject(ctx context.Context, key string) ([]byte, string, error) {
	out, err := l.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.opts.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", err
	}
	defer out.Body.Close()
	return readWithHash(out.Body, l.opts.MaxDocumentSize)
}

// Download fetches a document from S3 and verifies its checksum.
func (l *Loader) Download(ctx context.Context, hash string) ([]byte, error) {
	key := l.s3Key(hash)

	l.logger.Info(ctx, "downloading content document",
		"bucket", l.opts.S3Bucket,
		"key", key,
		"expected_hash", hash,
	)

	data, actualHash, err := l.getObject(ctx, key)
	if err != nil {
		return nil, xerrors.Wrapf(err, "get S3 object s3://%s/%s", l.opts.S3Bucket, key)
	}

	l.logger.Info(ctx, "downloaded content document",
		"bytes", len(data),
		"actual_hash", actualHash,
	)

	// always compare hashes with cryptoutil.HashEqual
	if !cryptoutil.HashEqual(actualHash, hash) {
		return nil, xerrors.Newf("checksum mismatch: expected %s, got %s", hash, actualHash)
	}

	return data, nil
}

// verifySignature fetches {key}.sig (base64) and checks it against data.
// Returns whether a signature was verified.
func (l *Loader) verifySignature(ctx context.Context, key string, data []byte) (bool, error) {
	if l.opts.Verifier == nil {
		return false, nil
	}

	sigKey := key + ".sig"
	raw, _, err := l.getObject(ctx, sigKey)
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) && !l.opts.RequireSignature {
			l.logger.Warn(ctx, "content document has no signature, continuing unsigned",
				"key", sigKey,
			)
			return false, nil
		}
		return false, xerrors.Wrapf(err, "get signature s3://%s/%s", l.opts.S3Bucket, sigKey)
	}

	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return false, xerrors.Wrapf(err, "decode signature %s", sigKey)
	}
	if err := l.opts.Verifier.VerifySignature(ctx, data, sig); err != nil {
		return false, xerrors.Wrapf(err, "verify signature %s", sigKey)
	}
	return true, nil
}

// Load fetches the current release and returns a Snapshot
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	hash, err := l.FetchCurrentHash(ctx)
	if err != nil {
		return nil, err
	}

	return l.LoadHash(ctx, hash)
}

// LoadHash fetches the document with the given hash and returns a Snapshot
func (l *Loader) LoadHash(ctx context.Context, hash string) (*Snapshot, error) {
	loadedAt := time.Now().UTC()

	data, err := l.Download(ctx, hash)
	if err != nil {
		return nil, err
	}

	signed, err := l.verifySignature(ctx, l.s3Key(hash), data)
	if err != nil {
		return nil, err
	}

	doc, err := Decode(l.s3Key(hash), data)
	if err != nil {
		return nil, err
	}

	snap, err := doc.Snapshot(Meta{
		Hash:          hash,
		HashAlgorithm: "sha256",
		Source:        SourceS3,
		Signed:        signed,
		VerifiedAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "build content tree %s", truncHash(hash))
	}
	snap.LoadedAt = loadedAt

	l.logger.Info(ctx, "loaded content document",
		"hash", truncHash(hash),
		"version", snap.Meta.Version,
		"items", snap.Tree.Len(),
		"signed", signed,
	)

	return snap, nil
}

// LoadIntoManager fetches the current release and updates the content manager
func (l *Loader) LoadIntoManager(ctx context.Context, mgr *Manager) error {
	snap, err := l.Load(ctx)
	if err != nil {
		return err
	}
	mgr.Set(*snap)
	return nil
}

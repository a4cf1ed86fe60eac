package main

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-menu/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-menu/internal/content"
	"github.com/keithlinneman/linnemanlabs-menu/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-menu/internal/kvstore"
	"github.com/keithlinneman/linnemanlabs-menu/internal/log"
	"github.com/keithlinneman/linnemanlabs-menu/internal/menu"
	"github.com/keithlinneman/linnemanlabs-menu/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-menu/internal/sqlstore"
	"github.com/keithlinneman/linnemanlabs-menu/internal/webassets"
	"github.com/keithlinneman/linnemanlabs-menu/internal/xerrors"
)

// persistentStore mirrors the active snapshot so the API can serve from it
// and a restart can recover the last good content when the source is down.
type persistentStore interface {
	menu.Store
	Import(ctx context.Context, snap *content.Snapshot) error
	Load(ctx context.Context) (*content.Snapshot, error)
	Close() error
}

func openStore(ctx context.Context, conf cfg.App, L log.Logger) (persistentStore, error) {
	switch conf.Store {
	case cfg.StoreBadger:
		s, err := kvstore.Open(kvstore.Options{Dir: filepath.Join(conf.DataDir, "badger"), Logger: L})
		if err != nil {
			return nil, err
		}
		return s, nil
	case cfg.StoreSQLite:
		s, err := sqlstore.Open(sqlstore.Options{Dir: conf.DataDir, Logger: L})
		if err != nil {
			return nil, err
		}
		L.Info(ctx, "opened sqlite content store", "path", s.Path())
		return s, nil
	default:
		return nil, nil
	}
}

// mirror copies snap into the persistent store, if any.
func mirror(ctx context.Context, L log.Logger, m *metrics.ServerMetrics, backend string, store persistentStore, snap *content.Snapshot) {
	if store == nil || snap == nil {
		return
	}
	start := time.Now()
	err := store.Import(ctx, snap)
	m.ObserveStoreImport(backend, time.Since(start).Seconds(), err)
	if err != nil {
		L.Error(ctx, err, "failed to import content into store", "store", backend, "content_hash", snap.Meta.Hash)
		return
	}
	L.Info(ctx, "imported content into store", "store", backend, "items", snap.Tree.Len())
}

func newS3Loader(ctx context.Context, conf cfg.App, L log.Logger) (*content.Loader, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, xerrors.Wrap(err, "load AWS config")
	}

	var verifier content.SignatureVerifier
	if conf.ContentSigningKeyARN != "" {
		kv := cryptoutil.NewKMSVerifier(kms.NewFromConfig(awsCfg), conf.ContentSigningKeyARN)
		L.Info(ctx, "content signature verification enabled", "key_arn", kv.KeyARN())
		verifier = kv
	}

	return content.NewLoader(ctx, content.LoaderOptions{
		Logger:           L,
		SSMParam:         conf.ContentSSMParam,
		S3Bucket:         conf.ContentS3Bucket,
		S3Prefix:         conf.ContentS3Prefix,
		S3Client:         s3.NewFromConfig(awsCfg),
		SSMClient:        ssm.NewFromConfig(awsCfg),
		Verifier:         verifier,
		RequireSignature: conf.RequireContentSignature,
	})
}

// loadInitial returns the first snapshot to serve. When the configured
// source fails it tries the persistent store, then the embedded seed.
func loadInitial(ctx context.Context, conf cfg.App, L log.Logger, loader *content.Loader, store persistentStore) (snap *content.Snapshot, restored bool, err error) {
	switch conf.ContentSource {
	case cfg.SourceFile:
		snap, err = content.LoadFile(conf.ContentFile)
	case cfg.SourceS3:
		if loader == nil {
			err = xerrors.New("content loader unavailable")
		} else {
			snap, err = loader.Load(ctx)
		}
	default:
		snap, err = webassets.SeedSnapshot()
	}
	if err == nil {
		err = content.ValidateSnapshot(snap, content.DefaultValidationOptions())
	}
	if err == nil {
		return snap, false, nil
	}
	L.Error(ctx, err, "failed to load content from configured source", "content_source", conf.ContentSource)

	if store != nil {
		prev, lerr := store.Load(ctx)
		switch {
		case lerr == nil:
			verr := content.ValidateSnapshot(prev, content.DefaultValidationOptions())
			if verr == nil {
				L.Warn(ctx, "serving last imported content from store",
					"store", conf.Store,
					"content_version", prev.Meta.Version,
					"content_hash", prev.Meta.Hash,
				)
				return prev, true, nil
			}
			L.Error(ctx, verr, "stored content failed validation")
		case errors.Is(lerr, kvstore.ErrEmpty), errors.Is(lerr, sqlstore.ErrEmpty):
			L.Info(ctx, "store holds no content to restore", "store", conf.Store)
		default:
			L.Error(ctx, lerr, "failed to restore content from store", "store", conf.Store)
		}
	}

	if conf.ContentSource == cfg.SourceSeed {
		return nil, false, err
	}
	seed, serr := webassets.SeedSnapshot()
	if serr != nil {
		return nil, false, errors.Join(err, serr)
	}
	L.Warn(ctx, "falling back to seed content")
	return seed, false, nil
}

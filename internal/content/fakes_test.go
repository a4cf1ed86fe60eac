package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/keithlinneman/linnemanlabs-menu/internal/contentpath"
	"github.com/keithlinneman/linnemanlabs-menu/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-menu/internal/log"
)

const (
	testSSMParam = "/linnemanlabs/menu/content-hash"
	testBucket   = "content-bucket"
	testS3Prefix = "menu/bundles"
)

// fakeS3 serves objects from memory, keyed by object key.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
	gets    []string
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	f.gets = append(f.gets, key)
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("no such key: " + key)}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) put(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
}

// fakeSSM returns a single parameter value.
type fakeSSM struct {
	mu    sync.Mutex
	value *string
	err   error
}

func ssmWithValue(v string) *fakeSSM { return &fakeSSM{value: aws.String(v)} }

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{Name: in.Name, Value: f.value},
	}, nil
}

func (f *fakeSSM) set(v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = aws.String(v)
	f.err = nil
}

func (f *fakeSSM) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// fakeVerifier accepts a signature equal to want.
type fakeVerifier struct {
	want  []byte
	calls int
}

func (v *fakeVerifier) VerifySignature(_ context.Context, _, signature []byte) error {
	v.calls++
	if !bytes.Equal(signature, v.want) {
		return errors.New("signature mismatch")
	}
	return nil
}

func newTestLoader(s3c *fakeS3, ssmc *fakeSSM) *Loader {
	return &Loader{
		opts: LoaderOptions{
			Logger:        log.Nop(),
			SSMParam:      testSSMParam,
			S3Bucket:      testBucket,
			S3Prefix:      testS3Prefix,
			MaxDocumentSize: maxDocumentSize,
		},
		s3Client:  s3c,
		ssmClient: ssmc,
		logger:    log.Nop(),
	}
}

// sampleDocument is a small site:
//
//	/site (menu root, childOrder displayName ASC)
//	/site/blog, /site/about (menu items), /site/blog/first-post
func sampleDocument(version string) Document {
	return Document{
		Version: version,
		Site:    "/site",
		Items: []DocumentItem{
			{Path: "/site", DisplayName: "Home", Type: "portal:site", ChildOrder: "displayName ASC"},
			{Path: "/site/blog", DisplayName: "Blog", MenuItem: true},
			{Path: "/site/about", DisplayName: "About", MenuItem: true, MenuName: "About us"},
			{Path: "/site/blog/first-post", DisplayName: "First post", Type: "article",
				Data: map[string]any{"author": "keith"}, ModifiedTime: "2025-01-02T03:04:05Z"},
		},
	}
}

// storeDocument encodes doc as JSON, stores it under its hash and returns the hash.
func storeDocument(t *testing.T, s3c *fakeS3, doc Document) (string, []byte) {
	t.Helper()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal document: %v", err)
	}
	hash := cryptoutil.SHA256Hex(data)
	s3c.put(testS3Prefix+"/"+hash+".json", data)
	return hash, data
}

func mustTree(t *testing.T, items ...Item) *Tree {
	t.Helper()
	tree, err := NewTree(items)
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	return tree
}

func itemAt(path string) Item {
	return Item{Path: contentpath.MustParse(path)}
}

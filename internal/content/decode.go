package content

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"go.yaml.in/yaml/v2"

	"github.com/keithlinneman/linnemanlabs-menu/internal/contentpath"
	"github.com/keithlinneman/linnemanlabs-menu/internal/xerrors"
)

// maxDocumentSize bounds any content document read from disk, embed or s3
const maxDocumentSize int64 = 10 * 1024 * 1024 // 10MB

// Document is the on-disk form of a content tree.
type Document struct {
	Version string         `json:"version" yaml:"version" toml:"version"`
	Site    string         `json:"site" yaml:"site" toml:"site"`
	Items   []DocumentItem `json:"items" yaml:"items" toml:"items"`
}

type DocumentItem struct {
	ID           string         `json:"id,omitempty" yaml:"id,omitempty" toml:"id,omitempty"`
	Path         string         `json:"path" yaml:"path" toml:"path"`
	DisplayName  string         `json:"displayName,omitempty" yaml:"displayName,omitempty" toml:"displayName,omitempty"`
	Type         string         `json:"type,omitempty" yaml:"type,omitempty" toml:"type,omitempty"`
	Data         map[string]any `json:"data,omitempty" yaml:"data,omitempty" toml:"data,omitempty"`
	MenuItem     bool           `json:"menuItem,omitempty" yaml:"menuItem,omitempty" toml:"menuItem,omitempty"`
	MenuName     string         `json:"menuName,omitempty" yaml:"menuName,omitempty" toml:"menuName,omitempty"`
	NewWindow    bool           `json:"newWindow,omitempty" yaml:"newWindow,omitempty" toml:"newWindow,omitempty"`
	ChildOrder   string         `json:"childOrder,omitempty" yaml:"childOrder,omitempty" toml:"childOrder,omitempty"`
	ModifiedTime string         `json:"modifiedTime,omitempty" yaml:"modifiedTime,omitempty" toml:"modifiedTime,omitempty"`
}

// Decode parses a content document. The format is chosen from the extension of
// name: .json, .yaml/.yml or .toml.
func Decode(name string, data []byte) (*Document, error) {
	var doc Document
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, xerrors.Wrapf(err, "decode json document %s", name)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, xerrors.Wrapf(err, "decode yaml document %s", name)
		}
		// yaml.v2 decodes nested mappings with interface keys
		for i := range doc.Items {
			if doc.Items[i].Data != nil {
				doc.Items[i].Data = stringKeys(doc.Items[i].Data).(map[string]any)
			}
		}
	case ".toml":
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, xerrors.Wrapf(err, "decode toml document %s", name)
		}
	default:
		return nil, xerrors.Newf("unsupported content document type %q (%s)", ext, name)
	}
	return &doc, nil
}

// stringKeys converts map[interface{}]interface{} values produced by yaml.v2 into
// map[string]any so the data can be encoded as JSON.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = stringKeys(val)
		}
		return m
	case map[string]any:
		for k, val := range t {
			t[k] = stringKeys(val)
		}
		return t
	case []any:
		for i := range t {
			t[i] = stringKeys(t[i])
		}
		return t
	default:
		return v
	}
}

// ToItems converts the document entries into content items.
func (d *Document) ToItems() ([]Item, error) {
	items := make([]Item, 0, len(d.Items))
	for i, di := range d.Items {
		p, err := contentpath.Parse(di.Path)
		if err != nil {
			return nil, xerrors.Wrapf(err, "item %d", i)
		}
		var mod time.Time
		if di.ModifiedTime != "" {
			mod, err = time.Parse(time.RFC3339, di.ModifiedTime)
			if err != nil {
				return nil, xerrors.Wrapf(err, "item %s: modifiedTime", p)
			}
		}
		items = append(items, Item{
			ID:          di.ID,
			Path:        p,
			DisplayName: di.DisplayName,
			Type:        di.Type,
			Data:        di.Data,
			Menu: MenuSettings{
				MenuItem:  di.MenuItem,
				MenuName:  di.MenuName,
				NewWindow: di.NewWindow,
			},
			ChildOrder:   di.ChildOrder,
			ModifiedTime: mod.UTC(),
		})
	}
	return items, nil
}

// Snapshot builds the tree described by the document. meta.Version defaults to
// the document version.
func (d *Document) Snapshot(meta Meta) (*Snapshot, error) {
	items, err := d.ToItems()
	if err != nil {
		return nil, err
	}
	tree, err := NewTree(items)
	if err != nil {
		return nil, err
	}
	site := contentpath.Root
	if d.Site != "" {
		site, err = contentpath.Parse(d.Site)
		if err != nil {
			return nil, xerrors.Wrap(err, "site")
		}
	}
	if meta.Version == "" {
		meta.Version = d.Version
	}
	return &Snapshot{Tree: tree, Site: site, Meta: meta}, nil
}

// readWithHash reads all bytes from r up to maxSize, computing SHA256
// as it reads. Returns the data, hex-encoded hash, and any error.
func readWithHash(r io.Reader, maxSize int64) ([]byte, string, error) {
	h := sha256.New()
	lr := io.LimitReader(r, maxSize+1)
	tr := io.TeeReader(lr, h)

	data, err := io.ReadAll(tr)
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > maxSize {
		return nil, "", fmt.Errorf("content exceeds max size (%d bytes, limit %d)", len(data), maxSize)
	}

	return data, hex.EncodeToString(h.Sum(nil)), nil
}

func loadReader(name string, r io.Reader, source Source) (*Snapshot, error) {
	data, hash, err := readWithHash(r, maxDocumentSize)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read %s", name)
	}
	doc, err := Decode(name, data)
	if err != nil {
		return nil, err
	}
	return doc.Snapshot(Meta{
		Hash:          hash,
		HashAlgorithm: "sha256",
		VerifiedAt:    time.Now().UTC(),
		Source:        source,
	})
}

// LoadFile reads and decodes a content document from disk.
func LoadFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open content file %s", path)
	}
	defer f.Close()
	return loadReader(path, f, SourceFile)
}

// LoadFS reads and decodes a content document from fsys, typically the embedded seed.
func LoadFS(fsys fs.FS, name string, source Source) (*Snapshot, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open content %s", name)
	}
	defer f.Close()
	return loadReader(name, f, source)
}

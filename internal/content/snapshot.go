package content

import (
	"time"

	"github.com/keithlinneman/linnemanlabs-menu/internal/contentpath"
)

type Source string

const (
	SourceUnknown Source = "unknown"
	SourceSeed    Source = "seed"
	SourceFile    Source = "file"
	SourceS3      Source = "s3"
)

type Meta struct {
	Version       string    `json:"version,omitempty"`
	Hash          string    `json:"hash,omitempty"`
	HashAlgorithm string    `json:"hash_algorithm,omitempty"`
	VerifiedAt    time.Time `json:"verified_at,omitzero"`
	Signed        bool      `json:"signed"`
	Source        Source    `json:"source,omitempty"`
}

// Snapshot is one loaded version of the content tree. Site is the path of the
// item that acts as the home page for menus.
type Snapshot struct {
	Tree     *Tree
	Site     contentpath.Path
	Meta     Meta
	LoadedAt time.Time
}

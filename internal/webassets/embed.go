// Package webassets embeds the seed content served until a real source loads.
package webassets

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/keithlinneman/linnemanlabs-menu/internal/content"
)

// SeedDocument is the name of the seed content document inside SeedFS.
const SeedDocument = "site.yaml"

//go:embed seed
var embedded embed.FS

func SeedFS() fs.FS {
	sub, err := fs.Sub(embedded, "seed")
	if err != nil {
		panic(fmt.Errorf("webassets: seed subfs: %w", err))
	}
	return sub
}

// SeedSnapshot decodes the embedded seed document.
func SeedSnapshot() (*content.Snapshot, error) {
	return content.LoadFS(SeedFS(), SeedDocument, content.SourceSeed)
}

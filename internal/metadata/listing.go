package metadata

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/devblac/certiblock/internal/ipfs"
)

// UnknownTokenID is reported for listed documents that carry no token id attribute.
const UnknownTokenID = "unknown"

// Entry is one locally stored certificate document prepared for browsing.
type Entry struct {
	File     string    `json:"file"`
	TokenID  string    `json:"tokenId"`
	Name     string    `json:"name"`
	Image    string    `json:"image,omitempty"`
	Metadata *Metadata `json:"metadata"`
}

// LoadDir reads every *.json document in dir, sorted by file name. Files that cannot be read or
// parsed are skipped. Images are normalized to the first gateway when resolver is non-nil.
func LoadDir(dir string, resolver *ipfs.Resolver, log *slog.Logger) ([]Entry, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read metadata dir: %w", err)
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		if f.IsDir() || !strings.EqualFold(filepath.Ext(f.Name()), ".json") {
			continue
		}
		names = append(names, f.Name())
	}
	sort.Strings(names)

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			if log != nil {
				log.Debug("skip metadata file", "file", name, "err", err)
			}
			continue
		}
		md, err := Parse(raw)
		if err != nil {
			if log != nil {
				log.Debug("skip metadata file", "file", name, "err", err)
			}
			continue
		}
		entries = append(entries, newEntry(name, md, resolver))
	}
	return entries, nil
}

func newEntry(file string, md *Metadata, resolver *ipfs.Resolver) Entry {
	id, ok := md.Trait(TokenIDTrait)
	if !ok || strings.TrimSpace(id) == "" {
		id = UnknownTokenID
	}
	image := md.ImageRef()
	if resolver != nil && image != "" {
		if u := resolver.Normalize(image); u != "" {
			image = u
		}
	}
	return Entry{
		File:     file,
		TokenID:  strings.TrimSpace(id),
		Name:     md.Name,
		Image:    image,
		Metadata: md,
	}
}

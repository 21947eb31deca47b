package freeze

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"

	"shrinkwrap-tools/go/pkg/distinfo"
	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/fsutil"
)

// Record is the frozen view of one installed distribution. Fields are
// declared in key order so the encoded document is stable.
type Record struct {
	EntryPoints []distinfo.EntryPoint `json:"entry_points"`
	Name        string                `json:"name"`
	Packages    []string              `json:"packages"`
	Requires    []string              `json:"requires"`
	Version     string                `json:"version"`
}

// Metadata maps lowercase distribution names to their records.
type Metadata map[string]Record

// Lookup finds a record by distribution name, ignoring case.
func (m Metadata) Lookup(name string) (Record, bool) {
	r, ok := m[strings.ToLower(name)]
	return r, ok
}

// CollectMetadata reads every record under siteDir. Records without a
// version are left out.
func CollectMetadata(siteDir string) (Metadata, error) {
	dists, err := distinfo.Scan(siteDir)
	if err != nil {
		return nil, swerrors.Wrap(swerrors.KindBuild, err, "failed to scan installed metadata in %s", siteDir).WithPath(siteDir)
	}
	m := make(Metadata, len(dists))
	for _, d := range dists {
		if d.Name == "" || d.Version == "" {
			continue
		}
		m[strings.ToLower(d.Name)] = Record{
			EntryPoints: orEmpty(d.EntryPoints),
			Name:        d.Name,
			Packages:    orEmpty(d.Modules),
			Requires:    orEmpty(d.Requires),
			Version:     d.Version,
		}
	}
	return m, nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Encode renders m as indented JSON with sorted keys.
func (m Metadata) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteMetadata stores m at path.
func WriteMetadata(path string, m Metadata) error {
	data, err := m.Encode()
	if err != nil {
		return swerrors.Wrap(swerrors.KindBuild, err, "failed to encode frozen metadata")
	}
	return fsutil.AtomicWrite(path, data, 0644)
}

// ReadMetadata loads a document written by WriteMetadata.
func ReadMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, swerrors.Wrap(swerrors.KindFilesystem, err, "failed to read frozen metadata").WithPath(path)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, swerrors.Wrap(swerrors.KindBuild, err, "invalid frozen metadata").WithPath(path)
	}
	return m, nil
}

// Package distinfo reads installed-distribution records (*.dist-info and
// *.egg-info directories) from a site-packages tree.
package distinfo

import (
	"bufio"
	"encoding/csv"
	"io"
	"net/mail"
	"net/textproto"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"shrinkwrap-tools/go/pkg/imports"

	"github.com/go-ini/ini"
)

const (
	DistInfoSuffix = ".dist-info"
	EggInfoSuffix  = ".egg-info"
)

// EntryPoint is one declaration from entry_points.txt.
type EntryPoint struct {
	Group string `json:"group"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Distribution is what an installed record says about one package.
type Distribution struct {
	Dir         string
	Name        string
	Version     string
	Requires    []string
	Modules     []string
	EntryPoints []EntryPoint
}

// Read loads the record at dir. Missing optional files leave the matching
// fields empty; the name falls back to the directory name.
func Read(dir string) Distribution {
	d := Distribution{Dir: dir}
	headers := readHeaders(dir)
	d.Name = strings.TrimSpace(headers.Get("Name"))
	if d.Name == "" {
		d.Name = NameFromDir(filepath.Base(dir))
	}
	d.Version = strings.TrimSpace(headers.Get("Version"))
	if d.Version == "" {
		d.Version = versionFromDir(filepath.Base(dir))
	}
	for _, req := range headers["Requires-Dist"] {
		if req = strings.TrimSpace(req); req != "" {
			d.Requires = append(d.Requires, req)
		}
	}
	d.Modules = readModules(dir)
	d.EntryPoints = readEntryPoints(filepath.Join(dir, "entry_points.txt"))
	return d
}

// Scan reads every record directly under siteDir, sorted by directory name.
func Scan(siteDir string) ([]Distribution, error) {
	entries, err := os.ReadDir(siteDir)
	if err != nil {
		return nil, err
	}
	var out []Distribution
	for _, e := range entries {
		if e.IsDir() && IsRecordDir(e.Name()) {
			out = append(out, Read(filepath.Join(siteDir, e.Name())))
		}
	}
	return out, nil
}

// IsRecordDir reports whether name looks like a metadata record directory.
func IsRecordDir(name string) bool {
	return strings.HasSuffix(name, DistInfoSuffix) || strings.HasSuffix(name, EggInfoSuffix)
}

// NameFromDir turns "Flask_Cors-4.0.0.dist-info" into "Flask_Cors".
func NameFromDir(dirName string) string {
	base := strings.TrimSuffix(strings.TrimSuffix(dirName, DistInfoSuffix), EggInfoSuffix)
	return StripVersion(base)
}

// StripVersion drops a trailing "-<version>" token that starts with a digit.
func StripVersion(name string) string {
	parts := strings.Split(name, "-")
	if len(parts) >= 2 {
		last := parts[len(parts)-1]
		if last != "" && last[0] >= '0' && last[0] <= '9' {
			return strings.Join(parts[:len(parts)-1], "-")
		}
	}
	return name
}

func versionFromDir(dirName string) string {
	base := strings.TrimSuffix(strings.TrimSuffix(dirName, DistInfoSuffix), EggInfoSuffix)
	if stripped := StripVersion(base); stripped != base {
		return base[len(stripped)+1:]
	}
	return ""
}

// Normalize folds case and treats '_' and '.' like '-' so module and
// package spellings compare equal.
func Normalize(name string) string {
	return strings.ToLower(strings.NewReplacer("_", "-", ".", "-").Replace(name))
}

// readHeaders parses the RFC 822 style header block of METADATA
// (dist-info) or PKG-INFO (egg-info).
func readHeaders(dir string) mail.Header {
	for _, name := range []string{"METADATA", "PKG-INFO"} {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		msg, err := mail.ReadMessage(bufio.NewReader(f))
		f.Close()
		if err == nil {
			return msg.Header
		}
		if h := scanHeaders(filepath.Join(dir, name)); len(h) > 0 {
			return h
		}
	}
	return mail.Header{}
}

// scanHeaders is the lenient fallback for METADATA files that are not
// well-formed header blocks.
func scanHeaders(file string) mail.Header {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil
	}
	h := mail.Header{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.ContainsAny(key, " \t") {
			continue
		}
		key = textproto.CanonicalMIMEHeaderKey(key)
		h[key] = append(h[key], strings.TrimSpace(value))
	}
	return h
}

// readModules prefers top_level.txt and falls back to RECORD.
func readModules(dir string) []string {
	if data, err := os.ReadFile(filepath.Join(dir, "top_level.txt")); err == nil {
		set := map[string]bool{}
		for _, line := range strings.Split(string(data), "\n") {
			if name := strings.TrimSpace(line); name != "" {
				set[strings.ReplaceAll(name, "/", ".")] = true
			}
		}
		return sortedSet(set)
	}
	f, err := os.Open(filepath.Join(dir, "RECORD"))
	if err != nil {
		return nil
	}
	defer f.Close()
	return modulesFromRecord(f)
}

// modulesFromRecord derives top-level module names from the installed
// file list.
func modulesFromRecord(r io.Reader) []string {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	set := map[string]bool{}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		if len(rec) == 0 {
			continue
		}
		p := path.Clean(strings.ReplaceAll(rec[0], "\\", "/"))
		if strings.HasPrefix(p, "../") || strings.HasPrefix(p, "/") {
			continue
		}
		first, rest, nested := strings.Cut(p, "/")
		switch {
		case nested:
			if IsRecordDir(first) || first == "__pycache__" || strings.HasSuffix(first, ".data") {
				continue
			}
			if strings.HasSuffix(rest, ".py") || strings.Contains(rest, "/") || isExtensionFile(rest) {
				set[first] = true
			}
		case strings.HasSuffix(first, ".py"):
			set[strings.TrimSuffix(first, ".py")] = true
		default:
			if mod, ok := imports.ExtensionModule(first); ok {
				set[mod] = true
			}
		}
	}
	return sortedSet(set)
}

func isExtensionFile(name string) bool {
	_, ok := imports.ExtensionModule(path.Base(name))
	return ok
}

// readEntryPoints parses the INI-style entry_points.txt. Keys keep their
// case and '#' or ';' inside a value is part of the value.
func readEntryPoints(file string) []EntryPoint {
	if _, err := os.Stat(file); err != nil {
		return nil
	}
	cfg, err := ini.LoadSources(ini.LoadOptions{
		KeyValueDelimiters:      "=",
		IgnoreInlineComment:     true,
		SkipUnrecognizableLines: true,
	}, file)
	if err != nil {
		return nil
	}
	var out []EntryPoint
	for _, section := range cfg.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		for _, key := range section.Keys() {
			out = append(out, EntryPoint{
				Group: section.Name(),
				Name:  strings.TrimSpace(key.Name()),
				Value: strings.TrimSpace(key.Value()),
			})
		}
	}
	return out
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Package deps discovers a project's declared requirements and installs them
// into a flat dependency directory.
package deps

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	swerrors "shrinkwrap-tools/go/pkg/errors"

	"github.com/BurntSushi/toml"
)

// RequirementFiles are read in order when present.
var RequirementFiles = []string{"requirements.txt", "requirements-dev.txt"}

// Discover collects requirement specifiers from the project's requirement
// files, falling back to [project].dependencies in pyproject.toml. The
// result keeps first-seen order without duplicates.
func Discover(projectRoot string) ([]string, error) {
	var reqs []string
	found := false
	for _, name := range RequirementFiles {
		path := filepath.Join(projectRoot, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		found = true
		lines, err := parseFile(path)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, lines...)
	}

	if !found {
		path := filepath.Join(projectRoot, "pyproject.toml")
		declared, ok, err := readPyproject(path)
		if err != nil {
			return nil, err
		}
		if ok {
			found = true
			reqs = declared
		}
	}

	if !found {
		return nil, swerrors.New(swerrors.KindRequirements, "no supported dependency files found (expected %s or pyproject.toml)", strings.Join(RequirementFiles, ", ")).WithPath(projectRoot)
	}
	reqs = dedupe(reqs)
	if len(reqs) == 0 {
		return nil, swerrors.New(swerrors.KindRequirements, "dependency files were found but contained no dependencies").WithPath(projectRoot)
	}
	return reqs, nil
}

func parseFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, swerrors.Wrap(swerrors.KindRequirements, err, "failed to read dependency file: %s", path).WithPath(path)
	}
	defer f.Close()

	var result []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// comments, blanks and pip directives such as -r or --index-url
		if line == "" || line[0] == '#' || line[0] == '-' {
			continue
		}
		if i := strings.Index(line, " #"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		result = append(result, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, swerrors.Wrap(swerrors.KindRequirements, err, "failed to read dependency file: %s", path).WithPath(path)
	}
	return result, nil
}

// readPyproject reports ok when the file declares a dependencies array,
// even an empty one.
func readPyproject(path string) (reqs []string, ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, nil
	}
	var doc struct {
		Project struct {
			Dependencies []string `toml:"dependencies"`
		} `toml:"project"`
	}
	md, err := toml.Decode(string(data), &doc)
	if err != nil {
		return nil, false, swerrors.Wrap(swerrors.KindRequirements, err, "invalid %s", path).WithPath(path)
	}
	if !md.IsDefined("project", "dependencies") {
		return nil, false, nil
	}
	return doc.Project.Dependencies, true, nil
}

func dedupe(reqs []string) []string {
	seen := make(map[string]bool, len(reqs))
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

// IsLocal reports whether a requirement names a path rather than a
// distribution.
func IsLocal(req string) bool {
	return strings.HasPrefix(req, "./") || strings.HasPrefix(req, "../") || strings.HasPrefix(req, "/") ||
		req == "." || req == ".." || filepath.IsAbs(req)
}

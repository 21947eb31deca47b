// Package entrypoint checks that a "module:attribute" reference names a
// FastAPI application importable from the project.
package entrypoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"shrinkwrap-tools/go/pkg/config"
	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/imports"
	"shrinkwrap-tools/go/pkg/logbowl"
	"shrinkwrap-tools/go/pkg/procutil"
)

// Result describes a resolved entrypoint.
type Result struct {
	Module    string `json:"module"`
	Attribute string `json:"attribute"`
	// Source is the module file under the project root, empty when the
	// module comes from an installed distribution.
	Source string `json:"source,omitempty"`
	Type   string `json:"type"`
}

const checkScript = `
import importlib, json, sys
module_path, attribute = sys.argv[1], sys.argv[2]
def answer(status, message="", kind=""):
    print(json.dumps({"status": status, "message": message, "type": kind}))
    sys.exit(0)
try:
    module = importlib.import_module(module_path)
except ModuleNotFoundError as exc:
    if exc.name and module_path.split(".")[0] == exc.name.split(".")[0]:
        answer("missing_module", "Module '%s' could not be found" % module_path)
    answer("import_error", "Failed to import module '%s': %s" % (module_path, exc))
except BaseException as exc:
    answer("import_error", "Failed to import module '%s': %s" % (module_path, exc))
if not hasattr(module, attribute):
    answer("missing_attribute", "Module '%s' has no attribute '%s'" % (module_path, attribute))
obj = getattr(module, attribute)
kind = "%s.%s" % (type(obj).__module__, type(obj).__qualname__)
try:
    from fastapi import FastAPI
except ImportError:
    answer("not_fastapi", "fastapi is not importable from the project environment", kind)
if not isinstance(obj, FastAPI):
    answer("not_fastapi", "Attribute '%s' is not a FastAPI application instance" % attribute, kind)
answer("ok", "", kind)
`

type checkAnswer struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Check imports the entrypoint with python, with projectRoot first on the
// search path. Every rejection is an entrypoint-kind error.
func Check(log logbowl.Logger, python, projectRoot, entry string) (Result, error) {
	log = log.OrNull()
	module, attr, err := config.ParseEntrypoint(entry)
	if err != nil {
		return Result{}, swerrors.Wrap(swerrors.KindEntrypoint, err, "invalid entrypoint %q", entry)
	}
	res := Result{Module: module, Attribute: attr}
	if src := imports.ModulePath(module, projectRoot); src != "" {
		res.Source = src
	}
	log.Debug("analyze", "probe", "progress", "Importing entrypoint", "module", module, "attribute", attr, "source", res.Source)

	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		abs = projectRoot
	}
	env := append(os.Environ(), "PYTHONPATH="+joinPath(abs, os.Getenv("PYTHONPATH")), "PYTHONDONTWRITEBYTECODE=1")
	out, err := procutil.Run(procutil.Command{
		Args: []string{python, "-c", checkScript, module, attr},
		Dir:  abs,
		Env:  env,
	})
	if err != nil {
		return res, swerrors.Wrap(swerrors.KindEntrypoint, err, "failed to import entrypoint %s", entry)
	}
	ans, err := parseAnswer(out.Stdout)
	if err != nil {
		return res, err
	}
	res.Type = ans.Type
	if ans.Status != "ok" {
		log.Warn("analyze", "verify", "failure", "Entrypoint rejected", "entrypoint", entry, "reason", ans.Status)
		return res, swerrors.New(swerrors.KindEntrypoint, "%s", ans.Message)
	}
	log.Info("analyze", "verify", "success", "Entrypoint is a FastAPI application", "entrypoint", entry, "type", ans.Type)
	return res, nil
}

func parseAnswer(stdout string) (checkAnswer, error) {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	var ans checkAnswer
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &ans); err != nil || ans.Status == "" {
		return ans, swerrors.New(swerrors.KindEntrypoint, "unexpected output while checking entrypoint: %q", stdout)
	}
	return ans, nil
}

func joinPath(first, rest string) string {
	if rest == "" {
		return first
	}
	return first + string(os.PathListSeparator) + rest
}

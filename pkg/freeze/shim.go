package freeze

import (
	"bytes"
	"text/template"

	swerrors "shrinkwrap-tools/go/pkg/errors"
)

// ShimOptions parameterize the generated sitecustomize module.
type ShimOptions struct {
	// MetadataFile is the frozen metadata file name, next to the shim.
	// Empty disables the metadata overrides.
	MetadataFile string
	// BlockedModules are replaced by stubs that fail on attribute access.
	BlockedModules []string
}

// BlockedPackagingModules are stubbed when packaging tools are blocked.
var BlockedPackagingModules = []string{"ensurepip", "pip"}

var shimTemplate = template.Must(template.New("sitecustomize").Parse(`# Generated by shrinkwrap. Do not edit.
import json
import os
import sys
import types
from pathlib import Path

os.environ.setdefault("PYTHONDONTWRITEBYTECODE", "1")
os.environ.setdefault("PYTHONNOUSERSITE", "1")
os.environ.setdefault("PYTHONZIPIMPORT_USE_ZIPFILE", "1")
sys.dont_write_bytecode = True
{{ if .BlockedModules }}

class _Blocked(types.ModuleType):
    def __getattr__(self, name):
        raise ImportError(f"{self.__name__} is disabled in this runtime")


for _name in ({{ range .BlockedModules }}"{{ . }}", {{ end }}):
    sys.modules.setdefault(_name, _Blocked(_name))
{{ end }}
{{- if .MetadataFile }}

try:
    _FROZEN_METADATA = json.loads(Path(__file__).with_name("{{ .MetadataFile }}").read_text())
except Exception:
    _FROZEN_METADATA = None

if _FROZEN_METADATA:
    import importlib.metadata as _meta
    from importlib.metadata import EntryPoint, EntryPoints, PackageNotFoundError

    _real_distribution = _meta.distribution
    _real_version = _meta.version
    _real_entry_points = _meta.entry_points
    _real_packages_distributions = _meta.packages_distributions

    def _record_for(name):
        record = _FROZEN_METADATA.get(name.lower())
        if record is None:
            raise PackageNotFoundError(name)
        return record

    def _entry_points_of(record):
        return [EntryPoint(ep["name"], ep["value"], ep["group"]) for ep in record.get("entry_points", [])]

    class _FrozenDistribution(_meta.Distribution):
        def __init__(self, record):
            self._record = record

        @property
        def name(self):
            return self._record["name"]

        @property
        def version(self):
            return self._record["version"]

        @property
        def entry_points(self):
            return EntryPoints(_entry_points_of(self._record))

        @property
        def files(self):
            return None

        @property
        def requires(self):
            return self._record.get("requires") or None

        @property
        def metadata(self):
            from email.message import Message
            msg = Message()
            msg["Name"] = self.name
            msg["Version"] = self.version
            return msg

        def read_text(self, filename):
            return None

        def locate_file(self, path):
            return Path(path)

    def distribution(name):
        try:
            return _FrozenDistribution(_record_for(name))
        except PackageNotFoundError:
            return _real_distribution(name)

    def version(name):
        try:
            return _record_for(name)["version"]
        except PackageNotFoundError:
            return _real_version(name)

    def entry_points(**params):
        group = params.get("group")
        name = params.get("name")
        eps = []
        for record in _FROZEN_METADATA.values():
            for ep in _entry_points_of(record):
                if group and ep.group != group:
                    continue
                if name and ep.name != name:
                    continue
                eps.append(ep)
        if not eps:
            return _real_entry_points(**params)
        return EntryPoints(eps)

    def packages_distributions():
        mapping = {}
        for record in _FROZEN_METADATA.values():
            for pkg in record.get("packages", []):
                mapping.setdefault(pkg, []).append(record["name"])
        if not mapping:
            return _real_packages_distributions()
        return mapping

    _meta.distribution = distribution
    _meta.version = version
    _meta.entry_points = entry_points
    _meta.packages_distributions = packages_distributions
{{- end }}
`))

// RenderShim produces the sitecustomize module text.
func RenderShim(opts ShimOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := shimTemplate.Execute(&buf, opts); err != nil {
		return nil, swerrors.Wrap(swerrors.KindBuild, err, "failed to render runtime shim")
	}
	return buf.Bytes(), nil
}

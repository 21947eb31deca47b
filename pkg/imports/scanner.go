package imports

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Import is one statically declared import target.
type Import struct {
	// Module is the dotted module path. Empty for "from . import x".
	Module string
	// Level counts leading dots of a relative import.
	Level int
	// Names holds the imported names of a "from" import.
	Names []string
}

// TopLevel returns the first component of an absolute import, or "".
func (i Import) TopLevel() string {
	if i.Level > 0 || i.Module == "" {
		return ""
	}
	top, _, _ := strings.Cut(i.Module, ".")
	return top
}

// ScanImports extracts every "import X" and "from X import ..." statement
// from Python source. Imports nested in functions, classes and conditional
// blocks are found too. Dynamic imports (importlib, __import__) are not.
//
// An error is returned for source that does not parse.
func ScanImports(src []byte) ([]Import, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, err
	}
	root := tree.RootNode()
	if root.HasError() {
		return nil, syntaxError(root)
	}
	var out []Import
	collect(root, src, &out)
	return out, nil
}

func collect(n *sitter.Node, src []byte, out *[]Import) {
	switch n.Type() {
	case "import_statement":
		*out = append(*out, plainImports(n, src)...)
		return
	case "import_from_statement", "future_import_statement":
		*out = append(*out, fromImport(n, src))
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		collect(n.Child(i), src, out)
	}
}

// plainImports handles "import a.b as c, d".
func plainImports(n *sitter.Node, src []byte) []Import {
	var out []Import
	for i := 0; i < int(n.ChildCount()); i++ {
		if name := importedName(n.Child(i), src); name != "" {
			out = append(out, Import{Module: name})
		}
	}
	return out
}

// fromImport handles "from ..a.b import (x as y, z)". Children before the
// "import" keyword name the module, the rest are imported names.
func fromImport(n *sitter.Node, src []byte) Import {
	imp := Import{Names: []string{}}
	if n.Type() == "future_import_statement" {
		imp.Module = "__future__"
	}
	names := false
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		switch {
		case c.Type() == "import":
			names = true
		case names:
			if name := importedName(c, src); name != "" {
				imp.Names = append(imp.Names, name)
			}
		case c.Type() == "dotted_name":
			imp.Module = dotted(c, src)
		case c.Type() == "relative_import":
			imp.Level, imp.Module = relative(c, src)
		}
	}
	return imp
}

// importedName returns the dotted name of a name or aliased-name node,
// dropping the alias.
func importedName(n *sitter.Node, src []byte) string {
	switch n.Type() {
	case "dotted_name":
		return dotted(n, src)
	case "aliased_import":
		if name := n.ChildByFieldName("name"); name != nil {
			return dotted(name, src)
		}
	}
	return ""
}

func relative(n *sitter.Node, src []byte) (int, string) {
	level, module := 0, ""
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		switch c.Type() {
		case "import_prefix":
			level = strings.Count(c.Content(src), ".")
		case "dotted_name":
			module = dotted(c, src)
		}
	}
	return level, module
}

func dotted(n *sitter.Node, src []byte) string {
	return strings.Join(strings.Fields(n.Content(src)), "")
}

func syntaxError(root *sitter.Node) error {
	if bad := firstError(root); bad != nil {
		p := bad.StartPoint()
		return fmt.Errorf("syntax error at line %d column %d", p.Row+1, p.Column+1)
	}
	return fmt.Errorf("syntax error")
}

func firstError(n *sitter.Node) *sitter.Node {
	if n.IsError() || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if bad := firstError(n.Child(i)); bad != nil {
			return bad
		}
	}
	return nil
}

package quality

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

const maxSnippet = 40

// parsePython returns the tree-sitter tree for src. The caller closes it.
// A parser is not safe for concurrent use, so each call gets its own.
func parsePython(ctx context.Context, src []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse python: %w", err)
	}
	return tree, nil
}

// syntaxErrors reports the first syntax problem in tree, or nil.
func syntaxErrors(tree *sitter.Tree, src []byte) []string {
	root := tree.RootNode()
	if !root.HasError() {
		return nil
	}
	bad := firstBadNode(root)
	if bad == nil {
		return []string{"Syntax Error: line 1: invalid syntax"}
	}
	line := int(bad.StartPoint().Row) + 1
	if bad.IsMissing() {
		return []string{fmt.Sprintf("Syntax Error: line %d: missing %s", line, bad.Type())}
	}
	snippet := strings.TrimSpace(bad.Content(src))
	if i := strings.IndexByte(snippet, '\n'); i >= 0 {
		snippet = snippet[:i]
	}
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet] + "..."
	}
	if snippet == "" {
		return []string{fmt.Sprintf("Syntax Error: line %d: invalid syntax", line)}
	}
	return []string{fmt.Sprintf("Syntax Error: line %d: invalid syntax near %q", line, snippet)}
}

func firstBadNode(n *sitter.Node) *sitter.Node {
	if n.Type() == "ERROR" || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child == nil || !(child.HasError() || child.IsMissing()) {
			continue
		}
		if bad := firstBadNode(child); bad != nil {
			return bad
		}
	}
	return nil
}

// importsFromTree returns the top-level package of every import statement.
func importsFromTree(root *sitter.Node, src []byte) []string {
	var out []string
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "import_statement":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				child := n.NamedChild(i)
				switch child.Type() {
				case "dotted_name":
					out = append(out, topLevel(child.Content(src)))
				case "aliased_import":
					if name := child.ChildByFieldName("name"); name != nil {
						out = append(out, topLevel(name.Content(src)))
					}
				}
			}
			return
		case "import_from_statement":
			if mod := n.ChildByFieldName("module_name"); mod != nil && mod.Type() == "dotted_name" {
				out = append(out, topLevel(mod.Content(src)))
			}
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(root)
	return out
}

var importLine = regexp.MustCompile(`(?m)^\s*(?:from\s+([A-Za-z_][\w.]*)\s+import\b|import\s+([A-Za-z_][\w.]*(?:\s+as\s+\w+)?(?:\s*,\s*[A-Za-z_][\w.]*(?:\s+as\s+\w+)?)*))`)

// importsFromText is the fallback when the source does not parse.
func importsFromText(src string) []string {
	var out []string
	for _, m := range importLine.FindAllStringSubmatch(src, -1) {
		if m[1] != "" {
			out = append(out, topLevel(m[1]))
			continue
		}
		for _, part := range strings.Split(m[2], ",") {
			fields := strings.Fields(part)
			if len(fields) > 0 {
				out = append(out, topLevel(fields[0]))
			}
		}
	}
	return out
}

func topLevel(dotted string) string {
	dotted = strings.TrimSpace(dotted)
	if i := strings.IndexByte(dotted, '.'); i >= 0 {
		return dotted[:i]
	}
	return dotted
}

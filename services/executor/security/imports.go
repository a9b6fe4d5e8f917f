// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package security

import (
	"context"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/kotlin"
)

// =============================================================================
// IMPORT EXTRACTION
// =============================================================================

// importLinePattern is the fallback used when the source does not parse.
// Name parts may be backtick-quoted and whitespace may surround the dots,
// as Kotlin allows both.
var importLinePattern = regexp.MustCompile(
	"(?m)^[ \\t]*import\\s+(" + importNamePart + `(?:\s*\.\s*(?:` + importNamePart + `|\*))*)`)

const importNamePart = "(?:`[^`\\n]+`|[A-Za-z_][A-Za-z0-9_]*)"

// maxTreeDepth bounds recursion on pathological inputs.
const maxTreeDepth = 200

// importRef is one import statement found in a source file.
type importRef struct {
	// Path is the imported name without a trailing ".*".
	Path string

	// Wildcard is true for "import a.b.*".
	Wildcard bool
}

// extractImports returns every import in source.
//
// # Description
//
// Kotlin sources are parsed with tree-sitter and the import_header nodes are
// read from the tree, so an "import" inside a string literal or comment is
// not reported. When the tree contains syntax errors the line-based fallback
// is used instead: a malformed file is scanned conservatively.
//
// # Thread Safety
//
// Safe for concurrent use. A parser is created per call.
func extractImports(ctx context.Context, source string) []importRef {
	src := []byte(source)

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(kotlin.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil || tree == nil {
		return extractImportsByLine(source)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || root.HasError() {
		return extractImportsByLine(source)
	}

	var refs []importRef
	collectImportHeaders(root, src, &refs, 0)
	return refs
}

// collectImportHeaders walks the tree collecting import_header nodes.
func collectImportHeaders(node *sitter.Node, src []byte, refs *[]importRef, depth int) {
	if node == nil || depth > maxTreeDepth {
		return
	}
	if node.Type() == "import_header" {
		if ref, ok := importFromHeader(node, src); ok {
			*refs = append(*refs, ref)
		}
		return
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		collectImportHeaders(node.NamedChild(i), src, refs, depth+1)
	}
}

// importFromHeader rebuilds the imported name from the simple_identifier
// parts of the header's identifier, so spacing and backticks in the source
// do not change the name that is checked.
func importFromHeader(header *sitter.Node, src []byte) (importRef, bool) {
	var ident *sitter.Node
	for i := 0; i < int(header.NamedChildCount()); i++ {
		if child := header.NamedChild(i); child.Type() == "identifier" {
			ident = child
			break
		}
	}
	if ident == nil {
		refs := extractImportsByLine(header.Content(src))
		if len(refs) == 0 {
			return importRef{}, false
		}
		return refs[0], true
	}

	var parts []string
	for i := 0; i < int(ident.NamedChildCount()); i++ {
		child := ident.NamedChild(i)
		if child.Type() != "simple_identifier" {
			continue
		}
		if part := normalizeNamePart(child.Content(src)); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return importRef{}, false
	}

	rest := stripSpace(string(src[ident.EndByte():header.EndByte()]))
	return importRef{
		Path:     strings.Join(parts, "."),
		Wildcard: strings.HasPrefix(rest, ".*"),
	}, true
}

// extractImportsByLine is the regex fallback for unparsable sources.
func extractImportsByLine(source string) []importRef {
	var refs []importRef
	for _, m := range importLinePattern.FindAllStringSubmatch(source, -1) {
		if ref, ok := parseImportName(m[1]); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

// parseImportName turns a matched name such as "java.`io` . *" into
// importRef{Path: "java.io", Wildcard: true}.
func parseImportName(name string) (importRef, bool) {
	var parts []string
	wildcard := false
	for _, part := range strings.Split(name, ".") {
		part = normalizeNamePart(part)
		if part == "*" {
			wildcard = true
			break
		}
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return importRef{}, false
	}
	return importRef{Path: strings.Join(parts, "."), Wildcard: wildcard}, true
}

// normalizeNamePart drops backticks and surrounding whitespace.
func normalizeNamePart(part string) string {
	return strings.TrimSpace(strings.ReplaceAll(part, "`", ""))
}

func stripSpace(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// =============================================================================
// MATCHING
// =============================================================================

// importMatches reports whether ref brings the forbidden name into scope.
//
// A plain import matches the forbidden name itself and anything that begins
// with it (members, nested classes, and longer names such as
// java.io.FileReader). A wildcard import additionally matches when it names
// the package that contains the forbidden class.
func importMatches(ref importRef, forbidden string) bool {
	if strings.HasPrefix(ref.Path, forbidden) {
		return true
	}
	if ref.Wildcard {
		if idx := strings.LastIndexByte(forbidden, '.'); idx > 0 && ref.Path == forbidden[:idx] {
			return true
		}
	}
	return false
}

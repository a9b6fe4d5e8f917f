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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy_Embedded(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, 10000, p.MaxCodeLength)
	assert.NotEmpty(t, p.BlacklistedPatterns)
	assert.Equal(t, []string{
		"java.lang.Runtime",
		"java.lang.ProcessBuilder",
		"java.lang.System",
		"java.io.File",
		"java.nio.file.Files",
		"java.net.URL",
		"java.net.URLConnection",
	}, p.DangerousImports)
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{
			name: "valid",
			doc:  "max_code_length: 5\nblacklisted_patterns: [a]\ndangerous_imports: [java.io.File]\n",
		},
		{
			name:    "zero length",
			doc:     "max_code_length: 0\n",
			wantErr: true,
		},
		{
			name:    "blank pattern",
			doc:     "max_code_length: 5\nblacklisted_patterns: ['  ']\n",
			wantErr: true,
		},
		{
			name:    "bad import path",
			doc:     "max_code_length: 5\ndangerous_imports: ['java..io']\n",
			wantErr: true,
		},
		{
			name:    "not yaml",
			doc:     "max_code_length: [",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(tt.doc))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPolicy)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPolicy_WithOverrides(t *testing.T) {
	base := DefaultPolicy()

	out := base.WithOverrides(50, []string{"eval"})
	assert.Equal(t, 50, out.MaxCodeLength)
	assert.Equal(t, []string{"eval"}, out.BlacklistedPatterns)
	assert.Equal(t, base.DangerousImports, out.DangerousImports)

	same := base.WithOverrides(0, nil)
	assert.Equal(t, base, same)
}

func TestPolicy_MarshalDocumentRoundTrip(t *testing.T) {
	data, err := DefaultPolicy().MarshalDocument()
	require.NoError(t, err)

	parsed, err := ParsePolicy(data)
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), parsed)
}

func TestImportMatches(t *testing.T) {
	tests := []struct {
		ref       importRef
		forbidden string
		want      bool
	}{
		{importRef{Path: "java.io.File"}, "java.io.File", true},
		{importRef{Path: "java.io.FileReader"}, "java.io.File", true},
		{importRef{Path: "java.io", Wildcard: true}, "java.io.File", true},
		{importRef{Path: "java.io"}, "java.io.File", false},
		{importRef{Path: "java", Wildcard: true}, "java.io.File", false},
		{importRef{Path: "java.util.List"}, "java.io.File", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, importMatches(tt.ref, tt.forbidden), "%+v vs %s", tt.ref, tt.forbidden)
	}
}

func TestExtractImportsByLine(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []importRef
	}{
		{"alias", "import java.net.URL as Link;", []importRef{{Path: "java.net.URL"}}},
		{"wildcard", "import java.io.*", []importRef{{Path: "java.io", Wildcard: true}}},
		{"space before dot", "import java.io .File", []importRef{{Path: "java.io.File"}}},
		{"backticks", "import java.`io`.File", []importRef{{Path: "java.io.File"}}},
		{"newline after dot", "import java.io.\n    File", []importRef{{Path: "java.io.File"}}},
		{"spaced wildcard", "import java.nio.file . *", []importRef{{Path: "java.nio.file", Wildcard: true}}},
		{"two lines", "import a.B\nimport c.D", []importRef{{Path: "a.B"}, {Path: "c.D"}}},
		{"bare keyword", "import", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractImportsByLine(tt.src))
		})
	}
}

func TestExtractImports_NormalizesNames(t *testing.T) {
	src := "import java.io .File\nimport java.`lang`.Runtime\nimport java.net.\n    URL\nimport java.nio.file.*\n\nfun f() = 1\n"
	refs := extractImports(context.Background(), src)
	assert.Equal(t, []importRef{
		{Path: "java.io.File"},
		{Path: "java.lang.Runtime"},
		{Path: "java.net.URL"},
		{Path: "java.nio.file", Wildcard: true},
	}, refs)
}

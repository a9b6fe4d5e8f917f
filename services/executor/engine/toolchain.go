// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// =============================================================================
// TOOLCHAIN
// =============================================================================

// artifact identifies a Maven artifact in the Gradle module cache.
type artifact struct {
	group    string
	name     string
	version  string
	fileStem string // file name prefix used in deps directories
}

var (
	junitArtifact    = artifact{group: "junit", name: "junit", version: "4.13.2", fileStem: "junit"}
	hamcrestArtifact = artifact{group: "org.hamcrest", name: "hamcrest-core", version: "1.3", fileStem: "hamcrest"}
	stdlibArtifact   = artifact{group: "org.jetbrains.kotlin", name: "kotlin-stdlib", version: "", fileStem: "kotlin-stdlib"}
)

// Toolchain holds resolved executable and jar paths.
type Toolchain struct {
	Kotlinc         string
	Java            string
	JUnitJar        string
	HamcrestJar     string
	KotlinStdlibJar string
}

// CompileClasspath is the classpath handed to kotlinc.
func (t Toolchain) CompileClasspath() string {
	return strings.Join([]string{t.JUnitJar, t.HamcrestJar}, string(os.PathListSeparator))
}

// RunClasspath is the classpath for the test JVM.
func (t Toolchain) RunClasspath(classesDir string) string {
	return strings.Join([]string{classesDir, t.JUnitJar, t.HamcrestJar, t.KotlinStdlibJar}, string(os.PathListSeparator))
}

// ResolveToolchain locates kotlinc, java and the required jars.
//
// Description:
//
//	Executables come from the config or PATH. Each jar is searched in order:
//	the explicit config path, cfg.DepsDirs, entries of $CLASSPATH, the Gradle
//	module cache, and for kotlin-stdlib the lib directory next to kotlinc.
//
// Inputs:
//
//	cfg - Engine configuration.
//
// Outputs:
//
//	Toolchain - Resolved paths.
//	error - Wraps ErrToolNotFound or ErrJarNotFound.
func ResolveToolchain(cfg Config) (Toolchain, error) {
	var tc Toolchain
	var err error

	if tc.Kotlinc, err = lookTool(cfg.KotlincPath, "kotlinc"); err != nil {
		return Toolchain{}, err
	}
	if tc.Java, err = lookTool(cfg.JavaPath, "java"); err != nil {
		return Toolchain{}, err
	}

	if tc.JUnitJar, err = findJar(cfg, junitArtifact, cfg.JUnitJar, nil); err != nil {
		return Toolchain{}, err
	}
	if tc.HamcrestJar, err = findJar(cfg, hamcrestArtifact, cfg.HamcrestJar, nil); err != nil {
		return Toolchain{}, err
	}
	if tc.KotlinStdlibJar, err = findJar(cfg, stdlibArtifact, cfg.KotlinStdlibJar, kotlincLibCandidates(tc.Kotlinc)); err != nil {
		return Toolchain{}, err
	}

	return tc, nil
}

func lookTool(configured, name string) (string, error) {
	target := configured
	if target == "" {
		target = name
	}
	path, err := exec.LookPath(target)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrToolNotFound, name, err)
	}
	return path, nil
}

// findJar walks the search order for one artifact.
func findJar(cfg Config, a artifact, explicit string, extra []string) (string, error) {
	if explicit != "" {
		if isFile(explicit) {
			return explicit, nil
		}
		return "", fmt.Errorf("%w: %s configured at %s does not exist", ErrJarNotFound, a.name, explicit)
	}

	var searched []string

	for _, dir := range cfg.DepsDirs {
		if p := matchInDir(dir, a); p != "" {
			return p, nil
		}
		searched = append(searched, dir)
	}

	for _, entry := range filepath.SplitList(os.Getenv("CLASSPATH")) {
		base := filepath.Base(entry)
		if strings.HasPrefix(base, a.fileStem) && strings.HasSuffix(base, ".jar") && isFile(entry) {
			return entry, nil
		}
	}

	if cfg.GradleCacheDir != "" {
		if p := matchInGradleCache(cfg.GradleCacheDir, a); p != "" {
			return p, nil
		}
		searched = append(searched, cfg.GradleCacheDir)
	}

	for _, candidate := range extra {
		if isFile(candidate) {
			return candidate, nil
		}
		searched = append(searched, candidate)
	}

	return "", fmt.Errorf("%w: %s (searched %s)", ErrJarNotFound, jarLabel(a), strings.Join(searched, ", "))
}

func jarLabel(a artifact) string {
	if a.version == "" {
		return a.name
	}
	return a.name + "-" + a.version
}

// matchInDir prefers the exact versioned file name, then any jar with the
// artifact's stem.
func matchInDir(dir string, a artifact) string {
	if a.version != "" {
		exact := filepath.Join(dir, a.name+"-"+a.version+".jar")
		if isFile(exact) {
			return exact
		}
	}
	matches, _ := filepath.Glob(filepath.Join(dir, a.fileStem+"*.jar"))
	sort.Strings(matches)
	for _, m := range matches {
		// kotlin-stdlib-jdk8 and friends are not the stdlib itself.
		base := strings.TrimSuffix(filepath.Base(m), ".jar")
		if a == stdlibArtifact && strings.Contains(strings.TrimPrefix(base, "kotlin-stdlib"), "jdk") {
			continue
		}
		if isFile(m) {
			return m
		}
	}
	return ""
}

// matchInGradleCache looks under <root>/<group>/<name>/<version>/<hash>/.
func matchInGradleCache(root string, a artifact) string {
	version := a.version
	if version == "" {
		version = "*"
	}
	pattern := filepath.Join(root, a.group, a.name, version, "*", a.name+"-"+version+".jar")
	matches, _ := filepath.Glob(pattern)
	sort.Strings(matches)
	for i := len(matches) - 1; i >= 0; i-- {
		if isFile(matches[i]) {
			return matches[i]
		}
	}
	return ""
}

// kotlincLibCandidates returns <kotlinc dir>/../lib/kotlin-stdlib.jar for the
// path as given and with symlinks resolved.
func kotlincLibCandidates(kotlinc string) []string {
	paths := []string{kotlinc}
	if resolved, err := filepath.EvalSymlinks(kotlinc); err == nil && resolved != kotlinc {
		paths = append(paths, resolved)
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, filepath.Join(filepath.Dir(p), "..", "lib", "kotlin-stdlib.jar"))
	}
	return out
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

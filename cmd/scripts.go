// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
	"sigs.k8s.io/yaml"

	"github.com/kaaveland/eugene/pkg/script"
)

// config is the optional .eugene.yaml file: globally ignored rules and
// variable bindings shared by all scripts.
type config struct {
	Ignore    []string          `json:"ignore"`
	Variables map[string]string `json:"variables"`
}

func loadConfig(path string) (config, error) {
	var cfg config

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}
	return cfg, nil
}

// parseVariables turns repeated --var name=value flags into bindings,
// layered over the config file's variables.
func parseVariables(cfg config, vars []string) (map[string]string, error) {
	bindings := map[string]string{}
	for name, value := range cfg.Variables {
		bindings[name] = value
	}
	for _, v := range vars {
		name, value, ok := strings.Cut(v, "=")
		if !ok {
			return nil, fmt.Errorf("invalid variable binding %q, expected name=value", v)
		}
		bindings[name] = value
	}
	return bindings, nil
}

// collectScriptPaths expands files and directories into an ordered list of
// SQL script paths. Directories contribute their .sql files, sorted so that
// version-prefixed names like V12__x.sql run in numeric order.
func collectScriptPaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}

		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(d.Name(), ".sql") {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.SliceStable(paths, func(i, j int) bool {
		return compareScriptNames(filepath.Base(paths[i]), filepath.Base(paths[j])) < 0
	})
	return paths, nil
}

// compareScriptNames orders by leading version number when both names carry
// one, falling back to lexical order.
func compareScriptNames(a, b string) int {
	va, oka := scriptVersion(a)
	vb, okb := scriptVersion(b)
	if oka && okb {
		if c := semver.Compare(va, vb); c != 0 {
			return c
		}
	}
	return strings.Compare(a, b)
}

// scriptVersion extracts the numeric prefix of names like V12__add_index.sql
// or 0042_backfill.sql as a comparable semver string.
func scriptVersion(name string) (string, bool) {
	name = strings.TrimPrefix(strings.TrimPrefix(name, "V"), "v")

	end := 0
	for end < len(name) && name[end] >= '0' && name[end] <= '9' {
		end++
	}
	if end == 0 {
		return "", false
	}
	digits := strings.TrimLeft(name[:end], "0")
	if digits == "" {
		digits = "0"
	}
	return "v" + digits + ".0.0", true
}

// segmentScripts reads and segments every script, applying variable
// bindings.
func segmentScripts(paths []string, variables map[string]string) ([]script.Script, error) {
	scripts := make([]script.Script, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		s, err := script.Segment(path, string(data), variables)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, s)
	}
	return scripts, nil
}

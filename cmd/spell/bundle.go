package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spellruntime/spell/internal/cast"
	"github.com/spellruntime/spell/internal/manifest"
)

// runInstallCmd copies a source bundle directory into
// home/spells/<id>/<version>, after validating its manifest.
func runInstallCmd(args []string, _, stderr io.Writer) int {
	cmd := flag.NewFlagSet("install", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	home := cmd.String("home", defaultHome(), "spell home directory")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() < 1 {
		fmt.Fprintln(stderr, "Usage: spell install [--home DIR] <bundle-path>")
		return 2
	}
	src := cmd.Arg(0)

	m, err := manifest.Load(src)
	if err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	if err := manifest.Validate(m); err != nil {
		fmt.Fprintf(stderr, "spell: invalid manifest: %v\n", err)
		return 1
	}

	dest := filepath.Join(*home, "spells", strings.ReplaceAll(m.ID, "/", "__"), m.Version)
	if err := copyTree(src, dest); err != nil {
		fmt.Fprintf(stderr, "spell: installing bundle: %v\n", err)
		return 1
	}
	fmt.Fprintf(stderr, "installed %s@%s\n", m.ID, m.Version)
	return 0
}

func copyTree(src, dest string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode())
	})
}

// runListCmd lists every installed spell id and version under home/spells.
func runListCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("list", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	home := cmd.String("home", defaultHome(), "spell home directory")
	jsonOut := cmd.Bool("json", false, "output as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	root := filepath.Join(*home, "spells")
	idDirs, err := os.ReadDir(root)
	if err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}

	type entry struct {
		ID       string   `json:"id"`
		Versions []string `json:"versions"`
	}
	var out []entry
	for _, d := range idDirs {
		if !d.IsDir() {
			continue
		}
		versionDirs, err := os.ReadDir(filepath.Join(root, d.Name()))
		if err != nil {
			continue
		}
		var versions []string
		for _, v := range versionDirs {
			if v.IsDir() {
				versions = append(versions, v.Name())
			}
		}
		sort.Strings(versions)
		out = append(out, entry{ID: strings.ReplaceAll(d.Name(), "__", "/"), Versions: versions})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return boolToExit(enc.Encode(out) == nil)
	}
	for _, e := range out {
		fmt.Fprintf(stdout, "%s\t%s\n", e.ID, strings.Join(e.Versions, ", "))
	}
	return 0
}

// runInspectCmd prints one installed spell's manifest as JSON.
func runInspectCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("inspect", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	home := cmd.String("home", defaultHome(), "spell home directory")
	version := cmd.String("version", "", "spell version (defaults to latest installed)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() < 1 {
		fmt.Fprintln(stderr, "Usage: spell inspect [--version V] <id>")
		return 2
	}

	resolved, err := cast.ResolveInstalled(*home, cmd.Arg(0), *version)
	if err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resolved.Manifest); err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	return 0
}

func boolToExit(ok bool) int {
	if ok {
		return 0
	}
	return 1
}

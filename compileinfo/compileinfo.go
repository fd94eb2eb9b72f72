// Package compileinfo reports where a binary came from, so that a processed
// table can be traced back to the code that produced it.
package compileinfo

import (
	"fmt"
	"io"
	"runtime/debug"
	"sort"
	"strings"
)

type CompileInfo struct {
	Package    string
	Version    string
	GoVersion  string
	Commit     string
	CommitTime string
	Modified   bool

	// Deps maps module path to version for every linked dependency.
	Deps map[string]string
}

func (c CompileInfo) String() string {
	mod := ""
	if c.Modified {
		mod = " Files in the repo were modified after that commit."
	}

	return fmt.Sprintf("This %s binary (%s) was built with %s at commit %v at time %v.%s", c.Package, c.version(), c.GoVersion, c.Commit, c.CommitTime, mod)
}

// Short is a single token suitable for a summary line, e.g. 1a2b3c4d+dirty.
func (c CompileInfo) Short() string {
	if c.Commit == "" {
		return c.version()
	}

	commit := c.Commit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if c.Modified {
		commit += "+dirty"
	}

	return commit
}

func (c CompileInfo) version() string {
	if c.Version == "" {
		return "(devel)"
	}
	return c.Version
}

// WriteDeps lists dependencies one per line, sorted by module path.
func (c CompileInfo) WriteDeps(w io.Writer) error {
	paths := make([]string, 0, len(c.Deps))
	for p := range c.Deps {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", p, c.Deps[p]); err != nil {
			return err
		}
	}

	return nil
}

func Get() CompileInfo {
	z, ok := debug.ReadBuildInfo()
	if !ok {
		return CompileInfo{}
	}

	return fromBuildInfo(z)
}

func fromBuildInfo(z *debug.BuildInfo) CompileInfo {
	out := CompileInfo{
		GoVersion: z.GoVersion,
		Package:   z.Path,
		Version:   z.Main.Version,
		Deps:      make(map[string]string, len(z.Deps)),
	}

	for _, d := range z.Deps {
		if d.Replace != nil {
			out.Deps[d.Path] = strings.TrimSpace(d.Replace.Path + " " + d.Replace.Version)
			continue
		}
		out.Deps[d.Path] = d.Version
	}

	for _, s := range z.Settings {
		switch s.Key {
		case "vcs.revision":
			out.Commit = s.Value
		case "vcs.time":
			out.CommitTime = s.Value
		case "vcs.modified":
			out.Modified = s.Value == "true"
		}
	}

	return out
}

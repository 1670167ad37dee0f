// Package collector moves the libraries of finished targets into the output
// directory and verifies that every declared library was produced.
package collector

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vk/xbuildgo/internal/ctxlog"
	"github.com/vk/xbuildgo/internal/manifest"
	"github.com/vk/xbuildgo/internal/toolchain"
	"golang.org/x/sync/errgroup"
)

// Artifact is one library copied into the output directory.
type Artifact struct {
	// Library is the build system target, e.g. "pcre2-8-static".
	Library string
	// Name is the declared external name, e.g. "pcre2-8".
	Name   string
	Source string
	Path   string
	Size   int64
}

// TargetArtifacts is the collection outcome of one target.
type TargetArtifacts struct {
	Plan      *toolchain.BuildPlan
	Artifacts []Artifact
	Errs      []error
}

// Name returns the target's directory name.
func (t TargetArtifacts) Name() string {
	return t.Plan.Target.DirName()
}

// MissingArtifactError reports a declared library that the build did not
// produce.
type MissingArtifactError struct {
	Target  string
	Library string
	Name    string
	// Expected lists the paths that were searched first.
	Expected []string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("%s: library %s (%s) was not produced, expected %s",
		e.Target, e.Name, e.Library, strings.Join(e.Expected, " or "))
}

// Collect copies the declared libraries of every plan into
// outDir/<dirName>/. Plans must belong to targets that finished building.
// A missing library is recorded on its target and does not stop the others.
func Collect(ctx context.Context, plans []*toolchain.BuildPlan, libraries map[string]manifest.LibraryMeta, outDir string, jobs int) []TargetArtifacts {
	results := make([]TargetArtifacts, len(plans))
	keys := sortedKeys(libraries)

	var g errgroup.Group
	if jobs > 0 {
		g.SetLimit(jobs)
	}
	for i, plan := range plans {
		g.Go(func() error {
			results[i] = collectTarget(ctx, plan, keys, libraries, outDir)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func collectTarget(ctx context.Context, plan *toolchain.BuildPlan, keys []string, libraries map[string]manifest.LibraryMeta, outDir string) TargetArtifacts {
	name := plan.Target.DirName()
	logger := ctxlog.FromContext(ctx).With("target", name)
	res := TargetArtifacts{Plan: plan}
	destDir := filepath.Join(outDir, name)

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			res.Errs = append(res.Errs, err)
			return res
		}
		lib := libraries[key]
		src, expected := locate(plan, key, lib.Name)
		if src == "" {
			err := &MissingArtifactError{Target: name, Library: key, Name: lib.Name, Expected: expected}
			logger.Error("Library not produced.", "library", key, "error", err)
			res.Errs = append(res.Errs, err)
			continue
		}
		dst := filepath.Join(destDir, plan.Toolchain.LibraryFile(lib.Name))
		size, err := copyFile(src, dst)
		if err != nil {
			res.Errs = append(res.Errs, fmt.Errorf("%s: failed to copy %s: %w", name, key, err))
			continue
		}
		logger.Info("Collected library.", "library", key, "path", dst, "bytes", size)
		res.Artifacts = append(res.Artifacts, Artifact{Library: key, Name: lib.Name, Source: src, Path: dst, Size: size})
	}
	return res
}

// locate finds the file of a library. The build system may name the file
// after the target or after its output name, so both are accepted. The
// install tree is searched before the rest of the work directory.
func locate(plan *toolchain.BuildPlan, key, name string) (string, []string) {
	candidates := []string{plan.Toolchain.LibraryFile(key)}
	if name != key {
		candidates = append(candidates, plan.Toolchain.LibraryFile(name))
	}

	expected := make([]string, len(candidates))
	for i, c := range candidates {
		expected[i] = filepath.Join(plan.InstallDir, "lib", c)
		if fileExists(expected[i]) {
			return expected[i], expected
		}
	}
	if found := search(plan.InstallDir, candidates, ""); found != "" {
		return found, expected
	}
	// Skip subdirectory builds so a vendored copy never shadows the
	// target's own library.
	return search(plan.WorkDir, candidates, filepath.Join(plan.WorkDir, toolchain.SubprojectDir)), expected
}

func search(root string, candidates []string, skip string) string {
	var found string
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p == skip {
				return filepath.SkipDir
			}
			return nil
		}
		for _, c := range candidates {
			if d.Name() == c {
				found = p
				return filepath.SkipAll
			}
		}
		return nil
	})
	return found
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func sortedKeys(libraries map[string]manifest.LibraryMeta) []string {
	return manifest.CommonConfig{Libraries: libraries}.LibraryKeys()
}

// Publisher uploads collected artifacts.
type Publisher interface {
	Publish(ctx context.Context, target string, a Artifact) error
}

// Publish uploads every artifact with at most jobs uploads in flight and
// returns the failures, one per artifact.
func Publish(ctx context.Context, p Publisher, results []TargetArtifacts, jobs int) []error {
	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	if jobs > 0 {
		g.SetLimit(jobs)
	}
	for _, res := range results {
		for _, a := range res.Artifacts {
			g.Go(func() error {
				if err := p.Publish(ctx, res.Name(), a); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
				return nil
			})
		}
	}
	_ = g.Wait()
	return errs
}

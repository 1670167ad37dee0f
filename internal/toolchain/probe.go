package toolchain

import (
	"fmt"
	"os/exec"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ToolRequirement describes an executable a toolchain needs.
type ToolRequirement struct {
	Name string
	// Alternatives satisfy the requirement when Name is absent.
	Alternatives []string
	Optional     bool
	Purpose      string
}

// MissingToolError lists the required tools that could not be found.
type MissingToolError struct {
	Missing []ToolRequirement
}

func (e *MissingToolError) Error() string {
	parts := make([]string, len(e.Missing))
	for i, req := range e.Missing {
		names := append([]string{req.Name}, req.Alternatives...)
		parts[i] = strings.Join(names, " or ")
		if req.Purpose != "" {
			parts[i] += " (" + req.Purpose + ")"
		}
	}
	return "required tools not found in PATH: " + strings.Join(parts, ", ")
}

// DefaultProbeCacheSize bounds the number of remembered lookups.
const DefaultProbeCacheSize = 128

type lookup struct {
	path string
	err  error
}

// Prober checks tool availability, remembering every lookup so that many
// targets sharing a toolchain only search PATH once per tool.
type Prober struct {
	LookPath func(string) (string, error)
	cache    *lru.Cache[string, lookup]
}

// NewProber returns a prober backed by exec.LookPath.
func NewProber(size int) (*Prober, error) {
	if size <= 0 {
		size = DefaultProbeCacheSize
	}
	cache, err := lru.New[string, lookup](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create probe cache: %w", err)
	}
	return &Prober{LookPath: exec.LookPath, cache: cache}, nil
}

// Find returns the path of the named tool.
func (p *Prober) Find(name string) (string, error) {
	if hit, ok := p.cache.Get(name); ok {
		return hit.path, hit.err
	}
	path, err := p.LookPath(name)
	p.cache.Add(name, lookup{path: path, err: err})
	return path, err
}

// Check verifies that every non-optional requirement is satisfied by its
// name or one of its alternatives.
func (p *Prober) Check(reqs []ToolRequirement) error {
	var missing []ToolRequirement
	for _, req := range reqs {
		if req.Optional || p.satisfied(req) {
			continue
		}
		missing = append(missing, req)
	}
	if len(missing) > 0 {
		return &MissingToolError{Missing: missing}
	}
	return nil
}

func (p *Prober) satisfied(req ToolRequirement) bool {
	for _, name := range append([]string{req.Name}, req.Alternatives...) {
		if _, err := p.Find(name); err == nil {
			return true
		}
	}
	return false
}

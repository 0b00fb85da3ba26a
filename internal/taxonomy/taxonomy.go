// Package taxonomy provides the immutable risk-factor catalog and safety
// resource directory used by the scanner and aggregator.
//
// The taxonomy is loaded once at startup, validated, and passed explicitly
// into the components that consume it. A malformed or empty taxonomy is a
// fatal configuration error: the service refuses to serve rather than
// silently under-detect risk.
package taxonomy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
)

// DefaultVersion identifies the built-in taxonomy snapshot.
const DefaultVersion = "builtin-v1"

// Resource selection limits, matching the directory's triage rules.
const (
	maxEmergencyResources = 3
	maxGeneralResources   = 2
)

// Snapshot is an immutable, versioned view of the risk-factor catalog and
// the safety resource directory. Construct one with New or Load; never
// mutate a snapshot after construction.
type Snapshot struct {
	version   string
	factors   []models.RiskFactor
	resources []models.SafetyResource
	byName    map[string]models.RiskFactor
}

// snapshotFile is the on-disk JSON layout accepted by Load.
type snapshotFile struct {
	Version   string                  `json:"version"`
	Factors   []models.RiskFactor     `json:"risk_factors"`
	Resources []models.SafetyResource `json:"safety_resources"`
}

// New validates the given catalog and builds an immutable snapshot.
func New(version string, factors []models.RiskFactor, resources []models.SafetyResource) (*Snapshot, error) {
	if version == "" {
		return nil, fmt.Errorf("taxonomy version must not be empty")
	}
	if len(factors) == 0 {
		return nil, fmt.Errorf("taxonomy %s contains no risk factors", version)
	}

	byName := make(map[string]models.RiskFactor, len(factors))
	for i, f := range factors {
		if f.Name == "" {
			return nil, fmt.Errorf("taxonomy %s: factor %d has no name", version, i)
		}
		if _, dup := byName[f.Name]; dup {
			return nil, fmt.Errorf("taxonomy %s: duplicate factor %q", version, f.Name)
		}
		if !models.IsValidSeverity(f.Severity) {
			return nil, fmt.Errorf("taxonomy %s: factor %q has invalid severity %q", version, f.Name, f.Severity)
		}
		if len(f.TriggerTerms) == 0 {
			return nil, fmt.Errorf("taxonomy %s: factor %q has no trigger terms", version, f.Name)
		}
		if f.StrongMatchCount < 0 {
			return nil, fmt.Errorf("taxonomy %s: factor %q has negative strong match count", version, f.Name)
		}
		byName[f.Name] = f
	}

	for i, r := range resources {
		if r.Name == "" || r.Contact == "" {
			return nil, fmt.Errorf("taxonomy %s: resource %d missing name or contact", version, i)
		}
	}

	slog.Debug("taxonomy.New: snapshot validated", "version", version, "factors", len(factors), "resources", len(resources))
	return &Snapshot{
		version:   version,
		factors:   factors,
		resources: resources,
		byName:    byName,
	}, nil
}

// Load reads a taxonomy snapshot from a JSON file. Missing safety resources
// fall back to the built-in directory so an operator-supplied factor file
// does not have to duplicate the resource list.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy file %s: %w", path, err)
	}

	var file snapshotFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy file %s: %w", path, err)
	}
	if file.Version == "" {
		file.Version = "file:" + path
	}
	if len(file.Resources) == 0 {
		file.Resources = defaultResources()
	}

	snap, err := New(file.Version, file.Factors, file.Resources)
	if err != nil {
		return nil, err
	}
	slog.Info("taxonomy.Load: loaded taxonomy from file", "path", path, "version", snap.Version(), "factors", len(snap.Factors()))
	return snap, nil
}

// Default returns the built-in taxonomy snapshot. It panics only if the
// built-in catalog itself is invalid, which is a programming error caught by
// the package tests.
func Default() *Snapshot {
	snap, err := New(DefaultVersion, defaultFactors(), defaultResources())
	if err != nil {
		panic(fmt.Sprintf("built-in taxonomy is invalid: %v", err))
	}
	return snap
}

// Version returns the snapshot's version identifier.
func (s *Snapshot) Version() string {
	return s.version
}

// Factors returns the full factor catalog in declaration order. Callers must
// not mutate the returned slice.
func (s *Snapshot) Factors() []models.RiskFactor {
	return s.factors
}

// Factor looks up a factor by name.
func (s *Snapshot) Factor(name string) (models.RiskFactor, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// Resources returns the full safety resource directory.
func (s *Snapshot) Resources() []models.SafetyResource {
	return s.resources
}

// ResourcesFor selects the safety resources to surface for a risk level.
// Medium and above includes the leading emergency resources; a couple of
// general resources are always appended so even a calm reply carries a
// pointer to support.
func (s *Snapshot) ResourcesFor(level models.RiskLevel) []models.SafetyResource {
	var out []models.SafetyResource

	if level.AtLeast(models.RiskLevelMedium) {
		n := 0
		for _, r := range s.resources {
			if r.Emergency {
				out = append(out, r)
				n++
				if n >= maxEmergencyResources {
					break
				}
			}
		}
	}

	n := 0
	for _, r := range s.resources {
		if !r.Emergency {
			out = append(out, r)
			n++
			if n >= maxGeneralResources {
				break
			}
		}
	}
	return out
}

package tuning

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"hearthwork.ai/internal/sim/logic/carry"
)

type Tuning struct {
	Version string `yaml:"version" cbor:"version" json:"version"`

	// ReadWorkers bounds how many read phases run at once.
	ReadWorkers        int    `yaml:"read_workers" cbor:"read_workers" json:"read_workers"`
	SnapshotEverySteps uint64 `yaml:"snapshot_every_steps" cbor:"snapshot_every_steps" json:"snapshot_every_steps"`

	Haul     Haul     `yaml:"haul" cbor:"haul" json:"haul"`
	Projects Projects `yaml:"projects" cbor:"projects" json:"projects"`
}

type Haul struct {
	MinimumHaulSpeedInitial int     `yaml:"minimum_haul_speed_initial" cbor:"minimum_haul_speed_initial" json:"minimum_haul_speed_initial"`
	MinimumOverloadRatio    float64 `yaml:"minimum_overload_ratio" cbor:"minimum_overload_ratio" json:"minimum_overload_ratio"`
	RollingMassModifier     float64 `yaml:"rolling_mass_modifier" cbor:"rolling_mass_modifier" json:"rolling_mass_modifier"`
	FloatingMassModifier    float64 `yaml:"floating_mass_modifier" cbor:"floating_mass_modifier" json:"floating_mass_modifier"`
	StepsBetweenDispatch    uint64  `yaml:"steps_between_haul_dispatch" cbor:"steps_between_haul_dispatch" json:"steps_between_haul_dispatch"`
	// MaxToolSearchRange bounds the search for carts, beasts and panniers.
	MaxToolSearchRange int `yaml:"max_tool_search_range" cbor:"max_tool_search_range" json:"max_tool_search_range"`
}

// Carry is the mass model the world moves groups with.
func (h Haul) Carry() carry.Params {
	return carry.Params{
		RollingMassModifier:  h.RollingMassModifier,
		FloatingMassModifier: h.FloatingMassModifier,
		MinimumOverloadRatio: h.MinimumOverloadRatio,
	}
}

type Projects struct {
	MaxSearchRange      int    `yaml:"max_search_range" cbor:"max_search_range" json:"max_search_range"`
	AdmissionRetrySteps uint64 `yaml:"admission_retry_steps" cbor:"admission_retry_steps" json:"admission_retry_steps"`

	// Kinds holds the policy for each project kind, keyed by kind name. An
	// entry in the file replaces the default policy of that kind.
	Kinds map[string]Policy `yaml:"kinds" cbor:"kinds" json:"kinds"`
}

type Policy struct {
	CanReset                    bool   `yaml:"can_reset" cbor:"can_reset" json:"can_reset"`
	HaulingOnly                 bool   `yaml:"hauling_only" cbor:"hauling_only" json:"hauling_only"`
	HaulRetriesBeforeDelay      int    `yaml:"haul_retries_before_delay" cbor:"haul_retries_before_delay" json:"haul_retries_before_delay"`
	AdmissionRetriesBeforeDelay int    `yaml:"admission_retries_before_delay" cbor:"admission_retries_before_delay" json:"admission_retries_before_delay"`
	DelaySteps                  uint64 `yaml:"delay_steps" cbor:"delay_steps" json:"delay_steps"`
}

func resettable(haulRetries int, delay uint64) Policy {
	return Policy{CanReset: true, HaulRetriesBeforeDelay: haulRetries, AdmissionRetriesBeforeDelay: 3, DelaySteps: delay}
}

func Defaults() Tuning {
	return Tuning{
		Version:            "v1",
		ReadWorkers:        4,
		SnapshotEverySteps: 1000,
		Haul: Haul{
			MinimumHaulSpeedInitial: 5,
			MinimumOverloadRatio:    0.6,
			RollingMassModifier:     0.25,
			FloatingMassModifier:    0.5,
			StepsBetweenDispatch:    2,
			MaxToolSearchRange:      64,
		},
		Projects: Projects{
			MaxSearchRange:      64,
			AdmissionRetrySteps: 10,
			Kinds: map[string]Policy{
				"dig":       resettable(10, 100),
				"construct": resettable(10, 100),
				"craft":     resettable(10, 100),
				"woodcut":   resettable(10, 100),
				"medical":   resettable(5, 50),
				"stockpile": {CanReset: false, HaulingOnly: true, HaulRetriesBeforeDelay: 5, AdmissionRetriesBeforeDelay: 1, DelaySteps: 50},
			},
		},
	}
}

// Load reads path over Defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.ReadWorkers <= 0 {
		return fmt.Errorf("read_workers must be > 0, got %d", t.ReadWorkers)
	}
	h := t.Haul
	if h.MinimumHaulSpeedInitial <= 0 {
		return fmt.Errorf("haul.minimum_haul_speed_initial must be > 0, got %d", h.MinimumHaulSpeedInitial)
	}
	if h.MinimumOverloadRatio <= 0 || h.MinimumOverloadRatio > 1 {
		return fmt.Errorf("haul.minimum_overload_ratio must be in (0,1], got %v", h.MinimumOverloadRatio)
	}
	if h.RollingMassModifier < 0 || h.FloatingMassModifier < 0 {
		return fmt.Errorf("haul mass modifiers must be >= 0")
	}
	if h.StepsBetweenDispatch == 0 {
		return fmt.Errorf("haul.steps_between_haul_dispatch must be > 0")
	}
	if t.Projects.MaxSearchRange <= 0 {
		return fmt.Errorf("projects.max_search_range must be > 0, got %d", t.Projects.MaxSearchRange)
	}
	if t.Projects.AdmissionRetrySteps == 0 {
		return fmt.Errorf("projects.admission_retry_steps must be > 0")
	}
	names := make([]string, 0, len(t.Projects.Kinds))
	for name := range t.Projects.Kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := t.Projects.Kinds[name]
		if p.HaulRetriesBeforeDelay <= 0 || p.AdmissionRetriesBeforeDelay <= 0 {
			return fmt.Errorf("projects.kinds.%s: retry ceilings must be > 0", name)
		}
		if p.DelaySteps == 0 {
			return fmt.Errorf("projects.kinds.%s: delay_steps must be > 0", name)
		}
	}
	return nil
}

// Policy returns the policy for kind, falling back to a resettable default.
func (t Tuning) Policy(kind string) Policy {
	if p, ok := t.Projects.Kinds[kind]; ok {
		return p
	}
	return resettable(10, 100)
}

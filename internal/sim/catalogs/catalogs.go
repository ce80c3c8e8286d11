package catalogs

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"hearthwork.ai/internal/sim/kernel/model"
)

type Catalogs struct {
	Species SpeciesCatalog
	Items   ItemCatalog
}

type SpeciesCatalog struct {
	Palette []string
	Defs    map[string]SpeciesDef
	Digest  string
}

type SpeciesDef struct {
	ID        string `yaml:"id"`
	Mass      int    `yaml:"mass"`
	CarryMass int    `yaml:"carry_mass"`
	Speed     int    `yaml:"speed"`
	Sentient  bool   `yaml:"sentient"`
	Yokeable  bool   `yaml:"yokeable"`
	Immobile  bool   `yaml:"immobile,omitempty"`
}

type ItemCatalog struct {
	Palette []string
	Defs    map[string]ItemDef
	Digest  string
}

type ItemDef struct {
	ID             string `yaml:"id"`
	UnitMass       int    `yaml:"unit_mass"`
	Volume         int    `yaml:"volume"`
	InternalVolume int    `yaml:"internal_volume,omitempty"`
	Locomotion     string `yaml:"locomotion,omitempty"`
	Generic        bool   `yaml:"generic,omitempty"`
	HaulTool       bool   `yaml:"haul_tool,omitempty"`
	Panniers       bool   `yaml:"panniers,omitempty"`
}

func (d ItemDef) Moves() model.Locomotion {
	l, _ := model.ParseLocomotion(d.Locomotion)
	return l
}

// Load reads species.yaml and items.yaml from configDir.
func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadSpecies(filepath.Join(configDir, "species.yaml"), &c.Species); err != nil {
		return nil, err
	}
	if err := loadItems(filepath.Join(configDir, "items.yaml"), &c.Items); err != nil {
		return nil, err
	}
	return &c, nil
}

// FromDefs builds catalogs in memory. Digests cover the yaml encoding of the
// definitions in the order given, so they match a file only when that file
// is written the same way.
func FromDefs(species []SpeciesDef, items []ItemDef) (*Catalogs, error) {
	var c Catalogs
	raw, err := yaml.Marshal(species)
	if err != nil {
		return nil, err
	}
	if err := indexSpecies("species", raw, species, &c.Species); err != nil {
		return nil, err
	}
	raw, err = yaml.Marshal(items)
	if err != nil {
		return nil, err
	}
	if err := indexItems("items", raw, items, &c.Items); err != nil {
		return nil, err
	}
	return &c, nil
}

func digestHex(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadSpecies(path string, out *SpeciesCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var defs []SpeciesDef
	if err := yaml.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("species.yaml: %w", err)
	}
	return indexSpecies("species.yaml", raw, defs, out)
}

func indexSpecies(name string, raw []byte, defs []SpeciesDef, out *SpeciesCatalog) error {
	out.Digest = digestHex(raw)
	out.Defs = map[string]SpeciesDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("%s: empty id", name)
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("%s: duplicate id %q", name, d.ID)
		}
		if d.Mass <= 0 {
			return fmt.Errorf("%s: %s: mass must be > 0", name, d.ID)
		}
		if !d.Immobile && d.Speed <= 0 {
			return fmt.Errorf("%s: %s: speed must be > 0", name, d.ID)
		}
		out.Defs[d.ID] = d
	}
	out.Palette = sortedKeys(out.Defs)
	return nil
}

func loadItems(path string, out *ItemCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var defs []ItemDef
	if err := yaml.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("items.yaml: %w", err)
	}
	return indexItems("items.yaml", raw, defs, out)
}

func indexItems(name string, raw []byte, defs []ItemDef, out *ItemCatalog) error {
	out.Digest = digestHex(raw)
	out.Defs = map[string]ItemDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("%s: empty id", name)
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("%s: duplicate id %q", name, d.ID)
		}
		if d.UnitMass <= 0 || d.Volume <= 0 {
			return fmt.Errorf("%s: %s: unit_mass and volume must be > 0", name, d.ID)
		}
		if _, ok := model.ParseLocomotion(d.Locomotion); !ok {
			return fmt.Errorf("%s: %s: unknown locomotion %q", name, d.ID, d.Locomotion)
		}
		if (d.HaulTool || d.Panniers) && d.InternalVolume <= 0 {
			return fmt.Errorf("%s: %s: containers need internal_volume", name, d.ID)
		}
		out.Defs[d.ID] = d
	}
	out.Palette = sortedKeys(out.Defs)
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

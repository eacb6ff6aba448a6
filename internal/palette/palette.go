// Package palette defines the small integer label space a scan is reduced to:
// which block ids map to which label, which block a label is replayed as, and
// how a label is drawn.
package palette

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"voxelscan/internal/gdmc"
)

const (
	DefaultProfile = "natural"

	// TransparentAlpha is the opacity used for labels flagged transparent.
	TransparentAlpha = 0.35
)

//go:embed profiles/*.yaml
var builtinFS embed.FS

//go:embed schemas/profile.schema.json
var profileSchemaJSON string

type LabelDef struct {
	Label       uint8     `yaml:"label" json:"label"`
	Name        string    `yaml:"name" json:"name"`
	Block       string    `yaml:"block,omitempty" json:"block,omitempty"`
	Transparent bool      `yaml:"transparent,omitempty" json:"transparent,omitempty"`
	Color       []float64 `yaml:"color,omitempty" json:"color,omitempty"`
}

// Rule assigns Label to any id matching one of Exact, Prefix or Suffix.
type Rule struct {
	Label  uint8    `yaml:"label" json:"label"`
	Exact  []string `yaml:"exact,omitempty" json:"exact,omitempty"`
	Prefix []string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Suffix []string `yaml:"suffix,omitempty" json:"suffix,omitempty"`
}

type Profile struct {
	Name          string     `yaml:"name" json:"name"`
	DefaultLabel  uint8      `yaml:"default_label" json:"default_label"`
	FallbackBlock string     `yaml:"fallback_block" json:"fallback_block"`
	Labels        []LabelDef `yaml:"labels" json:"labels"`
	Rules         []Rule     `yaml:"rules" json:"rules"`

	Digest string `yaml:"-" json:"-"`

	byLabel map[uint8]LabelDef
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func profileSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("profile.schema.json", profileSchemaJSON)
	})
	return schema, schemaErr
}

// Builtin returns one of the embedded profiles by name.
func Builtin(name string) (*Profile, error) {
	raw, err := builtinFS.ReadFile(path.Join("profiles", name+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("unknown profile %q (have %s)", name, strings.Join(BuiltinNames(), ", "))
	}
	return Parse(raw)
}

func BuiltinNames() []string {
	ents, _ := builtinFS.ReadDir("profiles")
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// Resolve treats nameOrPath as a built-in name first, then as a file path.
func Resolve(nameOrPath string) (*Profile, error) {
	if nameOrPath == "" {
		nameOrPath = DefaultProfile
	}
	if !strings.ContainsAny(nameOrPath, `/\.`) {
		return Builtin(nameOrPath)
	}
	return Load(nameOrPath)
}

func Load(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse validates a YAML profile against the profile schema and indexes it.
func Parse(raw []byte) (*Profile, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("profile yaml: %w", err)
	}
	if err := validate(doc); err != nil {
		return nil, err
	}

	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("profile yaml: %w", err)
	}
	if err := p.index(); err != nil {
		return nil, err
	}
	return &p, nil
}

func validate(doc any) error {
	s, err := profileSchema()
	if err != nil {
		return fmt.Errorf("compile profile schema: %w", err)
	}
	// Round-trip through JSON so the validator sees json.Number values.
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	return nil
}

func (p *Profile) index() error {
	p.byLabel = make(map[uint8]LabelDef, len(p.Labels))
	for _, d := range p.Labels {
		if _, dup := p.byLabel[d.Label]; dup {
			return fmt.Errorf("profile %s: duplicate label %d", p.Name, d.Label)
		}
		p.byLabel[d.Label] = d
	}
	if _, ok := p.byLabel[0]; !ok {
		return fmt.Errorf("profile %s: missing label 0 (air)", p.Name)
	}
	if p.FallbackBlock == "" {
		p.FallbackBlock = "minecraft:stone"
	}

	b, _ := json.Marshal(p)
	sum := sha256.Sum256(b)
	p.Digest = hex.EncodeToString(sum[:])
	return nil
}

// Classify maps a block id (with or without state suffix) to a label.
func (p *Profile) Classify(id string) uint8 {
	name := gdmc.NormalizeID(id)
	for _, r := range p.Rules {
		if r.matches(name) {
			return r.Label
		}
	}
	return p.DefaultLabel
}

func (r Rule) matches(name string) bool {
	for _, s := range r.Exact {
		if name == s {
			return true
		}
	}
	for _, s := range r.Prefix {
		if strings.HasPrefix(name, s) {
			return true
		}
	}
	for _, s := range r.Suffix {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// BlockFor returns the block id a label is replayed as.
func (p *Profile) BlockFor(label uint8) string {
	if d, ok := p.byLabel[label]; ok && d.Block != "" {
		return d.Block
	}
	return p.FallbackBlock
}

func (p *Profile) Def(label uint8) (LabelDef, bool) {
	d, ok := p.byLabel[label]
	return d, ok
}

func (p *Profile) LabelName(label uint8) string {
	if d, ok := p.byLabel[label]; ok {
		return d.Name
	}
	return fmt.Sprintf("label_%d", label)
}

// Color returns the draw colour and opacity of a label. Air is fully
// transparent, transparent labels use TransparentAlpha, everything else is
// opaque. Labels without a colour borrow the default label's colour.
func (p *Profile) Color(label uint8) (colorful.Color, float64) {
	if label == 0 {
		return colorful.Color{}, 0
	}
	d, ok := p.byLabel[label]
	if !ok || len(d.Color) < 3 {
		d2, ok2 := p.byLabel[p.DefaultLabel]
		if ok2 && len(d2.Color) >= 3 {
			d.Color = d2.Color
		} else {
			d.Color = []float64{0.75, 0.75, 0.75}
		}
	}
	c := colorful.Color{R: d.Color[0], G: d.Color[1], B: d.Color[2]}.Clamped()
	if d.Transparent {
		return c, TransparentAlpha
	}
	return c, 1
}

// SortedLabels returns the defined labels in ascending order.
func (p *Profile) SortedLabels() []LabelDef {
	out := append([]LabelDef(nil), p.Labels...)
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

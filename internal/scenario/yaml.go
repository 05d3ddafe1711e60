package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kuitang/textile-e2e/internal/driver"
	"github.com/kuitang/textile-e2e/internal/errs"
)

// file is the on-disk scenario shape:
//
//	name: fabric
//	base_url: http://localhost:1420
//	viewport: {width: 1920, height: 1048}
//	steps:
//	  - navigate: /fabric
//	  - read: {property: title, into: title}
//	  - locate: {as: heading, by: id, selector: title}
//	  - read: {property: text, target: heading, into: heading}
//	  - drag: {from: backdrop, to: backdrop}
//	assert:
//	  - {name: page title, observation: title, equals: Textile V2.1}
type file struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	BaseURL     string           `yaml:"base_url"`
	Viewport    *driver.Viewport `yaml:"viewport"`
	Tags        []string         `yaml:"tags"`
	Steps       stepList         `yaml:"steps"`
	Assert      []fileAssertion  `yaml:"assert"`
}

type fileAssertion struct {
	Name        string `yaml:"name"`
	Observation string `yaml:"observation"`
	Equals      string `yaml:"equals"`
}

type locateSpec struct {
	As       string `yaml:"as"`
	By       string `yaml:"by"`
	Selector string `yaml:"selector"`
}

type interactSpec struct {
	Action string `yaml:"action"`
	Target string `yaml:"target"`
	Text   string `yaml:"text"`
}

type readSpec struct {
	Property string `yaml:"property"`
	Target   string `yaml:"target"`
	Name     string `yaml:"name"`
	Into     string `yaml:"into"`
}

type dragSpec struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

type stepList []Step

// UnmarshalYAML decodes one-key step maps. A drag entry expands to press, move and release.
func (l *stepList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: steps must be a list", node.Line)
	}
	for i, item := range node.Content {
		if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
			return fmt.Errorf("line %d: step %d must be a map with exactly one key", item.Line, i+1)
		}
		key, value := item.Content[0].Value, item.Content[1]
		switch key {
		case "navigate":
			var url string
			if err := value.Decode(&url); err != nil {
				return fmt.Errorf("line %d: navigate: %w", value.Line, err)
			}
			*l = append(*l, Navigate(url))
		case "locate":
			var spec locateSpec
			if err := decodeStrict(value, &spec); err != nil {
				return fmt.Errorf("line %d: locate: %w", value.Line, err)
			}
			strategy, err := driver.ParseStrategy(spec.By)
			if err != nil {
				return fmt.Errorf("line %d: locate: %w", value.Line, err)
			}
			*l = append(*l, Locate(spec.As, strategy, spec.Selector))
		case "interact":
			var spec interactSpec
			if err := decodeStrict(value, &spec); err != nil {
				return fmt.Errorf("line %d: interact: %w", value.Line, err)
			}
			*l = append(*l, Step{Kind: KindInteract, Action: Action(spec.Action), Target: spec.Target, Text: spec.Text})
		case "read":
			var spec readSpec
			if err := decodeStrict(value, &spec); err != nil {
				return fmt.Errorf("line %d: read: %w", value.Line, err)
			}
			*l = append(*l, Step{Kind: KindRead, Property: Property(spec.Property), Target: spec.Target, Name: spec.Name, Into: spec.Into})
		case "drag":
			var spec dragSpec
			if err := decodeStrict(value, &spec); err != nil {
				return fmt.Errorf("line %d: drag: %w", value.Line, err)
			}
			to := spec.To
			if to == "" {
				to = spec.From
			}
			*l = append(*l, Drag(spec.From, to)...)
		default:
			return fmt.Errorf("line %d: unknown step %q", item.Line, key)
		}
	}
	return nil
}

// decodeStrict decodes a mapping node rejecting unknown keys, which
// yaml.Node.Decode does not do on its own.
func decodeStrict(node *yaml.Node, out any) error {
	raw, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	return dec.Decode(out)
}

// Parse decodes and validates one YAML scenario.
func Parse(data []byte) (Scenario, error) {
	return parse(data, "")
}

func parse(data []byte, defaultName string) (Scenario, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return Scenario{}, errs.New(errs.InvalidArgument, "empty scenario file")
		}
		return Scenario{}, errs.Wrap(errs.InvalidArgument, "parse scenario", err)
	}

	if strings.TrimSpace(f.Name) == "" {
		f.Name = defaultName
	}
	sc := Scenario{
		Name:        strings.TrimSpace(f.Name),
		Description: f.Description,
		BaseURL:     f.BaseURL,
		Viewport:    f.Viewport,
		Steps:       []Step(f.Steps),
		Tags:        f.Tags,
	}
	for _, a := range f.Assert {
		sc.Assertions = append(sc.Assertions, Assertion{Name: a.Name, Observation: a.Observation, Expected: a.Equals})
	}
	if err := sc.Validate(); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}

// Load reads one scenario file. A file without a name takes its base name.
func Load(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, errs.Wrap(errs.InvalidArgument, "read scenario "+path, err)
	}
	sc, err := parse(data, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	if err != nil {
		return Scenario{}, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// LoadDir loads every *.yaml / *.yml file in dir, sorted by file name.
// Duplicate scenario names are rejected.
func LoadDir(dir string) ([]Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "read scenario dir "+dir, err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)

	var out []Scenario
	seen := make(map[string]string)
	for _, path := range paths {
		sc, err := Load(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[sc.Name]; dup {
			return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("scenario %q defined in both %s and %s", sc.Name, prev, path))
		}
		seen[sc.Name] = path
		out = append(out, sc)
	}
	return out, nil
}

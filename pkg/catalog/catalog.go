// Package catalog reads the pipeline catalog: the fixed stage topologies of
// every pipeline instance a sensor mode can select, with their default
// resolutions and sink mapping.
//
// Catalogs are written by hand in YAML and shipped compiled to a msgpack
// blob. Both forms load into the same Catalog and every pipeline is checked
// when the catalog is loaded, so Select only ever returns valid graphs.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/menta2k/isp-configurator/internal/logging"
	"github.com/menta2k/isp-configurator/pkg/graph"
)

// SchemaVersion is the catalog document version this package reads.
const SchemaVersion = 1

// ErrNotFound is returned by Select when no pipeline matches the key.
var ErrNotFound = errors.New("no pipeline for key")

// Key selects a pipeline instance by sensor mode and attribute string.
type Key struct {
	Width      int    `yaml:"width" msgpack:"w"`
	Height     int    `yaml:"height" msgpack:"h"`
	Attributes string `yaml:"attributes" msgpack:"attr"`
}

func (k Key) String() string {
	if k.Attributes == "" {
		return fmt.Sprintf("%dx%d", k.Width, k.Height)
	}
	return fmt.Sprintf("%dx%d/%s", k.Width, k.Height, k.Attributes)
}

// ParseKey parses "WxH" or "WxH/attributes".
func ParseKey(s string) (Key, error) {
	var k Key
	res, attr, _ := strings.Cut(strings.TrimSpace(s), "/")
	if _, err := fmt.Sscanf(res, "%dx%d", &k.Width, &k.Height); err != nil {
		return Key{}, fmt.Errorf("invalid catalog key %q: %w", s, err)
	}
	k.Attributes = attr
	return k, nil
}

// Document is the serialized catalog.
type Document struct {
	Version   int            `yaml:"version" msgpack:"v"`
	Formats   []graph.Format `yaml:"formats" msgpack:"formats"`
	Pipelines []Pipeline     `yaml:"pipelines" msgpack:"pipelines"`
}

// Pipeline is one selectable pipeline instance.
type Pipeline struct {
	Name     string                          `yaml:"name" msgpack:"name"`
	Key      Key                             `yaml:"key" msgpack:"key"`
	Variant  string                          `yaml:"variant" msgpack:"variant"`
	Sensor   graph.Resolution                `yaml:"sensor" msgpack:"sensor"`
	MainSink graph.StageID                   `yaml:"main_sink" msgpack:"main"`
	Sinks    map[graph.Purpose]graph.StageID `yaml:"sinks" msgpack:"sinks"`
	Formats  []graph.Format                  `yaml:"formats" msgpack:"formats"`
	Stages   []Stage                         `yaml:"stages" msgpack:"stages"`
}

// Stage is the catalog form of a stage descriptor.
type Stage struct {
	ID            graph.StageID    `yaml:"id" msgpack:"id"`
	Name          string           `yaml:"name" msgpack:"name"`
	Role          string           `yaml:"role" msgpack:"role"`
	Upstream      graph.StageID    `yaml:"upstream" msgpack:"up"`
	Baseline      graph.Resolution `yaml:"baseline" msgpack:"base"`
	Format        string           `yaml:"format" msgpack:"fmt"`
	BitDepth      []int            `yaml:"bit_depth" msgpack:"bits"`
	HistorySource graph.StageID    `yaml:"history_source" msgpack:"hist"`
}

// Catalog is a loaded, validated catalog.
type Catalog struct {
	doc Document
}

// Parse reads a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return fromDocument(doc)
}

// LoadFile loads a catalog, compiled or YAML, choosing by file extension.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return Parse(data)
	default:
		return Open(data)
	}
}

func fromDocument(doc Document) (*Catalog, error) {
	if doc.Version != SchemaVersion {
		return nil, fmt.Errorf("unsupported catalog version %d, want %d", doc.Version, SchemaVersion)
	}
	c := &Catalog{doc: doc}
	seen := make(map[Key]string, len(doc.Pipelines))
	for i := range doc.Pipelines {
		p := &doc.Pipelines[i]
		if prev, ok := seen[p.Key]; ok {
			return nil, fmt.Errorf("pipelines %s and %s share key %s", prev, p.Name, p.Key)
		}
		seen[p.Key] = p.Name
		if _, err := c.build(p); err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", p.Name, err)
		}
	}
	logging.L().Debug("catalog: loaded", "pipelines", len(doc.Pipelines), "formats", len(doc.Formats))
	return c, nil
}

// Keys lists the selectable keys in catalog order.
func (c *Catalog) Keys() []Key {
	keys := make([]Key, len(c.doc.Pipelines))
	for i, p := range c.doc.Pipelines {
		keys[i] = p.Key
	}
	return keys
}

// Names lists the pipeline names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.doc.Pipelines))
	for i, p := range c.doc.Pipelines {
		names[i] = p.Name
	}
	return names
}

// Select returns a fresh graph for the pipeline matching key. An empty
// attribute string selects the first pipeline for the resolution.
func (c *Catalog) Select(key Key) (*graph.Graph, error) {
	for i := range c.doc.Pipelines {
		p := &c.doc.Pipelines[i]
		if p.Key.Width != key.Width || p.Key.Height != key.Height {
			continue
		}
		if key.Attributes != "" && !strings.EqualFold(p.Key.Attributes, key.Attributes) {
			continue
		}
		logging.L().Debug("catalog: selected", "key", key.String(), "pipeline", p.Name)
		return c.build(p)
	}
	return nil, fmt.Errorf("%w %s", ErrNotFound, key)
}

// build turns a catalog pipeline into a validated graph.
func (c *Catalog) build(p *Pipeline) (*graph.Graph, error) {
	stages := make([]graph.StageDescriptor, len(p.Stages))
	for i, s := range p.Stages {
		role, err := graph.ParseRole(s.Role)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", s.Name, err)
		}
		stages[i] = graph.StageDescriptor{
			ID:            s.ID,
			Name:          s.Name,
			Role:          role,
			Upstream:      s.Upstream,
			Baseline:      s.Baseline,
			Format:        s.Format,
			BitDepth:      append([]int(nil), s.BitDepth...),
			HistorySource: s.HistorySource,
		}
	}

	g := graph.New(p.Name, p.Sensor, stages)
	g.Variant = p.Variant
	g.MainSink = p.MainSink
	for purpose, id := range p.Sinks {
		g.Sinks[purpose] = id
	}
	for _, formats := range [][]graph.Format{c.doc.Formats, p.Formats} {
		for _, f := range formats {
			if err := f.Validate(); err != nil {
				return nil, err
			}
			g.Formats[f.Name] = f
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

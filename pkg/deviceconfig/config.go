package deviceconfig

import (
	"math"
	"strconv"
)

const (
	DPS_TYPE_BOOLEAN = "boolean"
	DPS_TYPE_INTEGER = "integer"
	DPS_TYPE_STRING  = "string"
	DPS_TYPE_FLOAT   = "float"
)

// Dps describes one data point of a device, as reported in its status map.
type Dps struct {
	Id       int    `yaml:"id"`
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Optional bool   `yaml:"optional"`
}

type Entity struct {
	Entity string `yaml:"entity"`
	Name   string `yaml:"name"`
	Dps    []Dps  `yaml:"dps"`
}

// DeviceConfig is one device definition of the library.
// ConfigType is the file basename and is the canonical type identifier.
type DeviceConfig struct {
	ConfigType        string   `yaml:"-"`
	Name              string   `yaml:"name"`
	LegacyType        string   `yaml:"legacy_type"`
	PrimaryEntity     Entity   `yaml:"primary_entity"`
	SecondaryEntities []Entity `yaml:"secondary_entities"`
}

func (c *DeviceConfig) Entities() []Entity {
	entities := make([]Entity, 0, len(c.SecondaryEntities)+1)
	entities = append(entities, c.PrimaryEntity)
	return append(entities, c.SecondaryEntities...)
}

// AllDps returns every distinct data point of the config, first declaration wins.
func (c *DeviceConfig) AllDps() []Dps {
	seen := map[int]bool{}
	var all []Dps
	for _, e := range c.Entities() {
		for _, d := range e.Dps {
			if seen[d.Id] {
				continue
			}
			seen[d.Id] = true
			all = append(all, d)
		}
	}
	return all
}

// Matches reports whether a device status map could belong to this config:
// every required data point is present with a value of the declared type.
func (c *DeviceConfig) Matches(status map[string]any) bool {
	for _, d := range c.AllDps() {
		value, ok := status[strconv.Itoa(d.Id)]
		if !ok {
			if d.Optional {
				continue
			}
			return false
		}
		if !d.accepts(value) {
			return false
		}
	}
	return true
}

// MatchQuality is the number of data points of the config present in status.
func (c *DeviceConfig) MatchQuality(status map[string]any) int {
	n := 0
	for _, d := range c.AllDps() {
		if _, ok := status[strconv.Itoa(d.Id)]; ok {
			n++
		}
	}
	return n
}

// Platforms lists the distinct entity platforms the config declares, primary first.
func (c *DeviceConfig) Platforms() []string {
	seen := map[string]bool{}
	var platforms []string
	for _, e := range c.Entities() {
		if e.Entity == "" || seen[e.Entity] {
			continue
		}
		seen[e.Entity] = true
		platforms = append(platforms, e.Entity)
	}
	return platforms
}

// EntityFor returns the first entity of the config for the given platform.
func (c *DeviceConfig) EntityFor(platform string) (Entity, bool) {
	for _, e := range c.Entities() {
		if e.Entity == platform {
			return e, true
		}
	}
	return Entity{}, false
}

func (d Dps) accepts(value any) bool {
	switch d.Type {
	case DPS_TYPE_BOOLEAN:
		_, ok := value.(bool)
		return ok
	case DPS_TYPE_STRING:
		_, ok := value.(string)
		return ok
	case DPS_TYPE_INTEGER:
		switch v := value.(type) {
		case int, int32, int64:
			return true
		case float64:
			return v == math.Trunc(v)
		}
		return false
	case DPS_TYPE_FLOAT:
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	default:
		return true
	}
}

package optimization

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
)

// PropertyType is the declared type of an option.
type PropertyType string

const (
	// TypeInteger accepts integral numbers only.
	TypeInteger PropertyType = "integer"
	// TypeNumber accepts any finite or infinite real number.
	TypeNumber PropertyType = "number"
)

// Property declares one named option.
type Property struct {
	Name        string
	Type        PropertyType
	Default     interface{}
	Description string
}

// Schema is the set of options an optimizer accepts. Options not declared
// here are rejected.
type Schema struct {
	ID         string
	Properties []Property
}

// Lookup returns the property with the given name.
func (s Schema) Lookup(name string) (Property, bool) {
	for _, p := range s.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// Names returns the declared option names in declaration order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Properties))
	for i, p := range s.Properties {
		names[i] = p.Name
	}
	return names
}

// Defaults returns a fresh map of every option set to its default.
func (s Schema) Defaults() map[string]interface{} {
	out := make(map[string]interface{}, len(s.Properties))
	for _, p := range s.Properties {
		out[p.Name] = p.Default
	}
	return out
}

// Validate checks values against the schema without resolving them.
func (s Schema) Validate(values map[string]interface{}) error {
	_, err := s.Resolve(values)
	return err
}

// Resolve validates values and returns the complete option set: defaults
// overlaid with the given values, integers as int and numbers as float64.
func (s Schema) Resolve(values map[string]interface{}) (map[string]interface{}, error) {
	var unknown []string
	for name := range values {
		if _, ok := s.Lookup(name); !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, configError(strings.Join(unknown, ", "),
			"additional properties are not allowed (declared: %s)", strings.Join(s.Names(), ", "))
	}

	out := s.Defaults()
	for name, raw := range values {
		p, _ := s.Lookup(name)
		v, err := p.coerce(raw)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

func (p Property) coerce(raw interface{}) (interface{}, error) {
	f, ok := toFloat(raw)
	if !ok {
		return nil, configError(p.Name, "expected %s, got %T", p.Type, raw)
	}
	switch p.Type {
	case TypeInteger:
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return nil, configError(p.Name, "expected integer, got %v", raw)
		}
		if f > math.MaxInt32 || f < math.MinInt32 {
			return nil, configError(p.Name, "integer %v out of range", raw)
		}
		return int(f), nil
	case TypeNumber:
		return f, nil
	default:
		return nil, configError(p.Name, "unsupported property type %q", p.Type)
	}
}

func toFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

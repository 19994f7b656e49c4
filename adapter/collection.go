package adapter

import (
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"
)

const defaultPrimaryKey = "id"

// Attribute is one field of a collection definition.
type Attribute struct {
	Type          string `mapstructure:"type" json:"type,omitempty"`
	PrimaryKey    bool   `mapstructure:"primaryKey" json:"primaryKey,omitempty"`
	Unique        bool   `mapstructure:"unique" json:"unique,omitempty"`
	Required      bool   `mapstructure:"required" json:"required,omitempty"`
	AutoIncrement bool   `mapstructure:"autoIncrement" json:"autoIncrement,omitempty"`
}

// Collection is a registered table and what the adapter derived from its
// definition: the primary key and one secondary index per unique attribute.
type Collection struct {
	Identity         string                `json:"identity"`
	Definition       map[string]*Attribute `json:"definition"`
	PrimaryKey       string                `json:"primaryKey"`
	SecondaryIndices []string              `json:"secondaryIndices,omitempty"`
}

// DecodeAttributes turns a loosely typed definition, as found in JSON
// fixtures, into attributes. A bare string is shorthand for the type.
func DecodeAttributes(raw map[string]interface{}) (map[string]*Attribute, error) {
	attrs := make(map[string]*Attribute, len(raw))
	for name, v := range raw {
		if typ, ok := v.(string); ok {
			attrs[name] = &Attribute{Type: typ}
			continue
		}

		fields, err := cast.ToStringMapE(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		attr := &Attribute{}
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           attr,
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(fields); err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		attrs[name] = attr
	}
	return attrs, nil
}

// NewCollection builds a collection from a copy of definition and
// derives its keys.
func NewCollection(identity string, definition map[string]*Attribute) *Collection {
	c := (&Collection{Identity: identity, Definition: definition}).clone()
	c.prepare()
	return c
}

// prepare drops autoIncrement, which RethinkDB has no use for, and works
// out the primary key and the secondary indices.
func (c *Collection) prepare() {
	if c.Definition == nil {
		c.Definition = map[string]*Attribute{}
	}
	c.SecondaryIndices = nil

	for _, name := range c.attributeNames() {
		attr := c.Definition[name]
		if attr == nil {
			attr = &Attribute{}
			c.Definition[name] = attr
		}
		attr.AutoIncrement = false

		if attr.PrimaryKey && c.PrimaryKey == "" {
			c.PrimaryKey = name
		}
		if attr.Unique && !attr.PrimaryKey {
			c.SecondaryIndices = append(c.SecondaryIndices, name)
		}
	}
	if c.PrimaryKey == "" {
		c.PrimaryKey = defaultPrimaryKey
	}
}

func (c *Collection) attributeNames() []string {
	names := make([]string, 0, len(c.Definition))
	for name := range c.Definition {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Collection) clone() *Collection {
	out := &Collection{
		Identity:   c.Identity,
		PrimaryKey: c.PrimaryKey,
		Definition: make(map[string]*Attribute, len(c.Definition)),
	}
	for name, attr := range c.Definition {
		if attr == nil {
			continue
		}
		cp := *attr
		out.Definition[name] = &cp
	}
	out.SecondaryIndices = append(out.SecondaryIndices, c.SecondaryIndices...)
	return out
}

// Package reference provides the HTML element catalog consulted when nodes
// are added: display names, icons, attribute templates and default content.
package reference

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"gopkg.in/yaml.v3"

	"github.com/dannyswat/htmlstage"
)

//go:embed catalog.yaml
var builtin []byte

// entry is one element as written in catalog YAML.
type entry struct {
	Name       string `yaml:"name"`
	Icon       string `yaml:"icon"`
	Attributes string `yaml:"attributes,omitempty"`
	Content    string `yaml:"content,omitempty"`
}

type document struct {
	Elements map[string]entry `yaml:"elements"`
}

// Catalog maps normalised tag names to element reference data. It is
// read-only after construction.
type Catalog struct {
	elements map[string]htmlstage.ElementInfo
}

// Default returns the catalog embedded in the binary.
func Default() *Catalog {
	c, err := Parse(builtin)
	if err != nil {
		panic(fmt.Sprintf("reference: embedded catalog: %v", err))
	}
	return c
}

// Parse builds a catalog from YAML.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	c := &Catalog{elements: make(map[string]htmlstage.ElementInfo, len(doc.Elements))}
	for tag, e := range doc.Elements {
		key := Normalize(tag)
		attrs, err := parseAttributes(e.Attributes)
		if err != nil {
			return nil, fmt.Errorf("element %s: %w", tag, err)
		}
		c.elements[key] = htmlstage.ElementInfo{
			Tag:            key,
			DisplayName:    e.Name,
			Icon:           e.Icon,
			Attrs:          attrs,
			DefaultContent: e.Content,
		}
	}
	return c, nil
}

// ElementInfo looks up tag. The returned Attrs slice is a copy.
func (c *Catalog) ElementInfo(tag string) (htmlstage.ElementInfo, bool) {
	info, ok := c.elements[Normalize(tag)]
	if !ok {
		return htmlstage.ElementInfo{}, false
	}
	info.Attrs = append([]html.Attribute(nil), info.Attrs...)
	return info, true
}

// Tags lists the catalog's tags in sorted order.
func (c *Catalog) Tags() []string {
	tags := make([]string, 0, len(c.elements))
	for tag := range c.elements {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Normalize lowercases tag and maps known element names to their atom
// spelling. "!DOCTYPE" and "#comment" style pseudo tags keep their prefix.
func Normalize(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if a := atom.Lookup([]byte(tag)); a != 0 {
		return a.String()
	}
	return tag
}

// parseAttributes reads an attribute list such as `href="#" controls`
// with the HTML tokenizer.
func parseAttributes(s string) ([]html.Attribute, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	z := html.NewTokenizer(strings.NewReader("<x " + s + ">"))
	if z.Next() != html.StartTagToken {
		return nil, fmt.Errorf("malformed attributes %q", s)
	}
	return z.Token().Attr, nil
}

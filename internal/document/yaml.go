package document

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"gopkg.in/yaml.v3"
)

// attributeKeyPrefix marks a mapping key that should become an attribute on
// the enclosing element rather than a child element.
const attributeKeyPrefix = "@"

// parseYAML converts YAML content into the element-tree model. The top level
// must be a mapping; its entries become children of a synthetic <conftree>
// root.
func parseYAML(data []byte) (*etree.Document, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	root := doc.CreateElement(RootTag)

	if node.Kind == 0 || len(node.Content) == 0 {
		// Empty file: an empty root is still a valid document.
		return doc, nil
	}

	body := resolveAlias(node.Content[0])
	if body.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("top level of a YAML config must be a mapping, got %s", yamlKindName(body.Kind))
	}

	if err := yamlMappingInto(root, body); err != nil {
		return nil, err
	}
	return doc, nil
}

// yamlMappingInto adds one element or attribute per mapping entry.
func yamlMappingInto(parent *etree.Element, mapping *yaml.Node) error {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key := mapping.Content[i]
		value := resolveAlias(mapping.Content[i+1])

		if key.Kind != yaml.ScalarNode {
			return fmt.Errorf("mapping keys must be scalars, got %s", yamlKindName(key.Kind))
		}

		if strings.HasPrefix(key.Value, attributeKeyPrefix) {
			if value.Kind != yaml.ScalarNode {
				return fmt.Errorf("attribute %q must have a scalar value", key.Value)
			}
			parent.CreateAttr(strings.TrimPrefix(key.Value, attributeKeyPrefix), value.Value)
			continue
		}

		if err := yamlValueInto(parent, key.Value, value); err != nil {
			return err
		}
	}
	return nil
}

// yamlValueInto renders one (key, value) pair as child element(s) of parent.
// A sequence value repeats the key element once per item.
func yamlValueInto(parent *etree.Element, key string, value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		child := parent.CreateElement(key)
		if value.Tag != "!!null" {
			child.SetText(value.Value)
		}
	case yaml.MappingNode:
		child := parent.CreateElement(key)
		if err := yamlMappingInto(child, value); err != nil {
			return err
		}
	case yaml.SequenceNode:
		for _, item := range value.Content {
			item = resolveAlias(item)
			if item.Kind == yaml.SequenceNode {
				return fmt.Errorf("nested sequences have no element-tree equivalent (key %q)", key)
			}
			if err := yamlValueInto(parent, key, item); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported YAML node for key %q", key)
	}
	return nil
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	if n.Kind == yaml.AliasNode && n.Alias != nil {
		return n.Alias
	}
	return n
}

func yamlKindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}

package document

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/beevik/etree"
)

// RootTag is the document root element name. YAML files, reparsed include
// content and the embedded defaults all use it; see also merge.LegacyRootTag.
const RootTag = "conftree"

// Format identifies one of the supported configuration file formats.
type Format int

const (
	FormatUnknown Format = iota
	FormatXML
	FormatYAML
)

// DetectFormat maps a file path to its format by extension. The empty
// extension counts as XML; that is only legal for the base configuration
// file, which the processor enforces.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".xml", ".conf", "":
		return FormatXML
	default:
		return FormatUnknown
	}
}

// LoadFile parses the file at path into a document tree.
func LoadFile(path string) (*etree.Document, error) {
	format := DetectFormat(path)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unknown format of config file '%s'", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file '%s': %w", path, err)
	}

	doc, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("parsing config file '%s': %w", path, err)
	}
	return doc, nil
}

// Parse parses in-memory content of the given format into a document tree.
func Parse(data []byte, format Format) (*etree.Document, error) {
	switch format {
	case FormatXML:
		doc := etree.NewDocument()
		if err := doc.ReadFromBytes(data); err != nil {
			return nil, err
		}
		if doc.Root() == nil {
			return nil, fmt.Errorf("no root element in document")
		}
		return doc, nil
	case FormatYAML:
		return parseYAML(data)
	default:
		return nil, fmt.Errorf("unknown document format")
	}
}

// ParseString parses s as XML. Include sources fetched from the coordination
// service or the environment are reparsed through this after being wrapped in
// a synthetic root element.
func ParseString(s string) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(s); err != nil {
		return nil, err
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("no root element in document")
	}
	return doc, nil
}

// Root returns the document's root element.
func Root(doc *etree.Document) (*etree.Element, error) {
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("no root element in document")
	}
	return root, nil
}

// CloneToken deep-copies a tree token of any kind, detached from any parent.
func CloneToken(t etree.Token) etree.Token {
	switch v := t.(type) {
	case *etree.Element:
		return v.Copy()
	case *etree.CharData:
		if v.IsCData() {
			return etree.NewCData(v.Data)
		}
		return etree.NewText(v.Data)
	case *etree.Comment:
		return etree.NewComment(v.Data)
	case *etree.ProcInst:
		return etree.NewProcInst(v.Target, v.Inst)
	case *etree.Directive:
		return etree.NewDirective(v.Data)
	default:
		return nil
	}
}

// DetachToken removes t from its parent, if it has one.
func DetachToken(t etree.Token) {
	parent := t.Parent()
	if parent == nil {
		return
	}
	parent.RemoveChildAt(t.Index())
}

// Package merge implements the recursive tree-merge of a configuration
// overlay into a base document.
//
// Base and overlay elements are matched by structural identity: tag name plus
// the sorted set of attribute name/value pairs, excluding the control and
// directive attributes. A matched overlay element recurses into its
// counterpart; `remove` deletes the counterpart; `replace` substitutes the
// overlay subtree for it wholesale. Unmatched overlay content is appended.
package merge

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"conftree/internal/document"
)

// LegacyRootTag is accepted interchangeably with document.RootTag when
// checking that an overlay targets the same document root, so fragments
// written against the old root name keep merging.
const LegacyRootTag = "config"

// Merge merges the overlay document into base, mutating base in place. The
// overlay is never aliased into the result; everything taken from it is
// deep-copied.
func Merge(base, overlay *etree.Document) error {
	baseRoot, err := document.Root(base)
	if err != nil {
		return fmt.Errorf("base config: %w", err)
	}
	overlayRoot, err := document.Root(overlay)
	if err != nil {
		return fmt.Errorf("overlay config: %w", err)
	}

	if !rootTagsCompatible(baseRoot.Tag, overlayRoot.Tag) {
		return &RootMismatchError{BaseTag: baseRoot.Tag, OverlayTag: overlayRoot.Tag}
	}

	return mergeRecursive(baseRoot, overlayRoot)
}

func rootTagsCompatible(baseTag, overlayTag string) bool {
	if baseTag == overlayTag {
		return true
	}
	isSynonym := func(tag string) bool {
		return tag == document.RootTag || tag == LegacyRootTag
	}
	return isSynonym(baseTag) && isSynonym(overlayTag)
}

// identifier builds the structural identity key of an element: tag name plus
// sorted identity attributes. Fields are length-prefixed so distinct
// identifiers can never collide after concatenation.
func identifier(e *etree.Element) string {
	type kv struct{ k, v string }
	var attrs []kv
	for _, a := range e.Attr {
		if document.IsIdentityAttr(a.FullKey()) {
			attrs = append(attrs, kv{a.FullKey(), a.Value})
		}
	}
	sort.Slice(attrs, func(i, j int) bool {
		if attrs[i].k != attrs[j].k {
			return attrs[i].k < attrs[j].k
		}
		return attrs[i].v < attrs[j].v
	})

	var b strings.Builder
	writeField := func(s string) {
		b.WriteString(strconv.Itoa(len(s)))
		b.WriteByte(':')
		b.WriteString(s)
	}
	writeField(e.Tag)
	for _, a := range attrs {
		writeField(a.k)
		writeField(a.v)
	}
	return b.String()
}

func allWhitespace(s string) bool {
	return strings.TrimLeft(s, " \t\n\r") == ""
}

// snapshot copies the child token slice so callers can iterate while the
// element's children are being inserted or removed.
func snapshot(children []etree.Token) []etree.Token {
	return append([]etree.Token(nil), children...)
}

func mergeRecursive(baseNode, overlayNode *etree.Element) error {
	// Pass 1: clear the base node's previous scalar value and index its
	// element children. Duplicate identifiers keep their sibling order in a
	// FIFO queue so the first unmatched original is matched first.
	pending := make(map[string][]*etree.Element)
	for _, tok := range snapshot(baseNode.Child) {
		switch child := tok.(type) {
		case *etree.CharData:
			if !allWhitespace(child.Data) {
				document.DetachToken(child)
			}
		case *etree.Element:
			id := identifier(child)
			pending[id] = append(pending[id], child)
		}
	}

	// Pass 2: walk the overlay's children in order.
	for _, tok := range snapshot(overlayNode.Child) {
		merged := false
		removeFlag := false

		if overlayChild, ok := tok.(*etree.Element); ok {
			removeFlag = overlayChild.SelectAttr(document.AttrRemove) != nil
			replaceFlag := overlayChild.SelectAttr(document.AttrReplace) != nil

			if removeFlag && replaceFlag {
				return fmt.Errorf("element <%s>: %w", overlayChild.Tag, ErrMergeConflict)
			}

			id := identifier(overlayChild)
			if queue := pending[id]; len(queue) > 0 {
				matched := queue[0]
				pending[id] = queue[1:]

				switch {
				case removeFlag:
					document.DetachToken(matched)
				case replaceFlag:
					replacement := overlayChild.Copy()
					replacement.RemoveAttr(document.AttrReplace)
					parent := matched.Parent()
					index := matched.Index()
					parent.RemoveChildAt(index)
					parent.InsertChildAt(index, replacement)
				default:
					if err := mergeRecursive(matched, overlayChild); err != nil {
						return err
					}
				}
				merged = true
			}
		}

		if !merged && !removeFlag {
			// No counterpart in the base: paste the overlay content as is.
			// Nested replace/remove markers are useless in the merged tree,
			// so the copy is scrubbed of them before attachment.
			clone := document.CloneToken(tok)
			if el, ok := clone.(*etree.Element); ok {
				scrubControlAttrs(el)
			}
			baseNode.AddChild(clone)
		}
	}
	return nil
}

// scrubControlAttrs strips `replace` markers from root's descendants and
// drops descendants flagged with `remove`. The root element's own attributes
// are left alone.
func scrubControlAttrs(root *etree.Element) {
	for _, tok := range snapshot(root.Child) {
		child, ok := tok.(*etree.Element)
		if !ok {
			continue
		}
		child.RemoveAttr(document.AttrReplace)
		if child.SelectAttr(document.AttrRemove) != nil {
			document.DetachToken(child)
		} else {
			scrubControlAttrs(child)
		}
	}
}

// Package include resolves include directives and literal text substitutions
// over a merged configuration tree.
//
// Three directive attributes name a content source for an element: `incl`
// (a path inside a separate include-source document), `from_zk` (a
// coordination-service key) and `from_env` (an environment variable). An
// element carries at most one of them. Content fetched from the coordination
// service or the environment is reparsed inside a synthetic root element so
// that a value holding plain text still yields resolvable tree content.
//
// Resolution is re-entrant: content imported into an element may itself carry
// a directive, which is resolved on the spot before the walk moves on.
package include

import (
	"fmt"
	"os"
	"strings"

	"github.com/beevik/etree"

	"conftree/internal/coordination"
	"conftree/internal/document"
	"conftree/pkg/logging"
)

const logSubsystem = "IncludeResolver"

// includeTag is the element name whose whole node is spliced away and
// replaced by the resolved content, rather than filled in place.
const includeTag = "include"

// Substitution is one literal find/replace pair applied to text nodes.
//
// The replacement loop restarts the scan from the beginning of the string
// after every hit. A Replacement that contains its own Pattern therefore
// never terminates; this mirrors the historical behavior and is deliberately
// not guarded against.
type Substitution struct {
	Pattern     string
	Replacement string
}

// directiveKind enumerates the three directive attributes.
type directiveKind int

const (
	directiveIncl directiveKind = iota
	directiveFromZK
	directiveFromEnv
)

func (k directiveKind) attrName() string {
	switch k {
	case directiveIncl:
		return document.AttrIncl
	case directiveFromZK:
		return document.AttrFromZK
	case directiveFromEnv:
		return document.AttrFromEnv
	default:
		return ""
	}
}

var directiveKinds = []directiveKind{directiveIncl, directiveFromZK, directiveFromEnv}

// Resolver holds the per-pipeline resolution settings.
type Resolver struct {
	// Strict makes an unresolvable non-optional directive an error instead
	// of a logged diagnostic.
	Strict bool
	// Substitutions are applied, in order, to every text node encountered.
	Substitutions []Substitution
}

// Resolve resolves substitutions and include directives over the subtree
// rooted at node, mutating it in place.
//
// includeFrom is the root of the include-source document, or nil if none was
// supplied. cache is the coordination-service cache; when nil, from_zk
// directives are left in place untouched (dynamic resolution deferred, not an
// error), though their keys are still recorded. watch is the opaque change
// signal handed to every cache lookup. Every from_zk key seen is added to
// contributingKeys.
func (r *Resolver) Resolve(
	node etree.Token,
	includeFrom *etree.Element,
	cache coordination.Cache,
	watch chan<- struct{},
	contributingKeys map[string]struct{},
) error {
	run := &resolveRun{
		resolver:         r,
		includeFrom:      includeFrom,
		cache:            cache,
		watch:            watch,
		contributingKeys: contributingKeys,
	}
	return run.resolve(node)
}

type resolveRun struct {
	resolver         *Resolver
	includeFrom      *etree.Element
	cache            coordination.Cache
	watch            chan<- struct{}
	contributingKeys map[string]struct{}
}

func (run *resolveRun) resolve(node etree.Token) error {
	if text, ok := node.(*etree.CharData); ok {
		run.substitute(text)
		return nil
	}

	el, ok := node.(*etree.Element)
	if !ok {
		return nil
	}

	var present []directiveKind
	for _, kind := range directiveKinds {
		if el.SelectAttr(kind.attrName()) != nil {
			present = append(present, kind)
		}
	}
	if len(present) > 1 {
		return &AmbiguousDirectiveError{Tag: el.Tag}
	}

	if el.Tag == includeTag {
		if len(el.Child) > 0 {
			return &MalformedIncludeError{Reason: "element must have no children"}
		}
		if len(present) == 0 {
			return &MalformedIncludeError{Reason: "element must have exactly one directive attribute"}
		}
	}

	includedSomething := false
	if len(present) == 1 {
		var err error
		includedSomething, err = run.resolveDirective(el, present[0])
		if err != nil {
			return err
		}
	}

	if includedSomething {
		// Freshly imported content may itself carry a directive; resolve
		// this same element to a fixed point before walking on.
		return run.resolve(el)
	}

	for _, child := range snapshot(el.Child) {
		// Skip children that an earlier sibling's resolution detached.
		if child.Parent() != el {
			continue
		}
		if err := run.resolve(child); err != nil {
			return err
		}
	}
	return nil
}

// substitute applies every substitution pair to a text node. Each occurrence
// found restarts the scan from the start of the value.
func (run *resolveRun) substitute(text *etree.CharData) {
	for _, sub := range run.resolver.Substitutions {
		if sub.Pattern == "" {
			continue
		}
		value := text.Data
		replaced := false
		for {
			pos := strings.Index(value, sub.Pattern)
			if pos < 0 {
				break
			}
			value = value[:pos] + sub.Replacement + value[pos+len(sub.Pattern):]
			replaced = true
		}
		if replaced {
			text.Data = value
		}
	}
}

// resolveDirective resolves one directive on el. It returns true when content
// was imported into el itself (as opposed to spliced in place of an
// <include> element or not found at all), which is the trigger for
// re-resolution.
func (run *resolveRun) resolveDirective(el *etree.Element, kind directiveKind) (bool, error) {
	name := el.SelectAttrValue(kind.attrName(), "")

	var source *etree.Element
	switch kind {
	case directiveIncl:
		if run.includeFrom != nil {
			source = run.includeFrom.FindElement(name)
		}
	case directiveFromZK:
		run.contributingKeys[name] = struct{}{}
		if run.cache == nil {
			// Dynamic resolution deferred to a later run that has a cache.
			return false, nil
		}
		value, err := run.cache.Get(name, run.watch)
		if err != nil {
			return false, err
		}
		if value.Exists {
			source, err = reparse(document.AttrFromZK, value.Data)
			if err != nil {
				return false, fmt.Errorf("reparsing coordination key %q: %w", name, err)
			}
		}
	case directiveFromEnv:
		if value, ok := os.LookupEnv(name); ok {
			var err error
			source, err = reparse(document.AttrFromEnv, value)
			if err != nil {
				return false, fmt.Errorf("reparsing env variable %q: %w", name, err)
			}
		}
	}

	if source == nil {
		return false, run.handleNotFound(el, kind, name)
	}
	return run.importSource(el, source), nil
}

// reparse wraps raw text in a synthetic root element and parses it, so a
// value holding pure text becomes a resolvable element.
func reparse(wrapperTag, content string) (*etree.Element, error) {
	doc, err := document.ParseString("<" + wrapperTag + ">" + content + "</" + wrapperTag + ">")
	if err != nil {
		return nil, err
	}
	return doc.Root(), nil
}

// handleNotFound applies the not-found policy: `optional` detaches the
// element silently; strict mode fails; lenient mode detaches <include>
// elements, leaves everything else untouched, and logs a diagnostic.
func (run *resolveRun) handleNotFound(el *etree.Element, kind directiveKind, name string) error {
	if el.SelectAttr(document.AttrOptional) != nil {
		document.DetachToken(el)
		return nil
	}
	if run.resolver.Strict {
		return &UnresolvedReferenceError{Directive: kind.attrName(), Target: name}
	}
	if el.Tag == includeTag {
		document.DetachToken(el)
	}
	logging.Warn(logSubsystem, "%s", (&UnresolvedReferenceError{Directive: kind.attrName(), Target: name}).Error())
	return nil
}

// importSource attaches the resolved source's content. For an <include>
// element the source's children are spliced in before it and the element
// itself is removed. For any other element the content is imported into the
// element: directive attributes are stripped, `replace` empties it first, the
// source's children are appended and its attributes copied over.
func (run *resolveRun) importSource(el *etree.Element, source *etree.Element) bool {
	if el.Tag == includeTag {
		parent := el.Parent()
		index := el.Index()
		for _, child := range snapshot(source.Child) {
			parent.InsertChildAt(index, document.CloneToken(child))
			index++
		}
		document.DetachToken(el)
		return false
	}

	for _, attrName := range document.DirectiveAttrs {
		el.RemoveAttr(attrName)
	}

	if el.SelectAttr(document.AttrReplace) != nil {
		for len(el.Child) > 0 {
			el.RemoveChildAt(0)
		}
		el.RemoveAttr(document.AttrReplace)
	}

	for _, child := range snapshot(source.Child) {
		el.AddChild(document.CloneToken(child))
	}
	for _, attr := range source.Attr {
		el.CreateAttr(attr.FullKey(), attr.Value)
	}
	return true
}

func snapshot(children []etree.Token) []etree.Token {
	return append([]etree.Token(nil), children...)
}

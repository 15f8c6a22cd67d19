package document

// Control attributes alter merge and inclusion behavior without naming a
// content source.
const (
	AttrReplace  = "replace"
	AttrRemove   = "remove"
	AttrOptional = "optional"
)

// Directive attributes name an external source of content for an element.
const (
	AttrIncl    = "incl"
	AttrFromZK  = "from_zk"
	AttrFromEnv = "from_env"
)

// DirectiveAttrs lists the directive attribute names in resolution order.
var DirectiveAttrs = []string{AttrIncl, AttrFromZK, AttrFromEnv}

// IsIdentityAttr reports whether an attribute participates in structural
// element identity during merging. Control attributes that steer the merge
// itself and the directive attributes are excluded; everything else,
// including "optional", identifies the element.
func IsIdentityAttr(name string) bool {
	switch name {
	case AttrReplace, AttrRemove, AttrIncl, AttrFromZK, AttrFromEnv:
		return false
	}
	return true
}

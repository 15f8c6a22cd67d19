package merge

import (
	"errors"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conftree/internal/document"
)

func parse(t *testing.T, s string) *etree.Document {
	t.Helper()
	doc, err := document.ParseString(s)
	require.NoError(t, err)
	return doc
}

// canonical renders a document with whitespace-only text removed, for
// structural comparison.
func canonical(t *testing.T, doc *etree.Document) string {
	t.Helper()
	clone := doc.Copy()
	stripWhitespace(&clone.Element)
	s, err := clone.WriteToString()
	require.NoError(t, err)
	return strings.TrimSpace(s)
}

func stripWhitespace(e *etree.Element) {
	for _, tok := range snapshot(e.Child) {
		switch child := tok.(type) {
		case *etree.CharData:
			if allWhitespace(child.Data) {
				document.DetachToken(child)
			}
		case *etree.Element:
			stripWhitespace(child)
		}
	}
}

func TestMergeEmptyOverlayIsIdentity(t *testing.T) {
	base := parse(t, `<conftree><a x="1">v</a><b><c/></b></conftree>`)
	want := canonical(t, base)

	require.NoError(t, Merge(base, parse(t, `<conftree/>`)))
	assert.Equal(t, want, canonical(t, base))
}

func TestMergeScalarValueReplacedNotConcatenated(t *testing.T) {
	base := parse(t, `<conftree><a x="1">old</a></conftree>`)
	require.NoError(t, Merge(base, parse(t, `<conftree><a x="1">new</a></conftree>`)))

	a := base.Root().SelectElement("a")
	require.NotNil(t, a)
	assert.Equal(t, "new", a.Text())
	assert.NotContains(t, canonical(t, base), "old")
}

func TestMergeRemoveDeletesMatchedSubtree(t *testing.T) {
	base := parse(t, `<conftree><a><c/></a><keep/></conftree>`)
	require.NoError(t, Merge(base, parse(t, `<conftree><a remove="1"/></conftree>`)))

	assert.Nil(t, base.Root().SelectElement("a"))
	assert.NotNil(t, base.Root().SelectElement("keep"))
}

func TestMergeReplaceSubstitutesSubtree(t *testing.T) {
	base := parse(t, `<conftree><a><c/></a></conftree>`)
	require.NoError(t, Merge(base, parse(t, `<conftree><a replace="1"><b/></a></conftree>`)))

	a := base.Root().SelectElement("a")
	require.NotNil(t, a)
	assert.Nil(t, a.SelectAttr("replace"))
	assert.NotNil(t, a.SelectElement("b"))
	assert.Nil(t, a.SelectElement("c"))
}

func TestMergeReplaceKeepsSiblingPosition(t *testing.T) {
	base := parse(t, `<conftree><first/><a><c/></a><last/></conftree>`)
	require.NoError(t, Merge(base, parse(t, `<conftree><a replace="1"><b/></a></conftree>`)))

	children := base.Root().ChildElements()
	require.Len(t, children, 3)
	assert.Equal(t, "first", children[0].Tag)
	assert.Equal(t, "a", children[1].Tag)
	assert.Equal(t, "last", children[2].Tag)
}

func TestMergeUnmatchedAppendedVerbatim(t *testing.T) {
	base := parse(t, `<conftree><a/></conftree>`)
	require.NoError(t, Merge(base, parse(t, `<conftree><fresh p="q">text</fresh></conftree>`)))

	fresh := base.Root().SelectElement("fresh")
	require.NotNil(t, fresh)
	assert.Equal(t, "q", fresh.SelectAttrValue("p", ""))
	assert.Equal(t, "text", fresh.Text())
}

func TestMergeUnmatchedRemoveIsNoOp(t *testing.T) {
	base := parse(t, `<conftree><a/></conftree>`)
	require.NoError(t, Merge(base, parse(t, `<conftree><ghost remove="1"/></conftree>`)))

	assert.Nil(t, base.Root().SelectElement("ghost"))
	assert.NotNil(t, base.Root().SelectElement("a"))
}

func TestMergeAppendedSubtreeScrubbed(t *testing.T) {
	base := parse(t, `<conftree/>`)
	overlay := parse(t, `<conftree><new><gone remove="1"/><kept replace="1"><x/></kept></new></conftree>`)
	require.NoError(t, Merge(base, overlay))

	newEl := base.Root().SelectElement("new")
	require.NotNil(t, newEl)
	assert.Nil(t, newEl.SelectElement("gone"), "nested remove-flagged descendants are dropped, not appended")
	kept := newEl.SelectElement("kept")
	require.NotNil(t, kept)
	assert.Nil(t, kept.SelectAttr("replace"))
	assert.NotNil(t, kept.SelectElement("x"))

	// The overlay document itself is untouched.
	assert.NotNil(t, overlay.Root().FindElement("new/gone"))
}

func TestMergeRemoveAndReplaceConflict(t *testing.T) {
	base := parse(t, `<conftree><a/></conftree>`)
	err := Merge(base, parse(t, `<conftree><a remove="1" replace="1"/></conftree>`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMergeConflict))
	assert.Contains(t, err.Error(), "<a>")
}

func TestMergeRootMismatch(t *testing.T) {
	base := parse(t, `<conftree/>`)
	err := Merge(base, parse(t, `<something_else/>`))
	require.Error(t, err)

	var mismatch *RootMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "conftree", mismatch.BaseTag)
	assert.Equal(t, "something_else", mismatch.OverlayTag)
}

func TestMergeRootSynonyms(t *testing.T) {
	base := parse(t, `<config><a>1</a></config>`)
	require.NoError(t, Merge(base, parse(t, `<conftree><a>2</a></conftree>`)))
	assert.Equal(t, "2", base.Root().SelectElement("a").Text())

	base = parse(t, `<conftree><a>1</a></conftree>`)
	require.NoError(t, Merge(base, parse(t, `<config><a>2</a></config>`)))
	assert.Equal(t, "2", base.Root().SelectElement("a").Text())
}

func TestMergeIdentityIsAttributeOrderIndependent(t *testing.T) {
	base := parse(t, `<conftree><node a="1" b="2">old</node></conftree>`)
	require.NoError(t, Merge(base, parse(t, `<conftree><node b="2" a="1">new</node></conftree>`)))

	nodes := base.Root().SelectElements("node")
	require.Len(t, nodes, 1, "attribute order must not defeat identity matching")
	assert.Equal(t, "new", nodes[0].Text())
}

func TestMergeDifferentAttrValuesAreDifferentElements(t *testing.T) {
	base := parse(t, `<conftree><shard n="1"><w>a</w></shard></conftree>`)
	require.NoError(t, Merge(base, parse(t, `<conftree><shard n="2"><w>b</w></shard></conftree>`)))

	shards := base.Root().SelectElements("shard")
	require.Len(t, shards, 2)
}

func TestMergeDuplicateSiblingsFirstMatchWins(t *testing.T) {
	base := parse(t, `<conftree><item>one</item><item>two</item></conftree>`)
	require.NoError(t, Merge(base, parse(t, `<conftree><item>ONE</item></conftree>`)))

	items := base.Root().SelectElements("item")
	require.Len(t, items, 2)
	assert.Equal(t, "ONE", items[0].Text())
	assert.Equal(t, "two", items[1].Text())
}

func TestMergeEachBaseChildConsumedOnce(t *testing.T) {
	base := parse(t, `<conftree><item>one</item></conftree>`)
	require.NoError(t, Merge(base, parse(t, `<conftree><item>A</item><item>B</item></conftree>`)))

	items := base.Root().SelectElements("item")
	require.Len(t, items, 2, "second overlay duplicate must append, not re-match")
	assert.Equal(t, "A", items[0].Text())
	assert.Equal(t, "B", items[1].Text())
}

func TestMergeRecursesIntoMatchedChildren(t *testing.T) {
	base := parse(t, `<conftree><outer><inner>old</inner><stay/></outer></conftree>`)
	require.NoError(t, Merge(base, parse(t, `<conftree><outer><inner>new</inner></outer></conftree>`)))

	outer := base.Root().SelectElement("outer")
	assert.Equal(t, "new", outer.SelectElement("inner").Text())
	assert.NotNil(t, outer.SelectElement("stay"))
}

func TestMergeDeepConflictReported(t *testing.T) {
	base := parse(t, `<conftree><outer><inner/></outer></conftree>`)
	err := Merge(base, parse(t, `<conftree><outer><inner remove="1" replace="1"/></outer></conftree>`))
	assert.True(t, errors.Is(err, ErrMergeConflict))
}

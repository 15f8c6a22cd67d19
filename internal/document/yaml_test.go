package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseYAMLScalarsAndMappings(t *testing.T) {
	doc, err := Parse([]byte(`
logger:
  level: information
  console: 1
tcp_port: 9000
`), FormatYAML)
	require.NoError(t, err)

	root := doc.Root()
	require.NotNil(t, root)
	assert.Equal(t, RootTag, root.Tag)

	logger := root.SelectElement("logger")
	require.NotNil(t, logger)
	assert.Equal(t, "information", logger.SelectElement("level").Text())
	assert.Equal(t, "1", logger.SelectElement("console").Text())
	assert.Equal(t, "9000", root.SelectElement("tcp_port").Text())
}

func TestParseYAMLSequenceRepeatsKey(t *testing.T) {
	doc, err := Parse([]byte(`
networks:
  ip:
    - "::1"
    - 127.0.0.1
`), FormatYAML)
	require.NoError(t, err)

	ips := doc.Root().SelectElement("networks").SelectElements("ip")
	require.Len(t, ips, 2)
	assert.Equal(t, "::1", ips[0].Text())
	assert.Equal(t, "127.0.0.1", ips[1].Text())
}

func TestParseYAMLAttributeKeys(t *testing.T) {
	doc, err := Parse([]byte(`
disk:
  "@replace": "1"
  type: cache
`), FormatYAML)
	require.NoError(t, err)

	disk := doc.Root().SelectElement("disk")
	require.NotNil(t, disk)
	assert.Equal(t, "1", disk.SelectAttrValue("replace", ""))
	assert.Equal(t, "cache", disk.SelectElement("type").Text())
}

func TestParseYAMLMatchesEquivalentXML(t *testing.T) {
	yamlDoc, err := Parse([]byte(`
users:
  default:
    profile: default
    quota: default
`), FormatYAML)
	require.NoError(t, err)

	xmlDoc, err := Parse([]byte(
		"<conftree><users><default><profile>default</profile><quota>default</quota></default></users></conftree>"),
		FormatXML)
	require.NoError(t, err)

	yamlProfile := yamlDoc.Root().FindElement("users/default/profile")
	xmlProfile := xmlDoc.Root().FindElement("users/default/profile")
	require.NotNil(t, yamlProfile)
	require.NotNil(t, xmlProfile)
	assert.Equal(t, xmlProfile.Text(), yamlProfile.Text())
}

func TestParseYAMLNullValueGivesEmptyElement(t *testing.T) {
	doc, err := Parse([]byte("password:\n"), FormatYAML)
	require.NoError(t, err)

	pw := doc.Root().SelectElement("password")
	require.NotNil(t, pw)
	assert.Equal(t, "", pw.Text())
}

func TestParseYAMLTopLevelMustBeMapping(t *testing.T) {
	_, err := Parse([]byte("- a\n- b\n"), FormatYAML)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapping")
}

func TestParseYAMLEmptyFile(t *testing.T) {
	doc, err := Parse([]byte(""), FormatYAML)
	require.NoError(t, err)
	require.NotNil(t, doc.Root())
	assert.Empty(t, doc.Root().ChildElements())
}

func TestParseYAMLNestedSequenceRejected(t *testing.T) {
	_, err := Parse([]byte("matrix:\n  - - 1\n    - 2\n"), FormatYAML)
	require.Error(t, err)
}

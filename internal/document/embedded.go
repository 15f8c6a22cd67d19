package document

import "embed"

//go:embed embedded/embedded.xml embedded/keeper_embedded.xml
var embeddedFS embed.FS

// embeddedNames maps a requested configuration path to the compiled-in
// resource used when no such file exists on disk. Only these exact paths
// have an embedded fallback.
var embeddedNames = map[string]string{
	"config.xml":        "embedded.xml",
	"keeper_config.xml": "keeper_embedded.xml",
}

// EmbeddedResource returns the compiled-in default configuration for the
// given base path, if one exists.
func EmbeddedResource(path string) ([]byte, bool) {
	name, ok := embeddedNames[path]
	if !ok {
		return nil, false
	}
	data, err := embeddedFS.ReadFile("embedded/" + name)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Package document loads configuration files into the common element-tree
// model shared by the merge engine and the include resolver.
//
// Two textual formats are accepted. XML (and the .conf alias) is parsed
// directly with etree. YAML is converted node by node into the same tree:
// mapping keys become child elements, scalars become element text, sequences
// repeat the key element once per item, and keys prefixed with '@' become
// attributes on the enclosing element. A YAML file therefore never names the
// document root; the loader wraps its content in <conftree>.
//
// When the base configuration file is missing on disk the loader can fall
// back to a compiled-in default, keyed by the exact path the caller asked
// for (see EmbeddedResource).
package document

// Package dsl owns the ChoomLang line format.
//
// Ownership boundary:
// - tokenizer (quoted segments, escapes)
// - parse / serialize / canonicalize of a single command line
// - script helpers for multi-line files
package dsl

package graph

import "regexp"

// importPatterns extracts the imported module/package path as capture
// group 1. They run against whole-file content, not individual spans,
// since imports live outside any function/class span.
var importPatterns = map[string]*regexp.Regexp{
	"go":         regexp.MustCompile(`(?m)^\s*"([^"]+)"\s*$`),
	"python":     regexp.MustCompile(`(?m)^\s*(?:from\s+(\S+)\s+import|import\s+(\S+))`),
	"javascript": regexp.MustCompile(`(?m)(?:import\s+.*?from\s+|require\()\s*['"]([^'"]+)['"]`),
	"typescript": regexp.MustCompile(`(?m)(?:import\s+.*?from\s+|require\()\s*['"]([^'"]+)['"]`),
}

// extendsPatterns capture the parent class/interface name a span's
// declaration line extends, inherits from, or implements.
var extendsPatterns = map[string]*regexp.Regexp{
	"go":         regexp.MustCompile(`^type\s+\w+\s+struct\s*{?\s*$`), // Go has no extends keyword and struct embedding is not detected: no capture group, so no Go extends edges.
	"python":     regexp.MustCompile(`^class\s+\w+\s*\(([^)]+)\)`),
	"javascript": regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?class\s+\w+\s+extends\s+(\w+)`),
	"typescript": regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?class\s+\w+\s+(?:extends\s+(\w+)\s*)?(?:implements\s+(\w+))?`),
}

// instantiatePattern matches a `new Identifier(` construction call,
// used to find "instantiates" edges from a span's body to other known
// entities in the same file.
var instantiatePattern = regexp.MustCompile(`\bnew\s+(\w+)\s*\(`)

// callPattern matches a bare identifier call `identifier(`, used to
// find "calls" edges. It is intentionally permissive: false positives
// (e.g. a type conversion call in Go) are filtered later by only
// keeping matches against names already known to be entities in the
// same file.
var callPattern = regexp.MustCompile(`\b([A-Za-z_]\w*)\s*\(`)

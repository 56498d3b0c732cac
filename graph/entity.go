package graph

// Entity type constants for code graph nodes.
const (
	EntityFunction  = "function"
	EntityClass     = "class"
	EntityInterface = "interface"
	EntityTypeAlias = "type_alias"
	EntityModule    = "module" // a package/module referenced by an import
)

// Relation type constants for code graph edges.
const (
	RelImports     = "imports"
	RelCalls       = "calls"
	RelExtends     = "extends"
	RelInstantiates = "instantiates"
)

// entityTypeForDeclaration maps a parser span symbol's declaration form to
// a graph entity type. Go and the other supported languages only ever
// produce function/class/interface/type_alias declarations at the
// top level, so the mapping is driven by a simple keyword sniff on the
// declaration line rather than a second parse pass.
func entityTypeForDeclaration(declLine string) string {
	switch {
	case containsWord(declLine, "interface"):
		return EntityInterface
	case containsWord(declLine, "class"):
		return EntityClass
	case containsWord(declLine, "type"):
		return EntityTypeAlias
	default:
		return EntityFunction
	}
}

func containsWord(s, word string) bool {
	for i := 0; i+len(word) <= len(s); i++ {
		if s[i:i+len(word)] == word {
			before := i == 0 || !isIdentChar(s[i-1])
			after := i+len(word) == len(s) || !isIdentChar(s[i+len(word)])
			if before && after {
				return true
			}
		}
	}
	return false
}

func isIdentChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// ExtractedRelation is the JSON shape an LLM relation-refinement call
// returns: a single edge between two already-known entity names.
type ExtractedRelation struct {
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	RelationType string  `json:"relation_type"`
	Weight       float64 `json:"weight"`
}

// relationResult is the envelope the refinement prompt asks the LLM
// to return.
type relationResult struct {
	Relations []ExtractedRelation `json:"relations"`
}

package plan

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// PlanLexer tokenizes plan files. Keywords are plain identifiers matched
// by the grammar.
var PlanLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `#[^\n]*`},
	{Name: "Whitespace", Pattern: `[\s]+`},
	{Name: "String", Pattern: `"(?:[^"\\]|\\.)*"`},
	{Name: "Arrow", Pattern: `->`},
	{Name: "Int", Pattern: `\d+`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_./]*`},
	{Name: "Punct", Pattern: `[{}=:,\[\]*]`},
})

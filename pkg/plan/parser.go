package plan

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/participle/v2"
)

// Parser reads plan files.
type Parser struct {
	parser *participle.Parser[File]
}

// NewParser creates a plan parser.
func NewParser() (*Parser, error) {
	parser, err := participle.Build[File](
		participle.Lexer(PlanLexer),
		participle.Elide("Comment", "Whitespace"),
		participle.Unquote("String"),
		participle.UseLookahead(2),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build parser: %w", err)
	}
	return &Parser{parser: parser}, nil
}

// Parse parses a plan from a reader.
func (p *Parser) Parse(r io.Reader) (*File, error) {
	f, err := p.parser.Parse("", r)
	if err != nil {
		return nil, fmt.Errorf("plan: parse error: %w", err)
	}
	return f, nil
}

// ParseString parses a plan from a string.
func (p *Parser) ParseString(input string) (*File, error) {
	f, err := p.parser.ParseString("", input)
	if err != nil {
		return nil, fmt.Errorf("plan: parse error: %w", err)
	}
	return f, nil
}

// ParseFile parses a plan file.
func (p *Parser) ParseFile(filename string) (*File, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("plan: failed to open file: %w", err)
	}
	defer file.Close()

	f, err := p.parser.Parse(filename, file)
	if err != nil {
		return nil, fmt.Errorf("plan: parse error: %w", err)
	}
	return f, nil
}

package condition

import (
	"fmt"

	flowerrors "github.com/meow-stack/storyflow/internal/errors"
)

// Node is an expression AST node.
type Node interface {
	Pos() int
	String() string
}

// Lit is a literal value.
type Lit struct {
	Value  Value
	Offset int
}

// Unary is ! or unary minus.
type Unary struct {
	Op     string
	X      Node
	Offset int
}

// Binary is any two-operand operator.
type Binary struct {
	Op     string
	L, R   Node
	Offset int
}

func (n *Lit) Pos() int    { return n.Offset }
func (n *Unary) Pos() int  { return n.Offset }
func (n *Binary) Pos() int { return n.Offset }

func (n *Lit) String() string   { return n.Value.Literal() }
func (n *Unary) String() string { return fmt.Sprintf("(%s%s)", n.Op, n.X) }
func (n *Binary) String() string {
	return fmt.Sprintf("(%s %s %s)", n.L, n.Op, n.R)
}

// maxNesting bounds recursion on inputs like "((((...".
const maxNesting = 64

// precedence levels, loosest first.
var binaryLevels = [][]string{
	{"||"},
	{"&&"},
	{"===", "!=="},
	{">", "<", ">=", "<="},
	{"+", "-"},
	{"*", "/", "%"},
}

type parser struct {
	src   string
	toks  []token
	pos   int
	depth int
}

// Parse parses an already-substituted expression into an AST.
func Parse(src string) (Node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks}
	if p.peek().kind == tokEOF {
		return nil, flowerrors.ConditionSyntax(src, 0, "empty expression")
	}
	n, err := p.binary(0)
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, flowerrors.ConditionSyntax(src, t.pos, fmt.Sprintf("unexpected %q", t.text))
	}
	return n, nil
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) matchOp(ops []string) (token, bool) {
	t := p.peek()
	if t.kind != tokOp {
		return t, false
	}
	for _, op := range ops {
		if t.text == op {
			p.advance()
			return t, true
		}
	}
	return t, false
}

// binary parses a left-associative chain at the given precedence level.
func (p *parser) binary(level int) (Node, error) {
	if level == len(binaryLevels) {
		return p.unary()
	}
	left, err := p.binary(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.matchOp(binaryLevels[level])
		if !ok {
			return left, nil
		}
		right, err := p.binary(level + 1)
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op.text, L: left, R: right, Offset: op.pos}
	}
}

func (p *parser) unary() (Node, error) {
	if op, ok := p.matchOp([]string{"!", "-", "+"}); ok {
		if err := p.enter(op.pos); err != nil {
			return nil, err
		}
		defer p.leave()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: op.text, X: x, Offset: op.pos}, nil
	}
	return p.primary()
}

func (p *parser) primary() (Node, error) {
	t := p.advance()
	switch t.kind {
	case tokNumber:
		return &Lit{Value: Number(t.num), Offset: t.pos}, nil
	case tokString:
		return &Lit{Value: String(t.str), Offset: t.pos}, nil
	case tokTrue:
		return &Lit{Value: Bool(true), Offset: t.pos}, nil
	case tokFalse:
		return &Lit{Value: Bool(false), Offset: t.pos}, nil
	case tokNull:
		return &Lit{Value: Null(), Offset: t.pos}, nil
	case tokUndefined:
		return &Lit{Value: Undefined(), Offset: t.pos}, nil
	case tokLParen:
		if err := p.enter(t.pos); err != nil {
			return nil, err
		}
		defer p.leave()
		n, err := p.binary(0)
		if err != nil {
			return nil, err
		}
		if closing := p.advance(); closing.kind != tokRParen {
			return nil, flowerrors.ConditionSyntax(p.src, closing.pos, "expected )")
		}
		return n, nil
	case tokEOF:
		return nil, flowerrors.ConditionSyntax(p.src, t.pos, "unexpected end of expression")
	}
	return nil, flowerrors.ConditionSyntax(p.src, t.pos, fmt.Sprintf("unexpected %q", t.text))
}

func (p *parser) enter(pos int) error {
	p.depth++
	if p.depth > maxNesting {
		return flowerrors.ConditionSyntax(p.src, pos, "expression nested too deeply")
	}
	return nil
}

func (p *parser) leave() {
	p.depth--
}

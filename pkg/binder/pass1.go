package binder

import (
	"lambdac/internal/compileerr"
	"lambdac/internal/envconfig"
	"lambdac/pkg/scanner"
	"lambdac/pkg/tree"
)

const stage = "binder"

// pass1 is the reference-collection pass: for every variable it records
// which lambda declares it, the set of lambdas from which it is read or
// written, whether a quote captures it, and whether it is named in a
// RuntimeVariables node. Pass 2 turns this into a StorageKind.
type pass1 struct {
	declLam      map[*tree.Variable]*tree.Node
	declOrder    map[*tree.Node][]*tree.Variable
	usedIn       map[*tree.Variable]map[*tree.Node]bool
	quoteRef     map[*tree.Variable]bool
	runtimeRef   map[*tree.Variable]bool
	parentLambda map[*tree.Node]*tree.Node
	allLambdas   []*tree.Node
}

func runPass1(root *tree.Node) (*pass1, error) {
	if root == nil || root.Kind != tree.KindLambda {
		return nil, compileerr.MalformedTree(stage, "binder requires a Lambda root, got %v", kindOf(root))
	}
	p := &pass1{
		declLam:      make(map[*tree.Variable]*tree.Node),
		declOrder:    make(map[*tree.Node][]*tree.Variable),
		usedIn:       make(map[*tree.Variable]map[*tree.Node]bool),
		quoteRef:     make(map[*tree.Variable]bool),
		runtimeRef:   make(map[*tree.Variable]bool),
		parentLambda: make(map[*tree.Node]*tree.Node),
	}
	p.walkLambda(root, nil, 0)
	return p, nil
}

func (p *pass1) declare(lambda *tree.Node, v *tree.Variable) {
	if _, ok := p.declLam[v]; ok {
		return
	}
	p.declLam[v] = lambda
	p.declOrder[lambda] = append(p.declOrder[lambda], v)
}

func (p *pass1) use(v *tree.Variable, current *tree.Node) {
	if p.usedIn[v] == nil {
		p.usedIn[v] = make(map[*tree.Node]bool)
	}
	p.usedIn[v][current] = true
}

func (p *pass1) walkLambda(lambda, enclosing *tree.Node, depth int) {
	p.allLambdas = append(p.allLambdas, lambda)
	p.parentLambda[lambda] = enclosing
	for _, param := range lambda.Params {
		p.declare(lambda, param)
	}
	p.walk(lambda.Body, lambda, depth+1)
}

// walk dispatches to walkNode, rebounding the traversal onto a fresh
// goroutine stack once depth crosses the stack-growth-guard threshold, the
// same guard the constant allocator's walk uses.
func (p *pass1) walk(n, current *tree.Node, depth int) {
	if int64(depth) < envconfig.StackGuardDepth() {
		p.walkNode(n, current, depth)
		return
	}
	done := make(chan struct{})
	go func() {
		p.walkNode(n, current, 0)
		close(done)
	}()
	<-done
}

// walkNode descends n, attributing every Parameter reference and declaration
// to current, the innermost enclosing Lambda. It treats Quote as opaque: a
// quoted sub-tree is compiled independently, so the only thing this
// pass needs from it is which outer variables it captures.
func (p *pass1) walkNode(n, current *tree.Node, depth int) {
	if n == nil {
		return
	}
	switch n.Kind {
	case tree.KindParameter:
		p.use(n.Var, current)
		return
	case tree.KindBlock:
		for _, loc := range n.Locals {
			p.declare(current, loc)
		}
		for _, s := range n.Stmts {
			p.walk(s, current, depth+1)
		}
		return
	case tree.KindLambda:
		p.walkLambda(n, current, depth)
		return
	case tree.KindTry:
		p.walk(n.Body, current, depth+1)
		for _, c := range n.Catches {
			if c.Variable != nil {
				p.declare(current, c.Variable)
			}
			p.walk(c.Filter, current, depth+1)
			p.walk(c.Body, current, depth+1)
		}
		p.walk(n.Finally, current, depth+1)
		p.walk(n.Fault, current, depth+1)
		return
	case tree.KindRuntimeVariables:
		for _, v := range n.Vars {
			p.runtimeRef[v] = true
			p.use(v, current)
		}
		return
	case tree.KindQuote:
		for _, v := range scanner.FreeVariables(n.Quoted) {
			p.quoteRef[v] = true
			p.use(v, current)
		}
		return
	}
	for _, c := range n.Children() {
		p.walk(c, current, depth+1)
	}
}

func kindOf(n *tree.Node) tree.Kind {
	if n == nil {
		return -1
	}
	return n.Kind
}

// Package compiler implements the single-pass Pratt-parsing bytecode
// compiler for lox.
//
// There is no intermediate AST: the compiler consumes tokens one at a
// time from a lexer.Lexer and emits bytecode directly as it recognizes
// grammar productions. One compile pass builds a flat per-function
// locals table keyed by declaration order and emits straight into a
// bytecode chunk rather than building an intermediate tree.
//
// The Pratt table (parseRules) drives expression parsing by precedence;
// the single-pass emission strategy reserves forward jumps as two
// placeholder bytes and patches them once the target is known, while
// backward jumps are computed directly since the target is already
// behind the current offset.
package compiler

import (
	"fmt"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/kristofer/lox/pkg/bytecode"
	"github.com/kristofer/lox/pkg/lexer"
	"github.com/kristofer/lox/pkg/value"
)

// Precedence orders expression-parsing tiers low to high. Each
// Pratt-table row carries the precedence of its infix form;
// parsePrecedence consumes infix operators whose precedence is at least
// the precedence it was called with.
type Precedence int

const (
	PrecNone Precedence = iota
	PrecAssignment // =
	PrecOr         // or
	PrecAnd        // and
	PrecEquality   // == !=
	PrecComparison // < > <= >=
	PrecTerm       // + -
	PrecFactor     // * /
	PrecUnary      // ! -
	PrecCall       // . ()
	PrecPrimary
)

type parseFn func(c *Compiler, canAssign bool)

type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence Precedence
}

var rules map[lexer.TokenType]parseRule

func init() {
	rules = map[lexer.TokenType]parseRule{
		lexer.TokenLeftParen:    {(*Compiler).grouping, (*Compiler).call, PrecCall},
		lexer.TokenMinus:        {(*Compiler).unary, (*Compiler).binary, PrecTerm},
		lexer.TokenPlus:         {nil, (*Compiler).binary, PrecTerm},
		lexer.TokenSlash:        {nil, (*Compiler).binary, PrecFactor},
		lexer.TokenStar:         {nil, (*Compiler).binary, PrecFactor},
		lexer.TokenBang:         {(*Compiler).unary, nil, PrecNone},
		lexer.TokenBangEqual:    {nil, (*Compiler).binary, PrecEquality},
		lexer.TokenEqualEqual:   {nil, (*Compiler).binary, PrecEquality},
		lexer.TokenGreater:      {nil, (*Compiler).binary, PrecComparison},
		lexer.TokenGreaterEqual: {nil, (*Compiler).binary, PrecComparison},
		lexer.TokenLess:         {nil, (*Compiler).binary, PrecComparison},
		lexer.TokenLessEqual:    {nil, (*Compiler).binary, PrecComparison},
		lexer.TokenIdentifier:   {(*Compiler).variable, nil, PrecNone},
		lexer.TokenString:       {(*Compiler).string, nil, PrecNone},
		lexer.TokenNumber:       {(*Compiler).number, nil, PrecNone},
		lexer.TokenAnd:          {nil, (*Compiler).and, PrecAnd},
		lexer.TokenOr:           {nil, (*Compiler).or, PrecOr},
		lexer.TokenFalse:        {(*Compiler).literal, nil, PrecNone},
		lexer.TokenTrue:         {(*Compiler).literal, nil, PrecNone},
		lexer.TokenNil:          {(*Compiler).literal, nil, PrecNone},
	}
}

func (c *Compiler) ruleFor(t lexer.TokenType) parseRule {
	return rules[t]
}

// FuncType distinguishes the implicit top-level script from a nested
// `fun` declaration; a script's call frame is synthesized by the VM, and
// `return` at script scope is a compile error.
type FuncType int

const (
	FuncScript FuncType = iota
	FuncFunction
)

// Local is a compile-time-only record of one local variable's name and
// scope depth. Depth -1 ("uninitialized") is the sentinel used to
// detect `var a = a;` reading its own name inside its initializer.
type Local struct {
	name  lexer.Token
	depth int
}

const uninitialized = -1

// maxLocals bounds the per-function locals table, matching the 1-byte
// OP_GET_LOCAL/OP_SET_LOCAL slot operand.
const maxLocals = 256

// funcState is the per-compiling-function record: its own chunk/arity,
// the locals table, and a link to the enclosing function's state for
// nested `fun` declarations.
type funcState struct {
	enclosing *funcState
	function  *value.ObjFunction
	funcType  FuncType
	locals    []Local
	scopeDepth int
}

// Compiler is a single-pass Pratt parser/emitter. One Compiler compiles
// one source string into one top-level *value.ObjFunction (the
// implicit top-level script), recursing into nested funcState frames
// for each `fun` declaration it encounters.
type Compiler struct {
	lex      *lexer.Lexer
	interner *value.Interner

	previous lexer.Token
	current  lexer.Token

	fn *funcState

	errors    *multierror.Error
	panicMode bool

	// Trace, when true, logs each compiled chunk's disassembly via
	// logrus at Debug level once compilation of that function
	// completes.
	Trace bool
}

// New creates a Compiler that will compile source, interning strings
// and identifiers through interner so the VM can share the same
// interned-string identities for global lookups.
func New(source string, interner *value.Interner) *Compiler {
	c := &Compiler{lex: lexer.New(source), interner: interner}
	return c
}

// Compile runs the compiler to completion and returns the top-level
// script function. On any compile error it returns nil and a non-nil
// error aggregating every error panic-mode recovery surfaced.
func (c *Compiler) Compile() (*value.ObjFunction, error) {
	c.pushFunc(FuncScript, "")
	c.advance()

	for !c.match(lexer.TokenEOF) {
		c.declaration()
	}

	fn := c.endFunc()
	if err := c.errors.ErrorOrNil(); err != nil {
		return nil, err
	}
	return fn, nil
}

func (c *Compiler) pushFunc(funcType FuncType, name string) {
	fn := &value.ObjFunction{Name: name, Chunk: bytecode.NewChunk()}
	state := &funcState{enclosing: c.fn, function: fn, funcType: funcType}
	// Slot 0 is reserved for the function value itself, which a call
	// leaves sitting at the new frame's base slot.
	state.locals = append(state.locals, Local{depth: 0})
	c.fn = state
}

func (c *Compiler) endFunc() *value.ObjFunction {
	c.emitReturn()
	fn := c.fn.function
	if c.Trace {
		name := fn.Name
		if name == "" {
			name = "<script>"
		}
		logrus.Debugln(c.chunk().Disassemble(name))
	}
	c.fn = c.fn.enclosing
	return fn
}

func (c *Compiler) chunk() *bytecode.Chunk {
	return c.fn.function.Chunk.(*bytecode.Chunk)
}

// --- token stream plumbing ---

func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.lex.NextToken()
		if c.current.Type != lexer.TokenError {
			break
		}
		c.errorAtCurrent(c.current.Lexeme)
	}
}

func (c *Compiler) check(t lexer.TokenType) bool { return c.current.Type == t }

func (c *Compiler) match(t lexer.TokenType) bool {
	if !c.check(t) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) consume(t lexer.TokenType, msg string) {
	if c.current.Type == t {
		c.advance()
		return
	}
	c.errorAtCurrent(msg)
}

// --- emission helpers ---

func (c *Compiler) emitByte(b byte) { c.chunk().Write(b, c.previous.Line) }
func (c *Compiler) emitOp(op bytecode.Opcode) { c.chunk().WriteOp(op, c.previous.Line) }
func (c *Compiler) emitOpByte(op bytecode.Opcode, b byte) {
	c.emitOp(op)
	c.emitByte(b)
}

func (c *Compiler) emitReturn() {
	c.emitOp(bytecode.OpNil)
	c.emitOp(bytecode.OpReturn)
}

func (c *Compiler) emitConstant(v value.Value) {
	idx, err := c.chunk().AddConstant(v)
	if err != nil {
		c.error(err.Error())
		return
	}
	c.emitOpByte(bytecode.OpConstant, byte(idx))
}

func (c *Compiler) emitJump(op bytecode.Opcode) int {
	c.emitOp(op)
	c.emitByte(0xFF)
	c.emitByte(0xFF)
	return len(c.chunk().Code) - 2
}

func (c *Compiler) patchJump(offset int) {
	if err := c.chunk().PatchJump(offset); err != nil {
		c.error(err.Error())
	}
}

func (c *Compiler) emitLoop(loopStart int) {
	if err := c.chunk().WriteLoop(loopStart, c.previous.Line); err != nil {
		c.error(err.Error())
	}
}

// --- declarations & statements ---

func (c *Compiler) declaration() {
	switch {
	case c.match(lexer.TokenFun):
		c.funDeclaration()
	case c.match(lexer.TokenVar):
		c.varDeclaration()
	case c.match(lexer.TokenClass):
		c.error("unimplemented keyword 'class'")
	default:
		c.statement()
	}
	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) statement() {
	switch {
	case c.match(lexer.TokenPrint):
		c.printStatement()
	case c.match(lexer.TokenIf):
		c.ifStatement()
	case c.match(lexer.TokenWhile):
		c.whileStatement()
	case c.match(lexer.TokenFor):
		c.forStatement()
	case c.match(lexer.TokenReturn):
		c.returnStatement()
	case c.match(lexer.TokenLeftBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) printStatement() {
	c.expression()
	c.consume(lexer.TokenSemicolon, "expect ';' after value")
	c.emitOp(bytecode.OpPrint)
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.consume(lexer.TokenSemicolon, "expect ';' after expression")
	c.emitOp(bytecode.OpPop)
}

func (c *Compiler) block() {
	for !c.check(lexer.TokenRightBrace) && !c.check(lexer.TokenEOF) {
		c.declaration()
	}
	c.consume(lexer.TokenRightBrace, "expect '}' after block")
}

func (c *Compiler) beginScope() { c.fn.scopeDepth++ }

func (c *Compiler) endScope() {
	c.fn.scopeDepth--
	locals := c.fn.locals
	for len(locals) > 0 && locals[len(locals)-1].depth > c.fn.scopeDepth {
		c.emitOp(bytecode.OpPop)
		locals = locals[:len(locals)-1]
	}
	c.fn.locals = locals
}

func (c *Compiler) ifStatement() {
	c.consume(lexer.TokenLeftParen, "expect '(' after 'if'")
	c.expression()
	c.consume(lexer.TokenRightParen, "expect ')' after condition")

	thenJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()

	elseJump := c.emitJump(bytecode.OpJump)
	c.patchJump(thenJump)
	c.emitOp(bytecode.OpPop)

	if c.match(lexer.TokenElse) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) whileStatement() {
	loopStart := len(c.chunk().Code)
	c.consume(lexer.TokenLeftParen, "expect '(' after 'while'")
	c.expression()
	c.consume(lexer.TokenRightParen, "expect ')' after condition")

	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(bytecode.OpPop)
}

func (c *Compiler) forStatement() {
	c.beginScope()
	c.consume(lexer.TokenLeftParen, "expect '(' after 'for'")

	switch {
	case c.match(lexer.TokenSemicolon):
		// no initializer
	case c.match(lexer.TokenVar):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := len(c.chunk().Code)
	exitJump := -1
	if !c.match(lexer.TokenSemicolon) {
		c.expression()
		c.consume(lexer.TokenSemicolon, "expect ';' after loop condition")
		exitJump = c.emitJump(bytecode.OpJumpIfFalse)
		c.emitOp(bytecode.OpPop)
	}

	if !c.match(lexer.TokenRightParen) {
		bodyJump := c.emitJump(bytecode.OpJump)
		incrStart := len(c.chunk().Code)
		c.expression()
		c.emitOp(bytecode.OpPop)
		c.consume(lexer.TokenRightParen, "expect ')' after for clauses")

		c.emitLoop(loopStart)
		loopStart = incrStart
		c.patchJump(bodyJump)
	}

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(bytecode.OpPop)
	}
	c.endScope()
}

func (c *Compiler) returnStatement() {
	if c.fn.funcType == FuncScript {
		c.error("can't return from top-level code")
	}
	if c.match(lexer.TokenSemicolon) {
		c.emitReturn()
		return
	}
	c.expression()
	c.consume(lexer.TokenSemicolon, "expect ';' after return value")
	c.emitOp(bytecode.OpReturn)
}

func (c *Compiler) funDeclaration() {
	global := c.parseVariable("expect function name")
	c.markInitialized()
	c.function(FuncFunction)
	c.defineVariable(global)
}

func (c *Compiler) function(funcType FuncType) {
	name := c.previous.Lexeme
	c.pushFunc(funcType, name)
	c.beginScope()

	c.consume(lexer.TokenLeftParen, "expect '(' after function name")
	if !c.check(lexer.TokenRightParen) {
		for {
			c.fn.function.Arity++
			if c.fn.function.Arity > 255 {
				c.errorAtCurrent("can't have more than 255 parameters")
			}
			constant := c.parseVariable("expect parameter name")
			c.defineVariable(constant)
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightParen, "expect ')' after parameters")
	c.consume(lexer.TokenLeftBrace, "expect '{' before function body")
	c.block()

	fn := c.endFunc()
	c.emitConstant(fn)
}

func (c *Compiler) varDeclaration() {
	global := c.parseVariable("expect variable name")

	if c.match(lexer.TokenEqual) {
		c.expression()
	} else {
		c.emitOp(bytecode.OpNil)
	}
	c.consume(lexer.TokenSemicolon, "expect ';' after variable declaration")
	c.defineVariable(global)
}

// --- variables ---

// parseVariable consumes an identifier token and, for a global-scope
// declaration, returns the constant-pool index of its interned name.
// For a local declaration it returns -1: locals are never resolved by
// name at runtime, only by stack slot.
func (c *Compiler) parseVariable(errMsg string) int {
	c.consume(lexer.TokenIdentifier, errMsg)
	name := c.previous
	c.declareLocal(name)
	if c.fn.scopeDepth > 0 {
		return -1
	}
	return c.identifierConstant(name)
}

func (c *Compiler) identifierConstant(name lexer.Token) int {
	idx, err := c.chunk().AddConstant(c.interner.Intern(name.Lexeme))
	if err != nil {
		c.error(err.Error())
		return 0
	}
	return idx
}

func (c *Compiler) declareLocal(name lexer.Token) {
	if c.fn.scopeDepth == 0 {
		return
	}
	for i := len(c.fn.locals) - 1; i >= 0; i-- {
		local := c.fn.locals[i]
		if local.depth != uninitialized && local.depth < c.fn.scopeDepth {
			break
		}
		if local.name.Lexeme == name.Lexeme {
			c.error("already a variable with this name in this scope")
		}
	}
	c.addLocal(name)
}

func (c *Compiler) addLocal(name lexer.Token) {
	if len(c.fn.locals) >= maxLocals {
		c.error("too many local variables in function")
		return
	}
	c.fn.locals = append(c.fn.locals, Local{name: name, depth: uninitialized})
}

func (c *Compiler) markInitialized() {
	if c.fn.scopeDepth == 0 {
		return
	}
	c.fn.locals[len(c.fn.locals)-1].depth = c.fn.scopeDepth
}

func (c *Compiler) defineVariable(global int) {
	if c.fn.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitOpByte(bytecode.OpDefineGlobal, byte(global))
}

// resolveLocal searches the current function's locals back-to-front, so
// the most recently declared shadowing name wins. Returns -1 if name is
// not a local (treat as global).
func (c *Compiler) resolveLocal(name lexer.Token) int {
	for i := len(c.fn.locals) - 1; i >= 0; i-- {
		local := c.fn.locals[i]
		if local.name.Lexeme == name.Lexeme {
			if local.depth == uninitialized {
				c.error("can't read local variable in its own initializer")
			}
			return i
		}
	}
	return -1
}

func (c *Compiler) namedVariable(name lexer.Token, canAssign bool) {
	var getOp, setOp bytecode.Opcode
	arg := c.resolveLocal(name)
	if arg != -1 {
		getOp, setOp = bytecode.OpGetLocal, bytecode.OpSetLocal
	} else {
		arg = c.identifierConstant(name)
		getOp, setOp = bytecode.OpGetGlobal, bytecode.OpSetGlobal
	}

	if canAssign && c.match(lexer.TokenEqual) {
		c.expression()
		c.emitOpByte(setOp, byte(arg))
	} else {
		c.emitOpByte(getOp, byte(arg))
	}
}

// --- expressions (Pratt parser) ---

func (c *Compiler) expression() { c.parsePrecedence(PrecAssignment) }

func (c *Compiler) parsePrecedence(prec Precedence) {
	c.advance()
	prefix := c.ruleFor(c.previous.Type).prefix
	if prefix == nil {
		if t := c.previous.Type; t == lexer.TokenSuper || t == lexer.TokenThis {
			c.error(fmt.Sprintf("unimplemented keyword '%s'", c.previous.Lexeme))
			return
		}
		c.error("expect expression")
		return
	}
	canAssign := prec <= PrecAssignment
	prefix(c, canAssign)

	for prec <= c.ruleFor(c.current.Type).precedence {
		c.advance()
		infix := c.ruleFor(c.previous.Type).infix
		infix(c, canAssign)
	}

	if canAssign && c.match(lexer.TokenEqual) {
		c.error("invalid assignment target")
	}
}

func (c *Compiler) number(_ bool) {
	f, err := strconv.ParseFloat(c.previous.Lexeme, 64)
	if err != nil {
		c.error("invalid number literal")
		return
	}
	c.emitConstant(value.Number(f))
}

func (c *Compiler) string(_ bool) {
	// Strip the surrounding quotes; no escape processing.
	lexeme := c.previous.Lexeme
	s := lexeme[1 : len(lexeme)-1]
	c.emitConstant(c.interner.Intern(s))
}

func (c *Compiler) literal(_ bool) {
	switch c.previous.Type {
	case lexer.TokenFalse:
		c.emitOp(bytecode.OpFalse)
	case lexer.TokenNil:
		c.emitOp(bytecode.OpNil)
	case lexer.TokenTrue:
		c.emitOp(bytecode.OpTrue)
	}
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.previous, canAssign)
}

func (c *Compiler) grouping(_ bool) {
	c.expression()
	c.consume(lexer.TokenRightParen, "expect ')' after expression")
}

func (c *Compiler) unary(_ bool) {
	opType := c.previous.Type
	c.parsePrecedence(PrecUnary)
	switch opType {
	case lexer.TokenBang:
		c.emitOp(bytecode.OpNot)
	case lexer.TokenMinus:
		c.emitOp(bytecode.OpNegate)
	}
}

func (c *Compiler) binary(_ bool) {
	opType := c.previous.Type
	rule := c.ruleFor(opType)
	c.parsePrecedence(rule.precedence + 1)

	switch opType {
	case lexer.TokenBangEqual:
		c.emitOp(bytecode.OpEqual)
		c.emitOp(bytecode.OpNot)
	case lexer.TokenEqualEqual:
		c.emitOp(bytecode.OpEqual)
	case lexer.TokenGreater:
		c.emitOp(bytecode.OpGreater)
	case lexer.TokenGreaterEqual:
		c.emitOp(bytecode.OpLess)
		c.emitOp(bytecode.OpNot)
	case lexer.TokenLess:
		c.emitOp(bytecode.OpLess)
	case lexer.TokenLessEqual:
		c.emitOp(bytecode.OpGreater)
		c.emitOp(bytecode.OpNot)
	case lexer.TokenPlus:
		c.emitOp(bytecode.OpAdd)
	case lexer.TokenMinus:
		c.emitOp(bytecode.OpSubtract)
	case lexer.TokenStar:
		c.emitOp(bytecode.OpMultiply)
	case lexer.TokenSlash:
		c.emitOp(bytecode.OpDivide)
	}
}

func (c *Compiler) and(_ bool) {
	endJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(PrecAnd)
	c.patchJump(endJump)
}

func (c *Compiler) or(_ bool) {
	elseJump := c.emitJump(bytecode.OpJumpIfFalse)
	endJump := c.emitJump(bytecode.OpJump)
	c.patchJump(elseJump)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(PrecOr)
	c.patchJump(endJump)
}

func (c *Compiler) call(_ bool) {
	argCount := c.argumentList()
	c.emitOpByte(bytecode.OpCall, byte(argCount))
}

func (c *Compiler) argumentList() int {
	argCount := 0
	if !c.check(lexer.TokenRightParen) {
		for {
			c.expression()
			if argCount == 255 {
				c.error("can't have more than 255 arguments")
			}
			argCount++
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightParen, "expect ')' after arguments")
	return argCount
}

// --- error recovery ---

func (c *Compiler) synchronize() {
	c.panicMode = false
	for c.current.Type != lexer.TokenEOF {
		if c.previous.Type == lexer.TokenSemicolon {
			return
		}
		switch c.current.Type {
		case lexer.TokenClass, lexer.TokenFun, lexer.TokenVar, lexer.TokenFor,
			lexer.TokenIf, lexer.TokenWhile, lexer.TokenPrint, lexer.TokenReturn:
			return
		}
		c.advance()
	}
}

func (c *Compiler) errorAtCurrent(msg string) { c.errorAt(c.current, msg) }
func (c *Compiler) error(msg string)          { c.errorAt(c.previous, msg) }

func (c *Compiler) errorAt(tok lexer.Token, msg string) {
	if c.panicMode {
		return
	}
	c.panicMode = true

	var where string
	switch tok.Type {
	case lexer.TokenEOF:
		where = "at end"
	case lexer.TokenError:
		where = ""
	default:
		where = fmt.Sprintf("at '%s'", tok.Lexeme)
	}

	var text string
	if where == "" {
		text = fmt.Sprintf("[line %d] Error: %s", tok.Line, msg)
	} else {
		text = fmt.Sprintf("[line %d] Error %s: %s", tok.Line, where, msg)
	}
	c.errors = multierror.Append(c.errors, fmt.Errorf("%s", text))
}

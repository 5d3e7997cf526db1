package lexer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func scanAll(src string) []Token {
	l := New(src)
	var toks []Token
	for {
		tok := l.NextToken()
		toks = append(toks, tok)
		if tok.Type == TokenEOF {
			return toks
		}
	}
}

func types(toks []Token) []TokenType {
	out := make([]TokenType, len(toks))
	for i, t := range toks {
		out[i] = t.Type
	}
	return out
}

func TestPunctuationAndOperators(t *testing.T) {
	toks := scanAll("(){},.-+;*/ ! != = == < <= > >=")
	require.Equal(t, []TokenType{
		TokenLeftParen, TokenRightParen, TokenLeftBrace, TokenRightBrace, TokenComma,
		TokenDot, TokenMinus, TokenPlus, TokenSemicolon, TokenStar, TokenSlash,
		TokenBang, TokenBangEqual, TokenEqual, TokenEqualEqual,
		TokenLess, TokenLessEqual, TokenGreater, TokenGreaterEqual, TokenEOF,
	}, types(toks))
}

func TestNumberLiteral(t *testing.T) {
	toks := scanAll("123 45.67")
	require.Equal(t, TokenNumber, toks[0].Type)
	require.Equal(t, "123", toks[0].Lexeme)
	require.Equal(t, TokenNumber, toks[1].Type)
	require.Equal(t, "45.67", toks[1].Lexeme)
}

func TestTrailingDotIsNotPartOfNumber(t *testing.T) {
	toks := scanAll("123.")
	require.Equal(t, TokenNumber, toks[0].Type)
	require.Equal(t, "123", toks[0].Lexeme)
	require.Equal(t, TokenDot, toks[1].Type)
}

func TestStringLiteral(t *testing.T) {
	toks := scanAll(`"hello world"`)
	require.Equal(t, TokenString, toks[0].Type)
	require.Equal(t, `"hello world"`, toks[0].Lexeme)
}

func TestUnterminatedStringIsError(t *testing.T) {
	toks := scanAll(`"hello`)
	require.Equal(t, TokenError, toks[0].Type)
}

func TestMultilineStringAdvancesLine(t *testing.T) {
	l := New("\"line1\nline2\" foo")
	tok := l.NextToken()
	require.Equal(t, TokenString, tok.Type)
	next := l.NextToken()
	require.Equal(t, 2, next.Line)
}

func TestKeywordsAndIdentifiers(t *testing.T) {
	toks := scanAll("and class else false for fun if nil or print return super this true var while foobar")
	want := []TokenType{
		TokenAnd, TokenClass, TokenElse, TokenFalse, TokenFor, TokenFun, TokenIf, TokenNil,
		TokenOr, TokenPrint, TokenReturn, TokenSuper, TokenThis, TokenTrue, TokenVar, TokenWhile,
		TokenIdentifier, TokenEOF,
	}
	require.Equal(t, want, types(toks))
}

func TestLineCommentSkipped(t *testing.T) {
	toks := scanAll("1 // a comment\n2")
	require.Equal(t, []TokenType{TokenNumber, TokenNumber, TokenEOF}, types(toks))
	require.Equal(t, 2, toks[1].Line)
}

func TestUnrecognizedCharacterIsError(t *testing.T) {
	toks := scanAll("@")
	require.Equal(t, TokenError, toks[0].Type)
}

func TestEOFRepeatsAfterExhaustion(t *testing.T) {
	l := New("")
	first := l.NextToken()
	second := l.NextToken()
	require.Equal(t, TokenEOF, first.Type)
	require.Equal(t, TokenEOF, second.Type)
}

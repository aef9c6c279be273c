// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lexAll(t *testing.T, src string) []Token {
	t.Helper()
	toks, err := NewLexer(src).Tokens()
	require.NoError(t, err)
	return toks
}

func TestLexer_Kinds(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []Kind
	}{
		{
			name: "keywords fold case-insensitively",
			src:  "WHEN where Then END if ELSE foreach in break continue TRUE false null AND or NOT contains STARTSWITH endswith",
			want: []Kind{WHEN, WHERE, THEN, END, IF, ELSE, FOREACH, IN, BREAK, CONTINUE, TRUE, FALSE, NULL, AND, OR, NOT, CONTAINS, STARTSWITH, ENDSWITH, EOF},
		},
		{
			name: "punctuation and operators",
			src:  "{ } ( ) [ ] , ; . : = + - * / == != > >= < <=",
			want: []Kind{LBRACE, RBRACE, LPAREN, RPAREN, LBRACKET, RBRACKET, COMMA, SEMICOLON, DOT, COLON, ASSIGN, PLUS, MINUS, STAR, SLASH, EQ, NE, GT, GE, LT, LE, EOF},
		},
		{
			name: "identifiers and numbers",
			src:  "user_12 x 3 14.25",
			want: []Kind{IDENT, IDENT, NUMBER, NUMBER, EOF},
		},
		{
			name: "comments are skipped",
			src:  "x // trailing comment\ny",
			want: []Kind{IDENT, IDENT, EOF},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			toks := lexAll(t, tt.src)
			kinds := make([]Kind, len(toks))
			for i, tok := range toks {
				kinds[i] = tok.Kind
			}
			assert.Equal(t, tt.want, kinds)
		})
	}
}

func TestLexer_Strings(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"double quoted", `"hello"`, "hello"},
		{"single quoted", `'hello'`, "hello"},
		{"escaped quote", `"say \"hi\""`, `say "hi"`},
		{"escaped single quote", `'it\'s'`, "it's"},
		{"newline escape", `"a\nb"`, "a\nb"},
		{"tab escape", `"a\tb"`, "a\tb"},
		{"backslash escape", `"a\\b"`, `a\b`},
		{"unicode content", `"привет 你好"`, "привет 你好"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			toks := lexAll(t, tt.src)
			require.Len(t, toks, 2)
			assert.Equal(t, STRING, toks[0].Kind)
			assert.Equal(t, tt.want, toks[0].Lit)
		})
	}
}

func TestLexer_Positions(t *testing.T) {
	toks := lexAll(t, "when message\nwhere x == 1")
	require.Len(t, toks, 7)

	assert.Equal(t, 1, toks[0].Line)
	assert.Equal(t, 1, toks[0].Col)
	assert.Equal(t, 1, toks[1].Line)
	assert.Equal(t, 6, toks[1].Col)

	// 'where' starts line 2.
	assert.Equal(t, 2, toks[2].Line)
	assert.Equal(t, 1, toks[2].Col)
	// '==' at line 2 column 9.
	assert.Equal(t, 2, toks[4].Line)
	assert.Equal(t, 9, toks[4].Col)
}

func TestLexer_NumberLeadingMinusIsOperator(t *testing.T) {
	toks := lexAll(t, "-5")
	require.Len(t, toks, 3)
	assert.Equal(t, MINUS, toks[0].Kind)
	assert.Equal(t, NUMBER, toks[1].Kind)
	assert.Equal(t, "5", toks[1].Lit)
}

func TestLexer_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"unexpected rune", "x § y", "lex error (line 1, column 3): unexpected character '§'"},
		{"unterminated string", `"abc`, "lex error (line 1, column 1): unterminated string"},
		{"string broken by newline", "\"ab\ncd\"", "lex error (line 1, column 1): unterminated string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLexer(tt.src).Tokens()
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())

			var syn *SyntaxError
			require.ErrorAs(t, err, &syn)
			assert.Equal(t, "lex", syn.Stage)
		})
	}
}

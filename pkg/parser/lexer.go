// Package parser implements a hand-written recursive-descent parser
// that turns a Cypher query string into a pkg/ast.Query. The lexer
// tracks byte offsets throughout so the parser can report precise error
// positions and capture exact source text for unaliased projection
// items.
package parser

import (
	"strings"
	"unicode"
)

// tokenKind classifies a lexed token.
type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokParam
	tokPunct
)

// token is one lexed unit with its byte offsets into the original
// source, so the parser can report ParseError.Position and recover the
// exact source slice for original-text capture.
type token struct {
	kind  tokenKind
	text  string // normalized text (string tokens unescaped, numbers kept verbatim)
	start int
	end   int
}

// isIdentStart/isIdentPart define the Cypher identifier character set:
// Unicode letters, Unicode digits, and underscore, first character
// non-digit.
func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// lex tokenizes src in full. Keywords are not distinguished from plain
// identifiers at this stage — case-insensitive keyword matching happens
// in the parser via equalFold, since identifiers are case-sensitive but
// keywords aren't.
func lex(src string) ([]token, error) {
	var toks []token
	runes := []rune(src)
	n := len(runes)
	// byteOffsets[i] is the byte offset of runes[i] in src, for correct
	// positions when the source contains multi-byte characters.
	byteOffsets := make([]int, n+1)
	{
		b := 0
		for i, r := range runes {
			byteOffsets[i] = b
			b += len(string(r))
		}
		byteOffsets[n] = b
	}

	i := 0
	for i < n {
		r := runes[i]
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			i++
		case strings.HasPrefix(string(runes[i:min(i+2, n)]), "//"):
			for i < n && runes[i] != '\n' {
				i++
			}
		case r == '\'' || r == '"':
			start := i
			quote := r
			i++
			var sb strings.Builder
			for i < n && runes[i] != quote {
				if runes[i] == '\\' && i+1 < n {
					i++
					sb.WriteRune(escapeRune(runes[i]))
					i++
					continue
				}
				sb.WriteRune(runes[i])
				i++
			}
			if i >= n {
				return nil, &lexError{pos: byteOffsets[start], msg: "unterminated string literal"}
			}
			i++ // closing quote
			toks = append(toks, token{kind: tokString, text: sb.String(), start: byteOffsets[start], end: byteOffsets[i]})
		case r == '$':
			start := i
			i++
			nameStart := i
			for i < n && isIdentPart(runes[i]) {
				i++
			}
			toks = append(toks, token{kind: tokParam, text: string(runes[nameStart:i]), start: byteOffsets[start], end: byteOffsets[i]})
		case unicode.IsDigit(r):
			start := i
			for i < n && unicode.IsDigit(runes[i]) {
				i++
			}
			// A decimal point is part of the number only when a digit
			// follows; `1..3` in a hop range must lex as 1, "..", 3.
			if i+1 < n && runes[i] == '.' && unicode.IsDigit(runes[i+1]) {
				i++
				for i < n && unicode.IsDigit(runes[i]) {
					i++
				}
			}
			toks = append(toks, token{kind: tokNumber, text: string(runes[start:i]), start: byteOffsets[start], end: byteOffsets[i]})
		case isIdentStart(r):
			start := i
			for i < n && isIdentPart(runes[i]) {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: string(runes[start:i]), start: byteOffsets[start], end: byteOffsets[i]})
		default:
			start := i
			two := string(runes[i:min(i+2, n)])
			switch two {
			case "<-", "->", "<=", ">=", "<>", "..":
				toks = append(toks, token{kind: tokPunct, text: two, start: byteOffsets[start], end: byteOffsets[i+2]})
				i += 2
				continue
			}
			toks = append(toks, token{kind: tokPunct, text: string(r), start: byteOffsets[start], end: byteOffsets[i+1]})
			i++
		}
	}
	toks = append(toks, token{kind: tokEOF, text: "", start: byteOffsets[n], end: byteOffsets[n]})
	return toks, nil
}

func escapeRune(r rune) rune {
	switch r {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	default:
		return r
	}
}

type lexError struct {
	pos int
	msg string
}

func (e *lexError) Error() string { return e.msg }

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

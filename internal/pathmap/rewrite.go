package pathmap

import (
	"bytes"
	"encoding/json"
	"strings"
)

// pathKeys name object fields that always hold a path, so their values are
// rewritten even when they contain spaces.
var pathKeys = map[string]bool{
	"path":      true,
	"cwd":       true,
	"oldPath":   true,
	"newPath":   true,
	"file":      true,
	"filePath":  true,
	"file_path": true,
}

// proseKeys name fields holding free text, which is never rewritten.
var proseKeys = map[string]bool{
	"text":     true,
	"thought":  true,
	"message":  true,
	"oldText":  true,
	"newText":  true,
	"markdown": true,
}

// RewriteTree rewrites the path leaves of a decoded JSON value. Objects and
// arrays are rewritten in place; the returned value must be used in place
// of v since a bare string leaf cannot be modified in place.
//
// Values of path fields are rewritten when they look like a path of the
// source namespace. Free text fields pass through. Any other string leaf is
// rewritten only when the whole string is one path token, so prose that
// merely starts with a path is left alone. A rewritten leaf no longer looks
// like a source path, so applying the same rewrite twice changes nothing.
func RewriteTree(t Translator, v any, dir Direction) any {
	return rewriteNode(t, v, dir, "")
}

func rewriteNode(t Translator, v any, dir Direction, key string) any {
	switch node := v.(type) {
	case string:
		switch {
		case proseKeys[key]:
			return node
		case !pathKeys[key] && !pathToken(node):
			return node
		case t.LooksLike(node, dir):
			return Translate(t, node, dir)
		}
		return node
	case map[string]any:
		for k, child := range node {
			node[k] = rewriteNode(t, child, dir, k)
		}
		return node
	case []any:
		for i, child := range node {
			node[i] = rewriteNode(t, child, dir, key)
		}
		return node
	default:
		return v
	}
}

// pathToken reports whether s could be a bare path: no whitespace and no
// URL scheme.
func pathToken(s string) bool {
	return !strings.ContainsAny(s, " \t\r\n") && !strings.Contains(s, "://")
}

// RewriteJSON decodes raw, rewrites its path leaves and encodes it again.
// Numbers keep their original text.
func RewriteJSON(t Translator, raw json.RawMessage, dir Direction) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	if _, ok := t.(Identity); ok {
		return raw, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	tree = RewriteTree(t, tree, dir)
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tree); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// RewriteCommand rewrites path tokens embedded in a command line. Tokens are
// separated by whitespace and shell operators; quoted strings are one token
// and keep their quotes. A token of the form name=path has its value
// rewritten.
func RewriteCommand(t Translator, cmd string, dir Direction) string {
	if _, ok := t.(Identity); ok {
		return cmd
	}
	var b strings.Builder
	b.Grow(len(cmd))
	for i := 0; i < len(cmd); {
		c := cmd[i]
		switch {
		case c == '"' || c == '\'':
			end := strings.IndexByte(cmd[i+1:], c)
			if end < 0 {
				b.WriteString(cmd[i:])
				i = len(cmd)
				continue
			}
			b.WriteByte(c)
			b.WriteString(rewriteToken(t, cmd[i+1:i+1+end], dir))
			b.WriteByte(c)
			i += end + 2
		case isDelim(c):
			b.WriteByte(c)
			i++
		default:
			j := i
			for j < len(cmd) && !isDelim(cmd[j]) && cmd[j] != '"' && cmd[j] != '\'' {
				j++
			}
			b.WriteString(rewriteToken(t, cmd[i:j], dir))
			i = j
		}
	}
	return b.String()
}

func rewriteToken(t Translator, tok string, dir Direction) string {
	if t.LooksLike(tok, dir) {
		return Translate(t, tok, dir)
	}
	if k := strings.IndexByte(tok, '='); k >= 0 && t.LooksLike(tok[k+1:], dir) {
		return tok[:k+1] + Translate(t, tok[k+1:], dir)
	}
	return tok
}

func isDelim(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '|', '&', ';', '<', '>', '(', ')':
		return true
	}
	return false
}

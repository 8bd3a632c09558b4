package node

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// sidBytes is the number of digest bytes kept in a sid.
const sidBytes = 16

// Key is one segment of a Stack: either a stable name or a position.
type Key struct {
	name       string
	index      int
	positional bool
}

// Name returns a named stack key.
func Name(s string) Key { return Key{name: s} }

// Index returns a positional stack key.
func Index(i int) Key { return Key{index: i, positional: true} }

// Positional reports whether k is an index.
func (k Key) Positional() bool { return k.positional }

// String returns the key text.
func (k Key) String() string {
	if k.positional {
		return strconv.Itoa(k.index)
	}
	return k.name
}

// Stack is the path of keys from the root to a node.
type Stack []Key

// SID returns the stable content hash of the stack.
//
// Each key is written length-prefixed ("s<len>:<name>" or "i<index>") and
// terminated by ";", so no two stacks share an encoding and a name never
// collides with an index. The encoding is hashed twice with SHA-256 and
// truncated.
func (s Stack) SID() string {
	var b strings.Builder
	for _, k := range s {
		if k.positional {
			b.WriteByte('i')
			b.WriteString(strconv.Itoa(k.index))
		} else {
			b.WriteByte('s')
			b.WriteString(strconv.Itoa(len(k.name)))
			b.WriteByte(':')
			b.WriteString(k.name)
		}
		b.WriteByte(';')
	}
	first := sha256.Sum256([]byte(b.String()))
	second := sha256.Sum256(first[:])
	return hex.EncodeToString(second[:sidBytes])
}

// String renders the stack for logs, e.g. "root/0/inner".
func (s Stack) String() string {
	parts := make([]string, len(s))
	for i, k := range s {
		parts[i] = k.String()
	}
	return strings.Join(parts, "/")
}

func (s Stack) with(k Key) Stack {
	out := make(Stack, len(s)+1)
	copy(out, s)
	out[len(s)] = k
	return out
}

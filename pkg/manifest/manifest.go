// Package manifest implements the per-package File Manifest: a nested
// mapping from path segments to either a content digest (a file) or
// another mapping (a directory). See spec.md §3 "File Manifest".
package manifest

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"storepm/pkg/digest"
)

// Node is one level of the manifest tree. Exactly one of Digest or
// Children is meaningful at a time: a leaf node (file) carries a
// Digest and a nil Children; a directory node carries Children and a
// zero Digest.
type Node struct {
	Digest   digest.Digest
	Children map[string]*Node
}

// New returns an empty directory node, the representation of a
// package's root after prefix stripping.
func New() *Node {
	return &Node{Children: make(map[string]*Node)}
}

// IsLeaf reports whether this node is a file (has a digest, no children).
func (n *Node) IsLeaf() bool {
	return n != nil && !n.Digest.IsZero()
}

// Insert folds a file path into the tree at d, creating intermediate
// directory nodes on demand. The path is split on "/" or "\\"; "."
// segments are ignored, per spec.md §4.2 "Manifest construction".
func (n *Node) Insert(path string, d digest.Digest) {
	segments := splitPath(path)
	cur := n
	for i, seg := range segments {
		if seg == "." || seg == "" {
			continue
		}
		if i == len(segments)-1 {
			if cur.Children == nil {
				cur.Children = make(map[string]*Node)
			}
			cur.Children[seg] = &Node{Digest: d}
			return
		}
		if cur.Children == nil {
			cur.Children = make(map[string]*Node)
		}
		child, ok := cur.Children[seg]
		if !ok || child.IsLeaf() {
			child = New()
			cur.Children[seg] = child
		}
		cur = child
	}
}

// Lookup returns the digest stored at path, if any.
func (n *Node) Lookup(path string) (digest.Digest, bool) {
	segments := splitPath(path)
	cur := n
	for i, seg := range segments {
		if seg == "." || seg == "" {
			continue
		}
		if cur == nil || cur.Children == nil {
			return digest.Digest{}, false
		}
		child, ok := cur.Children[seg]
		if !ok {
			return digest.Digest{}, false
		}
		if i == len(segments)-1 {
			if !child.IsLeaf() {
				return digest.Digest{}, false
			}
			return child.Digest, true
		}
		cur = child
	}
	return digest.Digest{}, false
}

// Walk visits every file (leaf) in the tree in sorted path order,
// yielding the "/"-joined path relative to this node.
func (n *Node) Walk(fn func(path string, d digest.Digest)) {
	n.walk("", fn)
}

func (n *Node) walk(prefix string, fn func(path string, d digest.Digest)) {
	if n == nil {
		return
	}
	names := make([]string, 0, len(n.Children))
	for name := range n.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		child := n.Children[name]
		path := name
		if prefix != "" {
			path = prefix + "/" + name
		}
		if child.IsLeaf() {
			fn(path, child.Digest)
		} else {
			child.walk(path, fn)
		}
	}
}

func splitPath(path string) []string {
	path = strings.ReplaceAll(path, "\\", "/")
	return strings.Split(path, "/")
}

// MarshalJSON renders a leaf as its canonical digest string and a
// directory as a nested JSON object, keyed and ordered alphabetically.
func (n *Node) MarshalJSON() ([]byte, error) {
	if n == nil {
		return []byte("null"), nil
	}
	if n.IsLeaf() {
		return json.Marshal(n.Digest.String())
	}
	names := make([]string, 0, len(n.Children))
	for name := range n.Children {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := n.Children[name].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts either a digest string (leaf) or a nested
// object (directory).
func (n *Node) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		d, err := digest.Parse(s)
		if err != nil {
			return err
		}
		n.Digest = d
		n.Children = nil
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	n.Children = make(map[string]*Node, len(raw))
	for k, v := range raw {
		child := &Node{}
		if err := child.UnmarshalJSON(v); err != nil {
			return err
		}
		n.Children[k] = child
	}
	return nil
}

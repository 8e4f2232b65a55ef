// Package logs discovers channels in one or more log directories and reads
// their dated log files.
//
// A channel is any directory holding at least one file named
// YYYY-MM-DD.log or YYYY-MM-DD.log.zst. Its path is the list of directory
// names below the log root, e.g. "OFTC/#example". The same path found under
// several roots forms a single channel backed by several directories.
package logs

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a channel or a dated log does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotChannel is returned when a path names a grouping directory
	// rather than a channel.
	ErrNotChannel = errors.New("not a channel")
	// ErrNotAccessible is returned for channels whose name does not start
	// with '#', such as server or private query logs.
	ErrNotAccessible = errors.New("channel not accessible")
)

// LookupError reports why a channel path could not be resolved. Its text
// names the path and is suitable for showing to users.
type LookupError struct {
	Msg string
	Err error
}

func (e *LookupError) Error() string { return e.Msg }
func (e *LookupError) Unwrap() error { return e.Err }

// Node is one level of the channel tree.
type Node struct {
	Name     string
	Channel  *Channel
	children map[string]*Node
}

// Child returns the named child node, or nil.
func (n *Node) Child(name string) *Node {
	return n.children[name]
}

// Children returns the child nodes sorted by name.
func (n *Node) Children() []*Node {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*Node, 0, len(names))
	for _, name := range names {
		out = append(out, n.children[name])
	}
	return out
}

func (n *Node) child(name string) *Node {
	if n.children == nil {
		n.children = make(map[string]*Node)
	}
	c, ok := n.children[name]
	if !ok {
		c = &Node{Name: name}
		n.children[name] = c
	}
	return c
}

// Tree is the channel hierarchy. It is built once by Discover and never
// modified afterwards, so it may be shared between goroutines.
type Tree struct {
	root *Node
}

// Root returns the unnamed root node.
func (t *Tree) Root() *Node { return t.root }

// Discover walks dirs and builds the channel tree. Unreadable directories
// are skipped.
func Discover(dirs []string) *Tree {
	t := &Tree{root: &Node{}}
	for _, dir := range dirs {
		t.discover(dir, nil)
	}
	return t
}

func (t *Tree) discover(dir string, segments []string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Warn("Skipping log directory", "dir", dir, "error", err)
		return
	}

	var subdirs []string
	hasLogs := false
	hashSibling := false
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			subdirs = append(subdirs, name)
			if strings.HasPrefix(name, "#") {
				hashSibling = true
			}
			continue
		}
		if _, ok := dateFromFilename(name); ok {
			hasLogs = true
		}
	}

	if hasLogs && len(segments) > 0 {
		t.insert(segments, dir)
	}

	// Next to channel directories anything else is a private query log.
	for _, name := range subdirs {
		if hashSibling && !strings.HasPrefix(name, "#") {
			continue
		}
		child := append(append([]string(nil), segments...), name)
		t.discover(filepath.Join(dir, name), child)
	}
}

func (t *Tree) insert(segments []string, dir string) {
	node := t.root
	for _, seg := range segments {
		node = node.child(seg)
	}
	if node.Channel != nil {
		node.Channel.Dirs = append(node.Channel.Dirs, dir)
		return
	}
	node.Channel = &Channel{
		Name:     segments[len(segments)-1],
		Segments: append([]string(nil), segments...),
		Dirs:     []string{dir},
	}
}

// Find returns the channel at segments, or nil.
func (t *Tree) Find(segments []string) *Channel {
	node := t.root
	for _, seg := range segments {
		node = node.Child(seg)
		if node == nil {
			return nil
		}
	}
	return node.Channel
}

// Lookup resolves a slash separated channel path to a searchable channel.
func (t *Tree) Lookup(path string) (*Channel, error) {
	node := t.root
	for _, seg := range strings.Split(path, "/") {
		node = node.Child(seg)
		if node == nil {
			return nil, &LookupError{Msg: "unknown channel: " + path, Err: ErrNotFound}
		}
	}
	switch {
	case node.Channel == nil:
		return nil, &LookupError{Msg: "not a channel: " + path, Err: ErrNotChannel}
	case !node.Channel.Searchable():
		return nil, &LookupError{Msg: "channel not accessible: " + path, Err: ErrNotAccessible}
	}
	return node.Channel, nil
}

// Walk calls fn for every channel in path order.
func (t *Tree) Walk(fn func(*Channel)) {
	var walk func(*Node)
	walk = func(n *Node) {
		if n.Channel != nil {
			fn(n.Channel)
		}
		for _, c := range n.Children() {
			walk(c)
		}
	}
	walk(t.root)
}

// Channels returns all searchable channels in path order.
func (t *Tree) Channels() []*Channel {
	var out []*Channel
	t.Walk(func(c *Channel) {
		if c.Searchable() {
			out = append(out, c)
		}
	})
	return out
}

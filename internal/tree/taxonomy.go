package tree

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrTaxonomyFormat is returned when a taxonomy file cannot be parsed.
var ErrTaxonomyFormat = errors.New("tree: invalid taxonomy format")

// TaxonomyError locates a taxonomy parse failure.
type TaxonomyError struct {
	File   string
	Line   int
	Reason string
}

func (e *TaxonomyError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("invalid format for %s: line %d: %s", e.File, e.Line, e.Reason)
	}
	return fmt.Sprintf("invalid format for %s: %s", e.File, e.Reason)
}

func (e *TaxonomyError) Unwrap() error { return ErrTaxonomyFormat }

// LoadTaxonomy reads an externally supplied tree.
//
// The input holds 2L-1 lines, root first. Each line starts with a tag, 'l' for
// a leaf or 'n' for an internal node:
//
//	n<id> <count>                          root
//	l<id> <parent> <count> <label>         leaf
//	n<id> <parent> <count> [<label>...]    internal node
//
// Internal ids and parent ids count down from the root, which is id 0 and maps
// to node 2L-2. A leaf takes the node of its label. The first child listed
// under a parent becomes its left child, the second its right child.
func LoadTaxonomy(r io.Reader, name string, labels map[string]int32, nlabels int) (*Tree, error) {
	fail := func(line int, format string, args ...any) error {
		return &TaxonomyError{File: name, Line: line, Reason: fmt.Sprintf(format, args...)}
	}
	if nlabels <= 0 {
		return nil, fail(0, "no labels")
	}

	t := newTree(nlabels)
	root := int64(2*nlabels - 2)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	line := 0
	for i := 0; i < len(t.nodes); i++ {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return nil, err
			}
			return nil, fail(line, "expected %d nodes, got %d", len(t.nodes), i)
		}
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			return nil, fail(line, "empty line")
		}

		tag := text[0]
		fields := strings.Fields(text[1:])

		want := 3
		if i == 0 {
			want = 2
		}
		if len(fields) < want {
			return nil, fail(line, "expected at least %d fields", want)
		}
		nums := make([]int64, want)
		for j := range nums {
			v, err := strconv.ParseInt(fields[j], 10, 64)
			if err != nil {
				return nil, fail(line, "bad number %q", fields[j])
			}
			nums[j] = v
		}
		rest := fields[want:]
		count := nums[want-1]

		var id int64
		switch tag {
		case 'l':
			if len(rest) == 0 {
				return nil, fail(line, "leaf without label")
			}
			lid, ok := labels[rest[0]]
			if !ok {
				return nil, fail(line, "unknown label %q", rest[0])
			}
			id = int64(lid)
		case 'n':
			id = root - nums[0]
			if id < int64(nlabels) || id > root {
				return nil, fail(line, "internal node id %d out of range", nums[0])
			}
		default:
			return nil, fail(line, "unknown tag %q", tag)
		}

		node := &t.nodes[id]
		if node.Count != unbuilt {
			return nil, fail(line, "node %d listed twice", nums[0])
		}
		node.Count = count

		if i == 0 {
			if id != root {
				return nil, fail(line, "first line must be the root")
			}
			continue
		}

		parent := root - nums[1]
		if parent < int64(nlabels) || parent > root {
			return nil, fail(line, "parent id %d out of range", nums[1])
		}
		p := &t.nodes[parent]
		switch {
		case p.Left == -1:
			p.Left = int32(id)
		case p.Right == -1:
			p.Right = int32(id)
			node.Binary = true
		default:
			return nil, fail(line, "parent %d already has two children", nums[1])
		}
		node.Parent = int32(parent)
	}

	if err := t.validate(); err != nil {
		return nil, fail(0, "%v", err)
	}
	t.buildPaths()
	return t, nil
}

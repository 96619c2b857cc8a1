package client

import (
	"path"
	"strings"
)

type Node interface {
	Path() string
	Name() string
}

type File struct {
	path string
	name string
	size int64
	dir  *Dir
}

type Dir struct {
	path     string
	name     string
	children []Node
	parent   *Dir
	// virtual roots group several arguments and never appear in paths
	virtual bool
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Name() string {
	return f.name
}

func (f *File) Size() int64 {
	return f.size
}

// RelativePath is the slash-separated path the server stores for the file,
// starting at the outermost uploaded directory.
func (f *File) RelativePath() string {
	parts := []string{f.name}
	for d := f.dir; d != nil && !d.virtual; d = d.parent {
		parts = append(parts, d.name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return path.Clean(strings.Join(parts, "/"))
}

func (d *Dir) Path() string {
	return d.path
}

func (d *Dir) Name() string {
	return d.name
}

func (d *Dir) Children() []Node {
	return d.children
}

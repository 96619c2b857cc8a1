package client

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

type Filetree struct {
	Root Node
}

func BuildFiletree(paths []ParsedPath) (*Filetree, error) {
	return buildFiletree(paths, time.Now())
}

func buildFiletree(paths []ParsedPath, now time.Time) (*Filetree, error) {
	var rootNodes []Node

	for _, parsedPath := range paths {
		if parsedPath.Kind == PathDir {
			dirNode, err := buildDirTree(parsedPath.FullPath)
			if err != nil {
				return nil, err
			}
			rootNodes = append(rootNodes, dirNode)
		} else {
			info, err := os.Stat(parsedPath.FullPath)
			if err != nil {
				return nil, err
			}
			rootNodes = append(rootNodes, &File{
				path: parsedPath.FullPath,
				name: filepath.Base(parsedPath.FullPath),
				size: info.Size(),
			})
		}
	}

	if len(rootNodes) == 0 {
		return nil, fmt.Errorf("no valid paths provided")
	}

	// determine root
	if len(rootNodes) == 1 {
		return &Filetree{Root: rootNodes[0]}, nil
	}
	return &Filetree{Root: createVirtualRoot(rootNodes, now)}, nil
}

// buildDirTree walks dirPath. Symlinks and other non-regular entries are
// skipped so the upload never leaves the chosen directory.
func buildDirTree(dirPath string) (*Dir, error) {
	dir := &Dir{
		path:     dirPath,
		name:     filepath.Base(dirPath),
		children: []Node{},
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		childPath := filepath.Join(dirPath, entry.Name())

		switch {
		case entry.IsDir():
			childDir, err := buildDirTree(childPath)
			if err != nil {
				return nil, err
			}
			childDir.parent = dir
			dir.children = append(dir.children, childDir)
		case entry.Type()&fs.ModeType == 0:
			info, err := entry.Info()
			if err != nil {
				return nil, err
			}
			dir.children = append(dir.children, &File{
				path: childPath,
				name: entry.Name(),
				size: info.Size(),
				dir:  dir,
			})
		}
	}

	return dir, nil
}

func createVirtualRoot(children []Node, now time.Time) *Dir {
	name := fmt.Sprintf("upload_%s", now.Format("2006_01_02_150405"))
	virtualRoot := &Dir{
		path:     name,
		name:     name,
		children: children,
		virtual:  true,
	}

	for _, child := range children {
		if dir, ok := child.(*Dir); ok {
			dir.parent = virtualRoot
		} else if file, ok := child.(*File); ok {
			file.dir = virtualRoot
		}
	}

	return virtualRoot
}

// FlattenTree lists every file depth first, in directory read order.
func (ft *Filetree) FlattenTree() []*File {
	var files []*File
	var walk func(Node)
	walk = func(n Node) {
		switch v := n.(type) {
		case *File:
			files = append(files, v)
		case *Dir:
			for _, child := range v.children {
				walk(child)
			}
		}
	}
	walk(ft.Root)
	return files
}

// TotalSize sums the sizes recorded while building the tree.
func (ft *Filetree) TotalSize() int64 {
	var total int64
	for _, f := range ft.FlattenTree() {
		total += f.size
	}
	return total
}

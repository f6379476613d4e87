package workspace

import (
	"path"

	"github.com/dannyswat/htmlstage"
)

// Captured is a file or directory as it was on disk when an action ran.
// Directory contents follow their directory.
type Captured struct {
	Path  string
	IsDir bool
	Data  []byte
}

// Move is one relocation of a file or directory.
type Move struct {
	From string
	To   string
}

func reverseMoves(moves []Move) []Move {
	out := make([]Move, len(moves))
	for i, m := range moves {
		out[len(moves)-1-i] = Move{From: m.To, To: m.From}
	}
	return out
}

// FileCreate creates Entries in order. A new empty file or directory is a
// single entry; undoing a delete recreates every captured entry.
type FileCreate struct {
	Entries []Captured
}

func (a *FileCreate) Kind() htmlstage.ActionKind { return htmlstage.ActionCreate }
func (a *FileCreate) Inverse() htmlstage.Action  { return &FileDelete{Entries: a.Entries} }

// FileDelete removes the top-level paths of Entries.
type FileDelete struct {
	Entries []Captured
}

func (a *FileDelete) Kind() htmlstage.ActionKind { return htmlstage.ActionDelete }
func (a *FileDelete) Inverse() htmlstage.Action  { return &FileCreate{Entries: a.Entries} }

// Roots returns the entries that are not inside another entry.
func (a *FileDelete) Roots() []string {
	var roots []string
	for _, e := range a.Entries {
		inside := false
		for _, r := range roots {
			if isWithin(e.Path, r) {
				inside = true
				break
			}
		}
		if !inside {
			roots = append(roots, e.Path)
		}
	}
	return roots
}

// FileRename renames one entry within its directory.
type FileRename struct {
	From string
	To   string
}

func (a *FileRename) Kind() htmlstage.ActionKind { return htmlstage.ActionRename }
func (a *FileRename) Inverse() htmlstage.Action  { return &FileRename{From: a.To, To: a.From} }

// FileMove is a cut and paste of entries into other directories.
type FileMove struct {
	Moves []Move
}

func (a *FileMove) Kind() htmlstage.ActionKind { return htmlstage.ActionCut }
func (a *FileMove) Inverse() htmlstage.Action  { return &FileMove{Moves: reverseMoves(a.Moves)} }

// FileCopy copies entries. Copies records what was written so that undo can
// remove it.
type FileCopy struct {
	Moves  []Move
	Copies []Captured
}

func (a *FileCopy) Kind() htmlstage.ActionKind { return htmlstage.ActionCopy }
func (a *FileCopy) Inverse() htmlstage.Action  { return &FileDelete{Entries: a.Copies} }

// capture reads the entry at p, recursing into directories.
func capture(fsys FS, p string) ([]Captured, error) {
	info, err := fsys.Stat(p)
	if err != nil {
		return nil, err
	}
	if !info.IsDir {
		data, err := fsys.ReadFile(p)
		if err != nil {
			return nil, err
		}
		return []Captured{{Path: p, Data: data}}, nil
	}
	out := []Captured{{Path: p, IsDir: true}}
	entries, err := fsys.ReadDir(p)
	if err != nil {
		return nil, err
	}
	sortEntries(entries)
	for _, e := range entries {
		sub, err := capture(fsys, path.Join(p, e.Name))
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}

// isWithin reports whether p is dir or inside it.
func isWithin(p, dir string) bool {
	return p == dir || len(p) > len(dir) && p[:len(dir)] == dir && p[len(dir)] == '/'
}

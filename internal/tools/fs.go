package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// MaxFileSize caps what read_file returns.
const MaxFileSize = 10 << 20

var ErrTooLarge = errors.New("exceeds size limit")

// ReadFile returns the contents of a file under Root. Paths are resolved
// relative to Root and may not escape it, through ".." or symlinks.
type ReadFile struct {
	Root string
}

func (ReadFile) Name() string { return "read_file" }

func (ReadFile) Description() string {
	return "Reads a text file from the sandboxed directory"
}

type fileContent struct {
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	Content string `json:"content"`
}

func (t ReadFile) Call(ctx context.Context, args map[string]any) (any, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	root, err := openRoot(t.Root)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	f, err := root.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%s: %w of %d bytes", path, ErrTooLarge, MaxFileSize)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(f, MaxFileSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("%s: %w of %d bytes", path, ErrTooLarge, MaxFileSize)
	}
	return fileContent{Path: path, Size: int64(len(data)), Content: string(data)}, nil
}

// ListDir lists a directory under Root with the same sandboxing as
// ReadFile. An empty path lists Root itself.
type ListDir struct {
	Root string
}

func (ListDir) Name() string { return "list_dir" }

func (ListDir) Description() string {
	return "Lists the entries of a directory in the sandbox"
}

type dirEntry struct {
	Name     string    `json:"name"`
	IsDir    bool      `json:"is_dir"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

type dirListing struct {
	Directory string     `json:"directory"`
	Entries   []dirEntry `json:"entries"`
	Count     int        `json:"count"`
}

func (t ListDir) Call(ctx context.Context, args map[string]any) (any, error) {
	path := "."
	if v, ok := args["path"].(string); ok && v != "" {
		path = v
	}
	root, err := openRoot(t.Root)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	f, err := root.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	des, err := f.ReadDir(-1)
	if err != nil {
		return nil, err
	}
	out := dirListing{Directory: path, Entries: make([]dirEntry, 0, len(des))}
	for _, de := range des {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := de.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		out.Entries = append(out.Entries, dirEntry{
			Name:     de.Name(),
			IsDir:    de.IsDir(),
			Size:     info.Size(),
			Modified: info.ModTime().UTC(),
		})
	}
	out.Count = len(out.Entries)
	return out, nil
}

func openRoot(dir string) (*os.Root, error) {
	if dir == "" {
		dir = "."
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open sandbox: %w", err)
	}
	return root, nil
}

func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("missing string argument %q", name)
	}
	return v, nil
}

// internal/service/modules/files/files.go
package files

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"arrowhead-go/internal/codec"
	"arrowhead-go/internal/protocol"
	"arrowhead-go/internal/service"
)

const Prefix = "/files"

type Entry struct {
	Name  string `json:"name" xml:"name"`
	Dir   bool   `json:"dir" xml:"dir"`
	Bytes int64  `json:"bytes" xml:"bytes"`
}

// Listing answers a request for a directory.
type Listing struct {
	XMLName xml.Name `json:"-" xml:"listing"`
	Path    string   `json:"path" xml:"path"`
	Entries []Entry  `json:"entries" xml:"entry"`
}

// Module serves the tree under a root directory. Files go out as file
// bodies; directories as listings in the negotiated encoding.
type Module struct {
	root string
	// real is root with symlinks resolved; served paths must stay under it
	real string
}

func New(root string) *Module {
	return &Module{root: root}
}

func (m *Module) Name() string { return "files" }

func (m *Module) Init() error {
	abs, err := filepath.Abs(m.root)
	if err != nil {
		return fmt.Errorf("files root %q: %w", m.root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("files root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("files root %s is not a directory", abs)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return fmt.Errorf("files root: %w", err)
	}
	m.root = abs
	m.real = real
	return nil
}

func (m *Module) Services() ([]*service.Definition, error) {
	def, err := service.NewDefinition(service.Params{
		Name:      "files",
		Pattern:   Prefix,
		Methods:   []protocol.Method{protocol.MethodGet, protocol.MethodHead},
		Encodings: []codec.Encoding{codec.JSON, codec.XML},
		Handler:   service.HandlerFunc(m.serve).Async(),
	})
	if err != nil {
		return nil, err
	}
	return []*service.Definition{def}, nil
}

// resolve maps a request path under Prefix into the root. Cleaning the
// rooted path drops any ".." that would climb out of it.
func (m *Module) resolve(requestPath string) (string, string) {
	rel := strings.TrimPrefix(requestPath, Prefix)
	rel = path.Clean("/" + rel)
	return rel, filepath.Join(m.root, filepath.FromSlash(rel))
}

// contains reports whether full, after following symlinks, is still
// inside the root.
func (m *Module) contains(full string) bool {
	real, err := filepath.EvalSymlinks(full)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(m.real, real)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func notFound(resp *service.Response, rel string) {
	resp.SetError(protocol.StatusNotFound, service.ErrorResponse{
		Message: "no such file: " + rel,
		Type:    "NOT_FOUND",
	})
}

func (m *Module) serve(req *service.Request, resp *service.Response) error {
	rel, full := m.resolve(req.Path())
	info, err := os.Stat(full)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		notFound(resp, rel)
		return nil
	case err != nil:
		return err
	}
	if !m.contains(full) {
		notFound(resp, rel)
		return nil
	}

	if !info.IsDir() {
		resp.SetStatus(protocol.StatusOK).SetFile(full)
		return nil
	}

	dirEntries, err := os.ReadDir(full)
	if err != nil {
		return err
	}
	listing := Listing{Path: rel, Entries: make([]Entry, 0, len(dirEntries))}
	for _, de := range dirEntries {
		e := Entry{Name: de.Name(), Dir: de.IsDir()}
		if fi, err := de.Info(); err == nil && !de.IsDir() {
			e.Bytes = fi.Size()
		}
		listing.Entries = append(listing.Entries, e)
	}
	resp.SetStatus(protocol.StatusOK).SetValue(listing)
	return nil
}

package main

import (
	"embed"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/flosch/pongo2/v6"
	"github.com/labstack/echo/v4"
)

//go:embed templates/*
var TemplateFS embed.FS

// Renderer serves pongo2 templates out of the embedded filesystem. In
// debug mode templates are reparsed from disk on every request.
type Renderer struct {
	dir   string
	fs    *embed.FS
	debug bool

	lk    sync.Mutex
	cache map[string]*pongo2.Template
}

func NewRenderer(dir string, fsys *embed.FS, debug bool) *Renderer {
	return &Renderer{
		dir:   dir,
		fs:    fsys,
		debug: debug,
		cache: make(map[string]*pongo2.Template),
	}
}

func (r *Renderer) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	var ctx pongo2.Context
	if data != nil {
		var ok bool
		ctx, ok = data.(pongo2.Context)
		if !ok {
			return fmt.Errorf("template data must be a pongo2.Context, got %T", data)
		}
	}
	tpl, err := r.template(name)
	if err != nil {
		return err
	}
	return tpl.ExecuteWriter(ctx, w)
}

func (r *Renderer) template(name string) (*pongo2.Template, error) {
	if r.debug {
		return pongo2.FromFile(path.Join(r.dir, name))
	}

	r.lk.Lock()
	defer r.lk.Unlock()
	if tpl, ok := r.cache[name]; ok {
		return tpl, nil
	}
	raw, err := r.fs.ReadFile(path.Join(r.dir, name))
	if err != nil {
		return nil, fmt.Errorf("unknown template %s: %w", name, err)
	}
	tpl, err := pongo2.FromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing template %s: %w", name, err)
	}
	r.cache[name] = tpl
	return tpl, nil
}

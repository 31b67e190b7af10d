// Package controllers implements the demo application's handlers.
package controllers

import (
	"maps"
	"net/http"
	"strconv"

	"github.com/minifast/minifast/app/models"
	"github.com/minifast/minifast/db"
	"github.com/minifast/minifast/db/query"
	"github.com/minifast/minifast/dbstrings"
	"github.com/minifast/minifast/httperror"
	"github.com/minifast/minifast/router"
	"github.com/minifast/minifast/view"
)

// Home renders the landing page.
type Home struct {
	views *view.Renderer
}

// HomeDeps are the services Home needs.
type HomeDeps struct {
	Views *view.Renderer `inject:"views,required"`
}

// NewHome returns the Home controller.
func NewHome(d HomeDeps) *Home { return &Home{views: d.Views} }

// Index renders the home view.
func (h *Home) Index(c *router.Call) error {
	html, err := h.views.Render("home", map[string]any{"Title": "Halaman Home"})
	if err != nil {
		return err
	}
	return c.HTML(http.StatusOK, html)
}

// Biaya exposes CRUD over the biaya table.
type Biaya struct {
	model *models.BiayaModel
}

// BiayaDeps are the services Biaya needs.
type BiayaDeps struct {
	DB *db.Manager `inject:"db,required"`
}

// NewBiaya returns the Biaya controller bound to the default connection.
func NewBiaya(d BiayaDeps) (*Biaya, error) {
	m, err := models.NewBiayaModel(d.DB)
	if err != nil {
		return nil, err
	}
	return &Biaya{model: m}, nil
}

// Result lists rows. ?limit=, ?offset= and ?order= are optional.
func (b *Biaya) Result(c *router.Call) error {
	opts := models.ListOptions{Limit: -1, OrderBy: []string{models.BiayaKey}}
	q := c.Request.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return httperror.BadRequest("limit must be a non-negative integer")
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return httperror.BadRequest("offset must be a non-negative integer")
		}
		opts.Offset = n
	}
	if v := q.Get("order"); v != "" {
		dir := "ASC"
		if v[0] == '-' {
			dir, v = "DESC", v[1:]
		}
		if !dbstrings.IsIdentifier(v) {
			return httperror.BadRequestf("invalid order column %q", v)
		}
		opts.OrderBy = []string{v + " " + dir}
	}

	rows, err := b.model.Result(c.Context(), opts)
	if err != nil {
		return err
	}
	return c.Success(rows)
}

// Row returns the row named by :idBiaya, or 404.
func (b *Biaya) Row(c *router.Call) error {
	id, err := key(c)
	if err != nil {
		return err
	}
	row, err := b.model.Row(c.Context(), query.C(models.BiayaKey, id))
	if err != nil {
		return err
	}
	if row == nil {
		return httperror.NotFoundf("biaya %d not found", id)
	}
	return c.Success(row)
}

// Insert creates a row from the body fields and answers 201 with its id.
func (b *Biaya) Insert(c *router.Call) error {
	id, err := b.model.Insert(c.Context(), c.Fields)
	if err != nil {
		return err
	}
	return c.Inserted(id)
}

// Update changes the row named by :idBiaya. The key itself is never updated.
func (b *Biaya) Update(c *router.Call) error {
	id, err := key(c)
	if err != nil {
		return err
	}
	data := maps.Clone(c.Fields)
	delete(data, models.BiayaKey)
	ok, err := b.model.Update(c.Context(), query.C(models.BiayaKey, id), data)
	if err != nil {
		return err
	}
	return c.Done(ok)
}

// Delete removes the row named by :idBiaya.
func (b *Biaya) Delete(c *router.Call) error {
	id, err := key(c)
	if err != nil {
		return err
	}
	ok, err := b.model.Delete(c.Context(), query.C(models.BiayaKey, id))
	if err != nil {
		return err
	}
	return c.Done(ok)
}

// key reads the row id from the path, not from a body field of the same name.
func key(c *router.Call) (int64, error) {
	id, err := strconv.ParseInt(c.PathParams[models.BiayaKey], 10, 64)
	if err != nil {
		return 0, httperror.BadRequestf("%s must be an integer", models.BiayaKey)
	}
	return id, nil
}

// File is a placeholder resource.
type File struct{}

// NewFile returns the File controller.
func NewFile() *File { return &File{} }

// Index always answers 404.
func (f *File) Index(c *router.Call) error {
	return httperror.NotFound("Not found")
}

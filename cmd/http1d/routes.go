package main

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	http1 "github.com/widaT/http1core"
)

func registerRoutes(r *http1.Router, store *Store, static string, maxBody int64) {
	r.Use(http1.MaxBodySize(maxBody)).Named("max-body")

	r.GET("/hello", func(c *http1.Context) (*http1.Response, error) {
		return c.Text(http1.StatusOK, "Hello, World!")
	})

	r.GET("/items", func(c *http1.Context) (*http1.Response, error) {
		var sb strings.Builder
		for _, it := range store.List() {
			sb.WriteString(strconv.FormatUint(it.ID, 10))
			sb.WriteByte('\t')
			sb.WriteString(it.Name)
			sb.WriteByte('\n')
		}
		return c.Text(http1.StatusOK, sb.String())
	})

	r.GET("/items/new", func(c *http1.Context) (*http1.Response, error) {
		return c.Text(http1.StatusOK, "POST /items with the item name as body\n")
	})

	r.POST("/items", func(c *http1.Context) (*http1.Response, error) {
		name := strings.TrimSpace(string(c.Request().Body()))
		it := store.Add(name)
		loc := "/items/" + strconv.FormatUint(it.ID, 10)
		return c.Respond().
			Status(http1.StatusCreated).
			Header(http1.HeaderLocation, loc).
			Text(loc + "\n").
			Build()
	}).Use(http1.RequireContentType("text/plain"), nonEmptyBody)

	r.GET("/items/:id", func(c *http1.Context) (*http1.Response, error) {
		id, err := itemID(c)
		if err != nil {
			return nil, err
		}
		it, err := store.Get(id)
		if err != nil {
			return c.Error(http1.StatusNotFound, "no item %d", id)
		}
		return c.Text(http1.StatusOK, it.Name+"\n")
	})

	r.DELETE("/items/:id", func(c *http1.Context) (*http1.Response, error) {
		id, err := itemID(c)
		if err != nil {
			return nil, err
		}
		if err := store.Delete(id); err != nil {
			if errors.Is(err, errNotFound) {
				return c.Error(http1.StatusNotFound, "no item %d", id)
			}
			return nil, err
		}
		return c.Respond().Status(http1.StatusNoContent).Build()
	})

	if static != "" {
		r.GET("/static/*path", func(c *http1.Context) (*http1.Response, error) {
			p := filepath.Join(static, filepath.FromSlash(filepath.Clean("/"+c.Param("path"))))
			resp, err := c.Respond().File(p).Build()
			if err != nil {
				return c.Error(http1.StatusNotFound, "%s not found", c.Param("path"))
			}
			return resp, nil
		})
	}
}

func itemID(c *http1.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return 0, http1.NewStatusError(http1.StatusBadRequest, "bad item id %q", c.Param("id"))
	}
	return id, nil
}

func nonEmptyBody(r *http1.Request) error {
	if len(strings.TrimSpace(string(r.Body()))) == 0 {
		return http1.Invalid(http1.StatusUnprocessableEntity, "item name is empty")
	}
	return nil
}

package svn

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// davTree is a fake mod_dav_svn: directories end in "/", files map to content.
type davTree map[string]string

func (tree davTree) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "PROPFIND":
		if r.Header.Get("Depth") != "1" {
			http.Error(w, "depth", http.StatusBadRequest)
			return
		}
		dir := r.URL.Path
		if _, ok := tree[dir]; !ok || !strings.HasSuffix(dir, "/") {
			http.NotFound(w, r)
			return
		}
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="utf-8"?><D:multistatus xmlns:D="DAV:">`)
		writeResp := func(href string, collection bool) {
			rt := "<D:resourcetype/>"
			if collection {
				rt = "<D:resourcetype><D:collection/></D:resourcetype>"
			}
			fmt.Fprintf(&b, `<D:response><D:href>%s</D:href><D:propstat><D:prop>%s</D:prop><D:status>HTTP/1.1 200 OK</D:status></D:propstat></D:response>`, href, rt)
		}
		writeResp(dir, true)
		for p := range tree {
			if p == dir || !strings.HasPrefix(p, dir) {
				continue
			}
			rest := strings.TrimSuffix(strings.TrimPrefix(p, dir), "/")
			if strings.Contains(rest, "/") {
				continue
			}
			writeResp(p, strings.HasSuffix(p, "/"))
		}
		b.WriteString(`</D:multistatus>`)
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = w.Write([]byte(b.String()))
	case http.MethodGet:
		body, ok := tree[r.URL.Path]
		if !ok || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	default:
		http.Error(w, "method", http.StatusMethodNotAllowed)
	}
}

func TestExport(t *testing.T) {
	tree := davTree{
		"/svn/boost/sandbox/numeric_bindings/":                        "",
		"/svn/boost/sandbox/numeric_bindings/Jamfile":                 "project numeric_bindings ;\n",
		"/svn/boost/sandbox/numeric_bindings/boost/":                  "",
		"/svn/boost/sandbox/numeric_bindings/boost/numeric/":          "",
		"/svn/boost/sandbox/numeric_bindings/boost/numeric/lapack.hpp": "#pragma once\n",
	}
	srv := httptest.NewServer(tree)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "numeric_bindings")
	err := Export(context.Background(), srv.Client(), srv.URL+"/svn/boost/sandbox/numeric_bindings/", dest)
	require.NoError(t, err)

	body, err := os.ReadFile(filepath.Join(dest, "boost", "numeric", "lapack.hpp"))
	require.NoError(t, err)
	assert.Equal(t, "#pragma once\n", string(body))
	assert.FileExists(t, filepath.Join(dest, "Jamfile"))
}

func TestExportMissingTree(t *testing.T) {
	srv := httptest.NewServer(davTree{})
	defer srv.Close()

	err := Export(context.Background(), srv.Client(), srv.URL+"/svn/nothing/", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestExportEmptyTree(t *testing.T) {
	srv := httptest.NewServer(davTree{"/svn/empty/": ""})
	defer srv.Close()

	err := Export(context.Background(), srv.Client(), srv.URL+"/svn/empty/", t.TempDir())
	assert.ErrorContains(t, err, "no files found")
}

// Package server contains misc server utilities shared by the HTTP surfaces.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-chi/chi"
	log "github.com/sirupsen/logrus"

	"github.com/ptcchamber/chamberlab/util"
)

// FloatT is a struct with a single F64 field
type FloatT struct {
	F64 float64 `json:"f64"`
}

// BoolT is a struct with a single Bool field
type BoolT struct {
	Bool bool `json:"bool"`
}

// EncodeAndRespond writes v as JSON with a 200 status, or a 500 if it cannot be encoded
func EncodeAndRespond(w http.ResponseWriter, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		fstr := fmt.Sprintf("error encoding data to json %q", err)
		log.Error(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(append(b, '\n'))
}

// ReplyWithFile replies to the client request by serving the given file name
func ReplyWithFile(w http.ResponseWriter, r *http.Request, fn string, fldr string) {
	filePath, err := filepath.Abs(filepath.Join(fldr, fn))
	if err != nil {
		fstr := fmt.Sprintf("unable to compute abspath of file %s %s %s", fldr, fn, err)
		log.Error(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
		return
	}

	f, err := os.Open(filePath)
	if err != nil {
		fstr := fmt.Sprintf("source file missing %s", filePath)
		log.Warn(fstr)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		fstr := fmt.Sprintf("error retrieving source file stats %s", err)
		log.Error(fstr)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	http.ServeContent(w, r, fn, stat.ModTime(), f)
}

// MethodPath is a (method, path) pair, the key of a RouteTable
type MethodPath struct {
	Method string
	Path   string
}

// Get is shorthand for a GET route
func Get(path string) MethodPath { return MethodPath{http.MethodGet, path} }

// Post is shorthand for a POST route
func Post(path string) MethodPath { return MethodPath{http.MethodPost, path} }

// RouteTable maps (method, path) pairs to handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Endpoints lists the paths in a RouteTable, sorted and without duplicates
func (rt RouteTable) Endpoints() []string {
	routes := make([]string, 0, len(rt))
	for k := range rt {
		routes = append(routes, k.Path)
	}
	routes = util.UniqueString(routes)
	sort.Strings(routes)
	return routes
}

// Bind adds every route in the table to r
func (rt RouteTable) Bind(r chi.Router) {
	for k, h := range rt {
		r.MethodFunc(k.Method, k.Path, h)
	}
}

// HTTPer is an object which has a route table
type HTTPer interface {
	RT() RouteTable
}

// ListOfRoutes returns a handler that responds with the sorted endpoints of rt as JSON
func ListOfRoutes(rt RouteTable) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		EncodeAndRespond(w, rt.Endpoints())
	}
}

// SubMuxSanitize converts a URL stem into a form suitable to mount a
// sub router on, "bench" and "/bench/" both become "/bench"
func SubMuxSanitize(str string) string {
	return "/" + strings.Trim(str, "/")
}

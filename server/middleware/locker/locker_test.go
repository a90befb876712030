package locker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"

	"github.com/ptcchamber/chamberlab/server"
)

func router(l *Locker) chi.Router {
	rt := server.RouteTable{
		server.Post("/temperature-setpoint"): func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
		server.Get("/temperature"): func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	}
	Inject(rt, l)
	r := chi.NewRouter()
	r.Use(l.Check)
	rt.Bind(r)
	return r
}

func do(r http.Handler, method, path, body string) int {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec.Code
}

func TestLockBouncesWrites(t *testing.T) {
	l := New()
	r := router(l)

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/temperature-setpoint", `{"f64":40}`))
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/lock", `{"bool":true}`))
	assert.True(t, l.Locked())

	assert.Equal(t, http.StatusLocked, do(r, http.MethodPost, "/temperature-setpoint", `{"f64":40}`))
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/temperature", ""))

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/lock", `{"bool":false}`))
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/temperature-setpoint", `{"f64":40}`))
}

func TestLockBadBody(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, do(router(New()), http.MethodPost, "/lock", `nope`))
}

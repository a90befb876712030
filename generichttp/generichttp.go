// Package generichttp wraps getter and setter functions in HTTP handlers
// speaking small JSON envelopes: {"f64": v} and {"bool": b}.
package generichttp

import (
	"encoding/json"
	"net/http"

	"github.com/ptcchamber/chamberlab/server"
)

// get serves the value of fcn wrapped by wrap
func get[T, E any](fcn func() (T, error), wrap func(T) E) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		server.EncodeAndRespond(w, wrap(v))
	}
}

// set decodes an envelope E from the body and calls fcn with its payload
func set[T, E any](fcn func(T) error, unwrap func(E) T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var env E
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := fcn(unwrap(env)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetFloat responds with {"f64": fcn()}
func GetFloat(fcn func() (float64, error)) http.HandlerFunc {
	return get(fcn, func(f float64) server.FloatT { return server.FloatT{F64: f} })
}

// SetFloat calls fcn with the value of a {"f64": v} body
func SetFloat(fcn func(float64) error) http.HandlerFunc {
	return set(fcn, func(e server.FloatT) float64 { return e.F64 })
}

// GetBool responds with {"bool": fcn()}
func GetBool(fcn func() (bool, error)) http.HandlerFunc {
	return get(fcn, func(b bool) server.BoolT { return server.BoolT{Bool: b} })
}

// SetBool calls fcn with the value of a {"bool": b} body
func SetBool(fcn func(bool) error) http.HandlerFunc {
	return set(fcn, func(e server.BoolT) bool { return e.Bool })
}

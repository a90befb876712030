// Package locker provides an HTTP middleware which allows a group of routes to be locked, returning 423 (locked)
package locker

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/ptcchamber/chamberlab/server"
)

// Inject adds a lock route to a route table which is used to manipulate the locker
func Inject(rt server.RouteTable, l *Locker) {
	rt[server.Get("/lock")] = l.HTTPGet
	rt[server.Post("/lock")] = l.HTTPSet
}

// Locker behaves like a sync.Mutex without the blocking.  While locked,
// write requests to protected paths are bounced.  Clients take the lock over
// its HTTP endpoint while they run something the setpoint must not change under.
type Locker struct {
	mu       sync.RWMutex
	isLocked bool

	// DoNotProtect is a list of path fragments the lock does not apply to
	DoNotProtect []string
}

// New returns a new Locker with DoNotProtect prepopulated with "lock"
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock"}}
}

// Lock the locker
func (l *Locker) Lock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.isLocked = true
}

// Unlock the locker
func (l *Locker) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.isLocked = false
}

// Locked returns true if the locker is locked
func (l *Locker) Locked() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isLocked
}

// Check is an HTTP middleware that returns http.StatusLocked for non-GET
// requests to protected paths if Locked() is true, otherwise passes down the line
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Locked() && r.Method != http.MethodGet {
			protected := true
			for _, str := range l.DoNotProtect {
				if strings.Contains(r.URL.Path, str) {
					protected = false
				}
			}
			if protected {
				w.WriteHeader(http.StatusLocked)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet calls Lock or Unlock based on {"bool": ...} in the request body
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	b := server.BoolT{}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Bool {
		l.Lock()
	} else {
		l.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns Locked() over HTTP as {"bool": ...}
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	server.EncodeAndRespond(w, server.BoolT{Bool: l.Locked()})
}

package dnstest

import (
	"net/http"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// HostOverride is one Unbound host override as stored by the fake.
type HostOverride struct {
	Enabled     string `json:"enabled"`
	Hostname    string `json:"hostname"`
	Domain      string `json:"domain"`
	RR          string `json:"rr"`
	Server      string `json:"server"`
	TXTData     string `json:"txtdata"`
	Description string `json:"description"`
	MXPrio      string `json:"mxprio"`
	MX          string `json:"mx"`
}

// OPNsense is a minimal in-memory OPNsense Unbound API mounted under /api.
// It accepts either basic auth with Key/Secret or a bearer Token.
type OPNsense struct {
	rateLimiter

	Key, Secret, Token string

	mu     sync.Mutex
	store  map[string]HostOverride
	calls  []string
	router chi.Router
}

// NewOPNsense returns a fake accepting the given credentials.
func NewOPNsense(key, secret, token string) *OPNsense {
	f := &OPNsense{Key: key, Secret: secret, Token: token, store: map[string]HostOverride{}}

	r := chi.NewRouter()
	r.Use(f.record, f.rateLimiter.middleware, f.auth)
	r.Route("/api/unbound", func(r chi.Router) {
		r.Get("/settings/searchHostOverride", f.handleSearch)
		r.Post("/settings/addHostOverride", f.handleAdd)
		r.Post("/settings/setHostOverride/{uuid}", f.handleSet)
		r.Post("/settings/delHostOverride/{uuid}", f.handleDel)
		r.Post("/service/reconfigure", f.handleReconfigure)
	})
	f.router = r
	return f
}

func (f *OPNsense) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.router.ServeHTTP(w, r)
}

// Calls returns "METHOD /path" for every request received, in order.
func (f *OPNsense) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Overrides returns a snapshot of the stored host overrides.
func (f *OPNsense) Overrides() map[string]HostOverride {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]HostOverride, len(f.store))
	for k, v := range f.store {
		out[k] = v
	}
	return out
}

func (f *OPNsense) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)
		f.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (f *OPNsense) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.Token != "" && r.Header.Get("Authorization") == "Bearer "+f.Token {
			next.ServeHTTP(w, r)
			return
		}
		if key, secret, ok := r.BasicAuth(); ok && f.Key != "" && key == f.Key && secret == f.Secret {
			next.ServeHTTP(w, r)
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"status": http.StatusUnauthorized, "message": "Authentication Failed"})
	})
}

func (f *OPNsense) handleSearch(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	type row struct {
		UUID string `json:"uuid"`
		HostOverride
	}
	rows := []row{}
	for id, h := range f.store {
		rows = append(rows, row{UUID: id, HostOverride: h})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UUID < rows[j].UUID })
	writeJSON(w, http.StatusOK, map[string]interface{}{"rows": rows, "total": len(rows)})
}

func (f *OPNsense) handleAdd(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Host HostOverride `json:"host"`
	}
	if err := readJSON(r, &payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := uuid.NewString()
	f.mu.Lock()
	f.store[id] = payload.Host
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"result": "saved", "uuid": id})
}

func (f *OPNsense) handleSet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "uuid")
	var payload struct {
		Host HostOverride `json:"host"`
	}
	if err := readJSON(r, &payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.store[id]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"result": "not found"})
		return
	}
	f.store[id] = payload.Host
	writeJSON(w, http.StatusOK, map[string]string{"result": "saved"})
}

func (f *OPNsense) handleDel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "uuid")

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.store[id]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"result": "not found"})
		return
	}
	delete(f.store, id)
	writeJSON(w, http.StatusOK, map[string]string{"result": "deleted"})
}

func (f *OPNsense) handleReconfigure(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

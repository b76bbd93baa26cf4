package dnstest

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// HetznerRecord is one record as stored by the fake.
type HetznerRecord struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	TTL    int    `json:"ttl,omitempty"`
	Type   string `json:"type"`
	Value  string `json:"value"`
	ZoneID string `json:"zone_id"`
}

type hetznerZone struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Hetzner is a minimal in-memory Hetzner DNS API mounted under /api/v1.
type Hetzner struct {
	rateLimiter

	Token string
	// EchoToken makes zone lookups repeat the caller's token in the
	// response body, the way some APIs echo the requesting principal.
	EchoToken bool

	mu      sync.Mutex
	zones   map[string]hetznerZone // by name
	records map[string]HetznerRecord
	router  chi.Router
}

// NewHetzner returns a fake accepting token and managing the given zones.
func NewHetzner(token string, zones ...string) *Hetzner {
	f := &Hetzner{Token: token, zones: map[string]hetznerZone{}, records: map[string]HetznerRecord{}}
	for _, z := range zones {
		f.zones[z] = hetznerZone{ID: uuid.NewString(), Name: z}
	}

	r := chi.NewRouter()
	r.Use(f.rateLimiter.middleware, f.auth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/zones", f.handleZones)
		r.Get("/records", f.handleList)
		r.Post("/records", f.handleCreate)
		r.Put("/records/{id}", f.handleUpdate)
		r.Delete("/records/{id}", f.handleDelete)
	})
	f.router = r
	return f
}

func (f *Hetzner) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.router.ServeHTTP(w, r)
}

// Records returns a snapshot of the stored records.
func (f *Hetzner) Records() []HetznerRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]HetznerRecord, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *Hetzner) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Auth-API-Token") != f.Token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid authentication credentials"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *Hetzner) handleZones(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(r.URL.Query().Get("name"))

	f.mu.Lock()
	defer f.mu.Unlock()
	zones := []hetznerZone{}
	for n, z := range f.zones {
		if name == "" || n == name {
			zones = append(zones, z)
		}
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].Name < zones[j].Name })
	if len(zones) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"zones": zones, "error": map[string]string{"message": "zone not found"}})
		return
	}
	resp := map[string]interface{}{"zones": zones}
	if f.EchoToken {
		resp["meta"] = map[string]string{"requested_by": r.Header.Get("Auth-API-Token")}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (f *Hetzner) handleList(w http.ResponseWriter, r *http.Request) {
	zoneID := r.URL.Query().Get("zone_id")

	f.mu.Lock()
	defer f.mu.Unlock()
	records := []HetznerRecord{}
	for _, rec := range f.records {
		if zoneID == "" || rec.ZoneID == zoneID {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}

func (f *Hetzner) handleCreate(w http.ResponseWriter, r *http.Request) {
	var rec HetznerRecord
	if err := readJSON(r, &rec); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": err.Error()})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.knownZone(rec.ZoneID) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "unknown zone_id"})
		return
	}
	rec.ID = uuid.NewString()
	f.records[rec.ID] = rec
	writeJSON(w, http.StatusOK, map[string]interface{}{"record": rec})
}

func (f *Hetzner) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var rec HetznerRecord
	if err := readJSON(r, &rec); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": err.Error()})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[id]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "record not found"})
		return
	}
	rec.ID = id
	f.records[id] = rec
	writeJSON(w, http.StatusOK, map[string]interface{}{"record": rec})
}

func (f *Hetzner) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[id]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "record not found"})
		return
	}
	delete(f.records, id)
	w.WriteHeader(http.StatusOK)
}

func (f *Hetzner) knownZone(id string) bool {
	for _, z := range f.zones {
		if z.ID == id {
			return true
		}
	}
	return false
}

// Package mockhomelab serves fake Pi-hole, SABnzbd and Sonarr APIs on one
// listener, for demos and manual testing of PulseFeed.
//
// Every service accepts the same API key. Pi-hole counters grow with each
// request, SABnzbd downloads advance and restart, and Sonarr returns a
// calendar of episodes airing around now.
package mockhomelab

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// APIKey is accepted by all mock services.
const APIKey = "demo-api-key"

type download struct {
	id     string
	name   string
	sizeMB float64
	doneMB float64
}

// Homelab holds the state of the mock services.
type Homelab struct {
	logger *slog.Logger

	mu        sync.Mutex
	queries   int
	blocked   int
	downloads []*download
}

// New returns a Homelab with a few downloads queued.
func New(logger *slog.Logger) *Homelab {
	if logger == nil {
		logger = slog.Default()
	}
	return &Homelab{
		logger:  logger,
		queries: 12000,
		blocked: 1800,
		downloads: []*download{
			{id: "SABnzbd_nzo_1", name: "ubuntu-24.04-desktop-amd64.iso", sizeMB: 5800},
			{id: "SABnzbd_nzo_2", name: "debian-12.5.0-amd64-netinst.iso", sizeMB: 630},
			{id: "SABnzbd_nzo_3", name: "Big.Buck.Bunny.1080p.mkv", sizeMB: 2100},
		},
	}
}

// Handler routes the three services.
func (h *Homelab) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/admin/api.php", h.handlePiHole)
	r.Get("/api", h.handleSABnzbd)
	r.Get("/api/v3/calendar", h.handleSonarr)
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func (h *Homelab) handlePiHole(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("auth") != APIKey {
		// Pi-hole answers unauthenticated requests with an empty array
		writeJSON(w, []any{})
		return
	}

	h.mu.Lock()
	h.queries += 20 + rand.Intn(200)
	h.blocked += rand.Intn(40)
	queries, blocked := h.queries, h.blocked
	h.mu.Unlock()

	writeJSON(w, map[string]any{
		"status":                "enabled",
		"domains_being_blocked": 145230,
		"dns_queries_today":     queries,
		"ads_blocked_today":     blocked,
		"ads_percentage_today":  float64(blocked) * 100 / float64(queries),
	})
}

func (h *Homelab) handleSABnzbd(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("apikey") != APIKey {
		writeJSON(w, map[string]any{"status": false, "error": "API Key Incorrect"})
		return
	}
	if q.Get("mode") != "queue" {
		writeJSON(w, map[string]any{"status": false, "error": "not implemented"})
		return
	}

	speedKB := 2000 + rand.Float64()*6000

	h.mu.Lock()
	var leftMB float64
	slots := make([]map[string]string, 0, len(h.downloads))
	for i, d := range h.downloads {
		status := "Queued"
		if i == 0 {
			status = "Downloading"
			d.doneMB += speedKB / 1024 * 5
			if d.doneMB >= d.sizeMB {
				h.logger.Info("download finished", "name", d.name)
				d.doneMB = 0
			}
		}
		left := d.sizeMB - d.doneMB
		leftMB += left
		slots = append(slots, map[string]string{
			"nzo_id":     d.id,
			"filename":   d.name,
			"status":     status,
			"percentage": strconv.Itoa(int(d.doneMB * 100 / d.sizeMB)),
			"mb":         fmt.Sprintf("%.2f", d.sizeMB),
			"mbleft":     fmt.Sprintf("%.2f", left),
		})
	}
	h.mu.Unlock()

	writeJSON(w, map[string]any{
		"queue": map[string]any{
			"paused":   false,
			"kbpersec": fmt.Sprintf("%.2f", speedKB),
			"mbleft":   fmt.Sprintf("%.2f", leftMB),
			"slots":    slots,
		},
	})
}

var series = []string{"Severance", "The Expanse", "Silo", "Andor"}

func (h *Homelab) handleSonarr(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Api-Key") != APIKey {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		start = time.Now().Add(-24 * time.Hour)
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		end = start.Add(7 * 24 * time.Hour)
	}

	// one episode per series per day, at 21:00 UTC
	var episodes []map[string]any
	day := start.UTC().Truncate(24 * time.Hour)
	for n := 0; !day.After(end); n++ {
		airDate := day.Add(21 * time.Hour)
		if !airDate.Before(start) && !airDate.After(end) {
			title := series[n%len(series)]
			episodes = append(episodes, map[string]any{
				"title":         fmt.Sprintf("Episode %d", n+1),
				"seasonNumber":  1 + n/10,
				"episodeNumber": 1 + n%10,
				"airDateUtc":    airDate.Format(time.RFC3339),
				"hasFile":       airDate.Before(time.Now()),
				"series":        map[string]string{"title": title},
			})
		}
		day = day.Add(24 * time.Hour)
	}
	if episodes == nil {
		episodes = []map[string]any{}
	}

	writeJSON(w, episodes)
}

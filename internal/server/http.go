package server

import (
	"encoding/json"
	"image/png"
	"net/http"
	"strconv"

	"github.com/go-gl/mathgl/mgl64"
)

type biomeResponse struct {
	Primary       string     `json:"primary"`
	Secondary     string     `json:"secondary,omitempty"`
	Weight        float64    `json:"weight"`
	PrimarySite   [2]float64 `json:"primarySite"`
	SecondarySite [2]float64 `json:"secondarySite"`
	BlendWidth    float64    `json:"blendWidth"`
	Underwater    *float64   `json:"underwater,omitempty"`
	Mountain      *float64   `json:"mountain,omitempty"`
}

// Handler returns the debug API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/chunks", s.handleChunks)
	mux.HandleFunc("/biome", s.handleBiome)
	mux.HandleFunc("/map.png", s.handleMap)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.Snapshot()
	body := map[string]any{"status": "ok", "id": snap.ID}
	status := http.StatusOK
	switch {
	case snap.Degraded != "":
		body["status"] = "degraded"
		body["error"] = snap.Degraded
		status = http.StatusServiceUnavailable
	case !snap.Ready:
		body["status"] = "loading"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleChunks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Snapshot())
}

func (s *Server) handleBiome(w http.ResponseWriter, r *http.Request) {
	if s.field == nil {
		http.Error(w, "terrain generation disabled", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	xStr := q.Get("x")
	zStr := q.Get("z")
	if xStr == "" || zStr == "" {
		http.Error(w, "x and z query parameters required", http.StatusBadRequest)
		return
	}
	x, err := strconv.ParseFloat(xStr, 64)
	if err != nil {
		http.Error(w, "invalid x parameter", http.StatusBadRequest)
		return
	}
	z, err := strconv.ParseFloat(zStr, 64)
	if err != nil {
		http.Error(w, "invalid z parameter", http.StatusBadRequest)
		return
	}

	blend := s.field.ResolveBlend(x, z)
	resp := biomeResponse{
		Weight:        blend.Weight,
		PrimarySite:   [2]float64(blend.PrimarySite),
		SecondarySite: [2]float64(blend.SecondarySite),
		BlendWidth:    blend.BlendWidth,
	}
	if blend.Primary != nil {
		resp.Primary = blend.Primary.Name
	}
	if blend.Secondary != nil {
		resp.Secondary = blend.Secondary.Name
	}
	if yStr := q.Get("y"); yStr != "" {
		y, err := strconv.ParseFloat(yStr, 64)
		if err != nil {
			http.Error(w, "invalid y parameter", http.StatusBadRequest)
			return
		}
		overlay := s.field.ResolveOverlay(y)
		resp.Underwater = &overlay.Underwater
		resp.Mountain = &overlay.Mountain
	}
	writeJSON(w, resp)
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	if s.degraded != nil {
		http.Error(w, "terrain generation disabled", http.StatusServiceUnavailable)
		return
	}
	req := s.MapRequest()
	q := r.URL.Query()
	if v := q.Get("resolution"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid resolution parameter", http.StatusBadRequest)
			return
		}
		req.Resolution = n
	}
	if v := q.Get("span"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			http.Error(w, "invalid span parameter", http.StatusBadRequest)
			return
		}
		req.Span = f
	}
	if xs, zs := q.Get("x"), q.Get("z"); xs != "" || zs != "" {
		x, errX := strconv.ParseFloat(xs, 64)
		z, errZ := strconv.ParseFloat(zs, 64)
		if errX != nil || errZ != nil {
			http.Error(w, "x and z must both be numbers", http.StatusBadRequest)
			return
		}
		req.Center = mgl64.Vec2{x, z}
	}

	img, err := s.RenderMap(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, img); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

/*
co2-monitor - Continuous CO2/temperature/humidity monitoring.
Copyright (C) 2025, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package co2monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TheCacophonyProject/co2-monitor/acquisition"
	"github.com/TheCacophonyProject/co2-monitor/calibration"
	"github.com/TheCacophonyProject/co2-monitor/history"
	"github.com/TheCacophonyProject/co2-monitor/sample"
	"github.com/TheCacophonyProject/co2-monitor/samplestore"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Local read-only interface.
	},
}

// apiServer is the read-only query surface for the web UI. All data
// flows through the store/querier contracts, handlers never reach into
// the log files directly.
type apiServer struct {
	store     *samplestore.Store
	querier   *history.Querier
	ctrl      *calibration.Controller
	loop      *acquisition.Loop
	staticDir string
	hub       *wsHub
}

func newAPIServer(store *samplestore.Store, querier *history.Querier, ctrl *calibration.Controller, loop *acquisition.Loop, staticDir string) *apiServer {
	return &apiServer{
		store:     store,
		querier:   querier,
		ctrl:      ctrl,
		loop:      loop,
		staticDir: staticDir,
		hub:       newWSHub(),
	}
}

func (a *apiServer) listen(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/latest", a.handleLatest)
	mux.HandleFunc("/api/recent", a.handleRecent)
	mux.HandleFunc("/api/history", a.handleHistory)
	mux.HandleFunc("/api/range", a.handleRange)
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/calibrate", a.handleCalibrate)
	mux.HandleFunc("/ws", a.handleWS)
	mux.Handle("/", http.FileServer(http.Dir(a.staticDir)))

	log.Infof("API server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("json encode error: %v", err)
	}
}

func (a *apiServer) handleLatest(w http.ResponseWriter, r *http.Request) {
	latest, ok := a.store.Latest()
	if !ok {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, latest)
}

func (a *apiServer) handleRecent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"samples":  a.store.Snapshot(),
		"degraded": a.loop.Degraded(),
	})
}

func (a *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		http.Error(w, "bad start time", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		http.Error(w, "bad end time", http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]interface{}{
		"samples": a.querier.Query(start, end),
	})
}

func (a *apiServer) handleRange(w http.ResponseWriter, r *http.Request) {
	earliest, latest, ok := a.querier.AvailableRange()
	resp := map[string]interface{}{"available": ok}
	if ok {
		resp["earliest"] = earliest.Format(time.RFC3339)
		resp["latest"] = latest.Format(time.RFC3339)
	}
	writeJSON(w, resp)
}

func (a *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"calibration": a.ctrl.Status(),
		"degraded":    a.loop.Degraded(),
	})
}

func (a *apiServer) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]interface{}{
		"accepted": a.ctrl.Request(calibration.SourceRemote),
	})
}

func (a *apiServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("websocket upgrade error: %v", err)
		return
	}
	a.hub.add(conn)
	go func() {
		// Reads are only for detecting the peer going away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				a.hub.remove(conn)
				return
			}
		}
	}()
}

// wsHub pushes each newly published sample to the connected websocket
// clients.
type wsHub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

func newWSHub() *wsHub {
	return &wsHub{conns: make(map[*websocket.Conn]bool)}
}

func (h *wsHub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.conns[conn] = true
	h.mu.Unlock()
}

func (h *wsHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if h.conns[conn] {
		delete(h.conns, conn)
		conn.Close()
	}
	h.mu.Unlock()
}

func (h *wsHub) broadcast(s sample.Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		if err := conn.WriteJSON(s); err != nil {
			log.Debugf("dropping websocket client: %v", err)
			delete(h.conns, conn)
			conn.Close()
		}
	}
}

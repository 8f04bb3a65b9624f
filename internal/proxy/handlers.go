package proxy

import (
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"czcage/internal/settings"
)

var popupTmpl = template.Must(template.New("popup").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>czcage</title></head>
<body>
<h1>czcage</h1>
<form action="/fetch" method="get">
URL: <input name="url" size="60"> <button type="submit">Open</button>
</form>
<h3>Settings</h3>
<form action="/settings" method="post">
<label for="replacementRate">Replacement rate</label>
<input type="range" id="replacementRate" name="replacementRate" min="0" max="100" value="{{.Settings.ReplacementRate}}"
 oninput="document.getElementById('rateValue').textContent = this.value + '%'">
<span id="rateValue">{{.Settings.ReplacementRate}}%</span>
<button type="submit">Save</button>
</form>
<form action="/settings/reset" method="post"><button type="submit">Reset</button></form>
{{if .Status}}<p class="status">{{.Status}}</p>{{end}}
<p>{{.Candidates}} candidate images, {{.Tabs}} open tabs.</p>
</body></html>`))

type popupView struct {
	Settings   settings.Settings
	Status     string
	Candidates int
	Tabs       int
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	cur, err := s.popup.Load(r.Context())
	if err != nil {
		s.logger.Printf("WARN popup: %v", err)
		cur = settings.Default()
	}
	view := popupView{
		Settings:   cur,
		Candidates: s.candidates.Len(),
		Tabs:       s.cfg.Tabs.Len(),
	}
	switch r.URL.Query().Get("status") {
	case "saved":
		view.Status = "Settings saved!"
	case "reset":
		view.Status = "Settings reset to defaults!"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := popupTmpl.Execute(w, view); err != nil {
		s.logger.Printf("popup render: %v", err)
	}
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "pong\n")
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	base := r.FormValue("url")
	if base == "" {
		http.Error(w, "missing url", http.StatusBadRequest)
		return
	}
	target := buildURL(base, r.FormValue("action"), r.FormValue("get"))
	site := s.sites.Find(target)
	s.logger.Printf("IN %s %s from %s -> %s mode=%s", r.Method, r.URL.String(), r.RemoteAddr, target, site.mode())

	doc, err := s.load(r.Context(), r, target, site)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if !doc.IsHTML() {
		http.Redirect(w, r, doc.URL, http.StatusFound)
		return
	}
	out, st, err := s.rewrite(r.Context(), r, doc, site)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.Header().Set("X-Czcage-Replaced", strconv.Itoa(st.Replaced))
	w.WriteHeader(doc.Status)
	_, _ = w.Write(out)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	cur, err := s.popup.Load(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	form := isForm(r)
	update, err := decodeUpdate(r, form)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	saved, err := s.popup.Save(r.Context(), update)
	switch {
	case errors.Is(err, settings.ErrInvalidRate):
		writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if form {
		http.Redirect(w, r, "/?status=saved", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleResetSettings(w http.ResponseWriter, r *http.Request) {
	saved, err := s.popup.Reset(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if isForm(r) {
		http.Redirect(w, r, "/?status=reset", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleTabs(w http.ResponseWriter, _ *http.Request) {
	active, _ := s.cfg.Tabs.Active()
	writeJSON(w, http.StatusOK, map[string]any{
		"open":   s.cfg.Tabs.Len(),
		"active": active,
	})
}

func isForm(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "application/x-www-form-urlencoded" || mt == "multipart/form-data"
}

func decodeUpdate(r *http.Request, form bool) (settings.Partial, error) {
	var p settings.Partial
	if form {
		if err := r.ParseForm(); err != nil {
			return p, err
		}
		if raw := strings.TrimSpace(r.PostFormValue("replacementRate")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return p, errors.New("replacementRate must be an integer")
			}
			p.ReplacementRate = &n
		}
		return p, nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return p, err
	}
	return p, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

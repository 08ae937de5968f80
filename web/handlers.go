package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mbocsi/scryer/services"
)

func (w *WebClient) HandleHealth(wr http.ResponseWriter, r *http.Request) {
	links, err := w.services.Link.ListLinks()
	if err != nil {
		w.handleError(wr, err)
		return
	}
	status := http.StatusOK
	for _, l := range links {
		if l.Status == "down" {
			status = http.StatusServiceUnavailable
		}
	}
	w.writeJSON(wr, status, map[string]any{"links": links})
}

func (w *WebClient) HandleComponents(wr http.ResponseWriter, r *http.Request) {
	components, err := w.services.Component.ListComponents()
	if err != nil {
		w.handleError(wr, err)
		return
	}
	w.writeJSON(wr, http.StatusOK, components)
}

func (w *WebClient) HandleComponentDetail(wr http.ResponseWriter, r *http.Request) {
	info, err := w.services.Component.GetComponent(chi.URLParam(r, "name"))
	if err != nil {
		w.handleError(wr, err)
		return
	}
	w.writeJSON(wr, http.StatusOK, info)
}

func (w *WebClient) HandleLatest(wr http.ResponseWriter, r *http.Request) {
	ev, err := w.services.Event.Latest(chi.URLParam(r, "name"))
	if err != nil {
		w.handleError(wr, err)
		return
	}
	w.writeJSON(wr, http.StatusOK, ev)
}

// decodeOverrides reads a JSON object of field overrides. An empty body is
// no overrides.
func decodeOverrides(r *http.Request) (map[string]any, error) {
	var overrides map[string]any
	if err := decodeBody(r, &overrides); err != nil {
		return nil, err
	}
	return overrides, nil
}

func (w *WebClient) HandleChangeState(wr http.ResponseWriter, r *http.Request) {
	overrides, err := decodeOverrides(r)
	if err != nil {
		w.handleError(wr, err)
		return
	}
	if err := w.services.Command.ChangeState(r.Context(), chi.URLParam(r, "name"), overrides); err != nil {
		w.handleError(wr, err)
		return
	}
	wr.WriteHeader(http.StatusNoContent)
}

func (w *WebClient) HandleResetState(wr http.ResponseWriter, r *http.Request) {
	if err := w.services.Command.ResetState(r.Context(), chi.URLParam(r, "name")); err != nil {
		w.handleError(wr, err)
		return
	}
	wr.WriteHeader(http.StatusNoContent)
}

func (w *WebClient) HandleShutdownComponent(wr http.ResponseWriter, r *http.Request) {
	if err := w.services.Command.ShutdownComponent(r.Context(), chi.URLParam(r, "name")); err != nil {
		w.handleError(wr, err)
		return
	}
	wr.WriteHeader(http.StatusNoContent)
}

func (w *WebClient) HandleGetParameters(wr http.ResponseWriter, r *http.Request) {
	params, err := w.services.Command.GetParameters(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		w.handleError(wr, err)
		return
	}
	w.writeJSON(wr, http.StatusOK, params)
}

func (w *WebClient) HandleSetParameters(wr http.ResponseWriter, r *http.Request) {
	overrides, err := decodeOverrides(r)
	if err != nil {
		w.handleError(wr, err)
		return
	}
	if err := w.services.Command.SetParameters(r.Context(), chi.URLParam(r, "name"), overrides); err != nil {
		w.handleError(wr, err)
		return
	}
	wr.WriteHeader(http.StatusNoContent)
}

func (w *WebClient) HandleLock(wr http.ResponseWriter, r *http.Request) {
	if err := w.services.Command.RequestLock(r.Context()); err != nil {
		w.handleError(wr, err)
		return
	}
	wr.WriteHeader(http.StatusNoContent)
}

func (w *WebClient) HandleUnlock(wr http.ResponseWriter, r *http.Request) {
	if err := w.services.Command.ReleaseLock(r.Context()); err != nil {
		w.handleError(wr, err)
		return
	}
	wr.WriteHeader(http.StatusNoContent)
}

// awaitBody is the JSON form of an await; the timeout is in milliseconds.
type awaitBody struct {
	Components []string       `json:"components"`
	Match      map[string]any `json:"match"`
	TimeoutMS  int64          `json:"timeout_ms"`
}

func (w *WebClient) HandleAwait(wr http.ResponseWriter, r *http.Request) {
	var body awaitBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.handleError(wr, services.ServiceError{
			Code:    services.ErrCodeInvalidInput,
			Message: "Invalid JSON body",
			Cause:   err,
		})
		return
	}
	resp, err := w.services.Event.Await(r.Context(), services.AwaitRequest{
		Components: body.Components,
		Match:      body.Match,
		Timeout:    time.Duration(body.TimeoutMS) * time.Millisecond,
	})
	if err != nil {
		w.handleError(wr, err)
		return
	}
	w.writeJSON(wr, http.StatusOK, resp)
}

func (w *WebClient) HandleQueue(wr http.ResponseWriter, r *http.Request) {
	w.writeJSON(wr, http.StatusOK, map[string]int{"queued": w.services.Event.QueueLength()})
}

func (w *WebClient) HandlePurge(wr http.ResponseWriter, r *http.Request) {
	w.writeJSON(wr, http.StatusOK, map[string]int{"purged": w.services.Event.Purge()})
}

func (w *WebClient) HandleLinks(wr http.ResponseWriter, r *http.Request) {
	links, err := w.services.Link.ListLinks()
	if err != nil {
		w.handleError(wr, err)
		return
	}
	w.writeJSON(wr, http.StatusOK, links)
}

// decodeBody reads a JSON request body into v. An empty body leaves v as is.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return services.ServiceError{
			Code:    services.ErrCodeInvalidInput,
			Message: "Invalid JSON body",
			Cause:   err,
		}
	}
	return nil
}

// noContent writes 204 when err is nil and the mapped error otherwise.
func (w *WebClient) noContent(wr http.ResponseWriter, err error) {
	if err != nil {
		w.handleError(wr, err)
		return
	}
	wr.WriteHeader(http.StatusNoContent)
}

func (w *WebClient) HandleFeed(wr http.ResponseWriter, r *http.Request) {
	var body struct {
		DurationMS int64 `json:"duration_ms"`
	}
	if err := decodeBody(r, &body); err != nil {
		w.handleError(wr, err)
		return
	}
	w.noContent(wr, w.services.Apparatus.Feed(r.Context(), time.Duration(body.DurationMS)*time.Millisecond))
}

func (w *WebClient) HandleCue(wr http.ResponseWriter, r *http.Request) {
	var body struct {
		LED   string `json:"led"`
		Color string `json:"color"`
	}
	if err := decodeBody(r, &body); err != nil {
		w.handleError(wr, err)
		return
	}
	w.noContent(wr, w.services.Apparatus.Cue(r.Context(), body.LED, body.Color))
}

func (w *WebClient) HandleCuesOff(wr http.ResponseWriter, r *http.Request) {
	w.noContent(wr, w.services.Apparatus.CuesOff(r.Context()))
}

func (w *WebClient) HandleLight(wr http.ResponseWriter, r *http.Request) {
	var body struct {
		Manual     bool  `json:"manual"`
		Brightness int32 `json:"brightness"`
	}
	if err := decodeBody(r, &body); err != nil {
		w.handleError(wr, err)
		return
	}
	w.noContent(wr, w.services.Apparatus.SetLight(r.Context(), body.Manual, body.Brightness))
}

// HandlePlay starts a stimulus. With "wait" the response is held until it
// has finished.
func (w *WebClient) HandlePlay(wr http.ResponseWriter, r *http.Request) {
	var body struct {
		AudioID string `json:"audio_id"`
		Wait    bool   `json:"wait"`
	}
	if err := decodeBody(r, &body); err != nil {
		w.handleError(wr, err)
		return
	}
	w.noContent(wr, w.services.Apparatus.Play(r.Context(), body.AudioID, body.Wait))
}

func (w *WebClient) HandleStop(wr http.ResponseWriter, r *http.Request) {
	w.noContent(wr, w.services.Apparatus.Stop(r.Context()))
}

func (w *WebClient) writeJSON(wr http.ResponseWriter, status int, v any) {
	wr.Header().Set("Content-Type", "application/json")
	wr.WriteHeader(status)
	if err := json.NewEncoder(wr).Encode(v); err != nil {
		w.logger.Warn("Failed to write response", "error", err)
	}
}

// handleError handles service errors with proper HTTP status codes
func (w *WebClient) handleError(wr http.ResponseWriter, err error) {
	var serviceErr services.ServiceError
	if errors.As(err, &serviceErr) {
		status := http.StatusInternalServerError
		switch serviceErr.Code {
		case services.ErrCodeNotFound:
			status = http.StatusNotFound
		case services.ErrCodeInvalidInput:
			status = http.StatusBadRequest
		case services.ErrCodeTimeout:
			status = http.StatusGatewayTimeout
		case services.ErrCodeRefused:
			status = http.StatusConflict
		case services.ErrCodeUnavailable:
			status = http.StatusServiceUnavailable
		}
		w.logger.Info("Request failed", "code", serviceErr.Code, "error", err)
		w.writeJSON(wr, status, map[string]string{"code": serviceErr.Code, "error": err.Error()})
		return
	}

	w.logger.Error("Service error", "error", err)
	w.writeJSON(wr, http.StatusInternalServerError, map[string]string{"code": services.ErrCodeInternal, "error": "Internal server error"})
}

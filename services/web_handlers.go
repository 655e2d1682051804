package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"

	"github.com/requiem-ai/gochat/chat"
)

var statusMessages = map[string]string{
	"failed":   "The assistant could not answer. Try again.",
	"busy":     "A reply is still streaming. Wait for it or cancel it.",
	"canceled": "Reply canceled.",
}

type pageView struct {
	Title     string
	HasKey    bool
	Notice    string
	Status    string
	Turns     []chat.Turn
	Partial   string
	Streaming bool
}

type historyResponse struct {
	Session   string      `json:"session"`
	HasKey    bool        `json:"has_key"`
	Turns     []chat.Turn `json:"turns"`
	Streaming bool        `json:"streaming"`
	Partial   string      `json:"partial,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// session returns the caller's session, starting one and setting its cookie when there is none.
func (svc *WebService) session(w http.ResponseWriter, r *http.Request) *chat.Session {
	if sess, ok := svc.lookupSession(r); ok {
		return sess
	}

	sess := svc.chat.NewSession()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sess
}

func (svc *WebService) lookupSession(r *http.Request) (*chat.Session, bool) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		return nil, false
	}
	return svc.chat.Lookup(c.Value)
}

func (svc *WebService) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess := svc.session(w, r)

	view := pageView{
		Title:  pageTitle,
		HasKey: sess.HasCredential(),
		Status: statusMessages[r.URL.Query().Get("status")],
	}
	if view.HasKey {
		view.Turns = sess.Conversation().Turns()
		view.Partial, view.Streaming = sess.Partial()
	} else {
		view.Notice = chat.CredentialNotice
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := svc.page.Execute(w, view); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("render page")
	}
}

func (svc *WebService) handleKey(w http.ResponseWriter, r *http.Request) {
	key, ok := formValue(w, r, "api_key")
	if !ok {
		return
	}
	sess := svc.session(w, r)
	sess.SetCredential(key)

	hlog.FromRequest(r).Info().
		Str("session", sess.ID).
		Bool("has_key", sess.HasCredential()).
		Msg("credential updated")

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleChatForm runs a whole turn for browsers without JavaScript.
func (svc *WebService) handleChatForm(w http.ResponseWriter, r *http.Request) {
	prompt, ok := formValue(w, r, "prompt")
	if !ok {
		return
	}
	sess := svc.session(w, r)

	res := svc.chat.Run(r.Context(), sess, prompt, &chat.Transcript{})

	target := "/"
	switch res.Outcome {
	case chat.OutcomeFailed, chat.OutcomeBusy, chat.OutcomeCanceled:
		target = "/?status=" + res.Outcome.String()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (svc *WebService) handleChatStream(w http.ResponseWriter, r *http.Request) {
	prompt, ok := formValue(w, r, "prompt")
	if !ok {
		return
	}
	sess := svc.session(w, r)

	if sess.HasCredential() && strings.TrimSpace(prompt) == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	display, ok := newSSEDisplay(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	res := svc.chat.Run(r.Context(), sess, prompt, display)

	switch res.Outcome {
	case chat.OutcomeCompleted, chat.OutcomeIgnored:
		display.event("done", doneEvent{Reply: res.Reply})
	case chat.OutcomeNeedsCredential:
		// the notice event already went out
	case chat.OutcomeBusy:
		display.event("busy", errorResponse{Error: res.Err.Error()})
	case chat.OutcomeFailed:
		display.event("failed", failedEvent{Error: res.Err.Error(), Retryable: res.Retryable()})
	case chat.OutcomeCanceled:
		display.event("canceled", struct{}{})
	}

	hlog.FromRequest(r).Info().
		Str("session", sess.ID).
		Stringer("outcome", res.Outcome).
		Msg("turn finished")
}

func (svc *WebService) handleCancel(w http.ResponseWriter, r *http.Request) {
	canceled := false
	if sess, ok := svc.lookupSession(r); ok {
		canceled = sess.Cancel()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"canceled": canceled})
}

func (svc *WebService) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess := svc.session(w, r)

	resp := historyResponse{
		Session: sess.ID,
		HasKey:  sess.HasCredential(),
		Turns:   sess.Conversation().Turns(),
	}
	resp.Partial, resp.Streaming = sess.Partial()

	writeJSON(w, http.StatusOK, resp)
}

func (svc *WebService) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if sess, ok := svc.lookupSession(r); ok {
		svc.chat.EndSession(sess.ID)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (svc *WebService) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// formValue parses the posted form and answers 413 or 400 itself when it cannot.
func formValue(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	if err := r.ParseForm(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return "", false
		}
		writeError(w, http.StatusBadRequest, "invalid form")
		return "", false
	}
	return r.PostForm.Get(key), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

type partialEvent struct {
	Text string `json:"text"`
}

type noticeEvent struct {
	Message string `json:"message"`
}

type doneEvent struct {
	Reply string `json:"reply"`
}

type failedEvent struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// sseDisplay draws a turn as Server-Sent Events. Every payload is JSON so multi-line text
// stays inside one data field.
type sseDisplay struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEDisplay(w http.ResponseWriter) (*sseDisplay, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseDisplay{w: w, flusher: flusher}, true
}

func (d *sseDisplay) event(name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(d.w, "event: %s\ndata: %s\n\n", name, data)
	d.flusher.Flush()
}

func (d *sseDisplay) ShowTurn(t chat.Turn) {
	d.event("turn", t)
}

func (d *sseDisplay) ShowPartial(text string) {
	d.event("partial", partialEvent{Text: text})
}

func (d *sseDisplay) ShowNotice(msg string) {
	d.event("notice", noticeEvent{Message: msg})
}

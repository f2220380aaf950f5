package httpserver

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"wetmill_sms/internal/domain/outgoing"
	"wetmill_sms/internal/infra/twilio"
)

// InboundHandler answers a message received on a backend.
type InboundHandler interface {
	Handle(ctx context.Context, backend, identity, text, languageHint string) (*outgoing.Message, error)
}

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

type Webhook struct {
	Inbound         InboundHandler
	VerifySignature func(authToken, fullURL, provided string, form url.Values) bool
	AuthToken       string
	PublicURL       string
	// Backend is the connection backend inbound senders are recorded under.
	Backend string
	Logger  *logrus.Entry
}

func (w *Webhook) Register(mux *mux.Router) {
	mux.HandleFunc("/v1/webhooks/twilio/inbound", w.handleTwilioInbound).Methods(http.MethodPost)
}

// Replies go out through the router, so the TwiML answer is always empty.
func (w *Webhook) handleTwilioInbound(rw http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(rw, ErrBadForm, http.StatusBadRequest)
		return
	}
	if w.VerifySignature == nil || !w.VerifySignature(w.AuthToken, w.PublicURL, r.Header.Get(twilio.SignatureHeader), r.PostForm) {
		http.Error(rw, ErrInvalidSignature, http.StatusUnauthorized)
		return
	}

	in := twilio.ParseInbound(r.PostForm)
	if in.From == "" {
		http.Error(rw, ErrBadForm, http.StatusBadRequest)
		return
	}

	if _, err := w.Inbound.Handle(r.Context(), w.Backend, in.From, in.Body, ""); err != nil {
		w.Logger.WithError(err).WithField("message_sid", in.MessageSid).Error("inbound message handling failed")
		http.Error(rw, ErrDependency, http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "text/xml")
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte(emptyTwiML))
}

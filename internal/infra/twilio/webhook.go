package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
)

// SignatureHeader carries the request signature on every Twilio webhook.
const SignatureHeader = "X-Twilio-Signature"

func VerifySignature(authToken, fullURL, provided string, form url.Values) bool {
	return hmac.Equal([]byte(Sign(authToken, fullURL, form)), []byte(provided))
}

// Sign computes the signature Twilio sends for a POST to fullURL with form.
func Sign(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// InboundMessage is the part of an incoming-SMS webhook this service reads.
type InboundMessage struct {
	MessageSid string
	From       string
	To         string
	Body       string
}

func ParseInbound(form url.Values) InboundMessage {
	return InboundMessage{
		MessageSid: form.Get("MessageSid"),
		From:       strings.TrimSpace(form.Get("From")),
		To:         strings.TrimSpace(form.Get("To")),
		Body:       strings.TrimSpace(form.Get("Body")),
	}
}

package transport

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/sungwon/mail-dispatch/internal/message"
)

var testDate = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func TestBuildMessage_SinglePart(t *testing.T) {
	tests := []struct {
		name        string
		env         message.Envelope
		contentType string
	}{
		{"text only", message.Envelope{Text: "hello"}, "text/plain"},
		{"html only", message.Envelope{HTML: "<p>hello</p>"}, "text/html"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := tt.env
			env.From = "a@acme.test"
			env.To = []string{"b@example.com"}
			env.Subject = "Hi"

			raw, err := buildMessage(&env, "id-1@acme.test", testDate)
			if err != nil {
				t.Fatalf("buildMessage: %v", err)
			}
			msg, err := mail.ReadMessage(bytes.NewReader(raw))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			mediaType, _, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
			if err != nil {
				t.Fatalf("content type: %v", err)
			}
			if mediaType != tt.contentType {
				t.Errorf("media type = %s, want %s", mediaType, tt.contentType)
			}
			if msg.Header.Get("Message-ID") != "<id-1@acme.test>" {
				t.Errorf("Message-ID = %q", msg.Header.Get("Message-ID"))
			}
		})
	}
}

func TestBuildMessage_Alternative(t *testing.T) {
	env := &message.Envelope{
		From:    "a@acme.test",
		To:      []string{"b@example.com"},
		Subject: "Grüße",
		Text:    "hello",
		HTML:    "<p>hello</p>",
	}

	raw, err := buildMessage(env, "id-2@acme.test", testDate)
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	if err != nil || subject != "Grüße" {
		t.Errorf("subject = %q (%v)", subject, err)
	}

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/alternative" {
		t.Fatalf("media type = %s (%v)", mediaType, err)
	}

	mr := multipart.NewReader(msg.Body, params["boundary"])
	var types []string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next part: %v", err)
		}
		types = append(types, strings.Split(p.Header.Get("Content-Type"), ";")[0])
	}
	if len(types) != 2 || types[0] != "text/plain" || types[1] != "text/html" {
		t.Errorf("parts = %v", types)
	}
}

func TestBuildMessage_HeadersAreSanitized(t *testing.T) {
	env := &message.Envelope{
		From: "a@acme.test",
		To:   []string{"b@example.com"},
		Text: "hello",
		Headers: map[string]string{
			"X-Campaign": "spring\r\nBcc: victim@example.com",
			"from":       "spoof@evil.test",
		},
	}

	raw, err := buildMessage(env, "id-3@acme.test", testDate)
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := msg.Header.Get("Bcc"); got != "" {
		t.Errorf("header injection produced Bcc: %q", got)
	}
	if got := msg.Header.Get("From"); got != "a@acme.test" {
		t.Errorf("From overridden: %q", got)
	}
	if !strings.HasPrefix(msg.Header.Get("X-Campaign"), "spring") {
		t.Errorf("X-Campaign = %q", msg.Header.Get("X-Campaign"))
	}
}

package transport

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/sungwon/mail-dispatch/internal/message"
)

// reservedHeaders are set by buildMessage and cannot be overridden by the
// envelope's custom headers.
var reservedHeaders = map[string]bool{
	"From":                      true,
	"To":                        true,
	"Cc":                        true,
	"Bcc":                       true,
	"Reply-To":                  true,
	"Subject":                   true,
	"Date":                      true,
	"Message-Id":                true,
	"Mime-Version":              true,
	"Content-Type":              true,
	"Content-Transfer-Encoding": true,
}

// buildMessage renders env as an RFC 5322 message with CRLF line endings.
// A text-only or HTML-only body is sent as a single part; both together
// become multipart/alternative. Bcc recipients never appear in the headers.
func buildMessage(env *message.Envelope, messageID string, date time.Time) ([]byte, error) {
	var buf bytes.Buffer

	writeHeader(&buf, "From", env.From)
	writeHeader(&buf, "To", strings.Join(env.To, ", "))
	if len(env.Cc) > 0 {
		writeHeader(&buf, "Cc", strings.Join(env.Cc, ", "))
	}
	if env.ReplyTo != "" {
		writeHeader(&buf, "Reply-To", env.ReplyTo)
	}
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", env.Subject))
	writeHeader(&buf, "Date", date.Format(time.RFC1123Z))
	writeHeader(&buf, "Message-ID", "<"+messageID+">")
	writeHeader(&buf, "MIME-Version", "1.0")

	keys := make([]string, 0, len(env.Headers))
	for k := range env.Headers {
		if reservedHeaders[textproto.CanonicalMIMEHeaderKey(k)] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeHeader(&buf, k, env.Headers[k])
	}

	switch {
	case env.Text != "" && env.HTML != "":
		mw := multipart.NewWriter(&buf)
		writeHeader(&buf, "Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", mw.Boundary()))
		buf.WriteString("\r\n")
		if err := writePart(mw, "text/plain", env.Text); err != nil {
			return nil, err
		}
		if err := writePart(mw, "text/html", env.HTML); err != nil {
			return nil, err
		}
		if err := mw.Close(); err != nil {
			return nil, fmt.Errorf("close multipart: %w", err)
		}
	case env.HTML != "":
		if err := writeSinglePart(&buf, "text/html", env.HTML); err != nil {
			return nil, err
		}
	default:
		if err := writeSinglePart(&buf, "text/plain", env.Text); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	value = strings.NewReplacer("\r", "", "\n", "").Replace(value)
	fmt.Fprintf(buf, "%s: %s\r\n", key, value)
}

func writeSinglePart(buf *bytes.Buffer, contentType, body string) error {
	writeHeader(buf, "Content-Type", contentType+"; charset=utf-8")
	writeHeader(buf, "Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")
	qp := quotedprintable.NewWriter(buf)
	if _, err := qp.Write([]byte(body)); err != nil {
		return fmt.Errorf("encode body: %w", err)
	}
	return qp.Close()
}

func writePart(mw *multipart.Writer, contentType, body string) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType+"; charset=utf-8")
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	pw, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	qp := quotedprintable.NewWriter(pw)
	if _, err := qp.Write([]byte(body)); err != nil {
		return fmt.Errorf("encode %s part: %w", contentType, err)
	}
	return qp.Close()
}

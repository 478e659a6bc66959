package notifications

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"strings"

	"github.com/angelmondragon/visitorpass-backend/internal/qrtoken"
	"github.com/angelmondragon/visitorpass-backend/pkg/outbox/payloads"
)

// Attachment is a file carried with a message.
type Attachment struct {
	Filename    string
	ContentType string
	ContentID   string
	Data        []byte
}

// Message is a rendered email ready for delivery.
type Message struct {
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
}

const qrContentID = "visitor-qr"

var registrationTemplate = template.Must(template.New("registration").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2933;">
  <h2>Welcome, {{.Name}}</h2>
  <p>Your visit has been registered{{if .HostName}} with {{.HostName}}{{end}}.</p>
  <table cellpadding="4">
    <tr><td><strong>Purpose</strong></td><td>{{.Purpose}}</td></tr>
    <tr><td><strong>Vehicle</strong></td><td>{{.VehicleNumber}}</td></tr>
    <tr><td><strong>Valid</strong></td><td>{{.FromDate}}{{if ne .FromDate .ToDate}} to {{.ToDate}}{{end}}</td></tr>
  </table>
  <p>Show this code at the gate, or scan it when you leave to check out.</p>
  <p><img src="cid:{{.ContentID}}" alt="Visitor pass QR code" width="240" height="240"></p>
  <p>You can also check out at <a href="{{.CheckoutURL}}">{{.CheckoutURL}}</a>.</p>
</body>
</html>
`))

type registrationView struct {
	Name          string
	HostName      string
	Purpose       string
	VehicleNumber string
	FromDate      string
	ToDate        string
	CheckoutURL   string
	ContentID     string
}

// ComposeRegistration renders the registration email with the QR image attached.
func ComposeRegistration(event payloads.VisitorRegisteredEvent, token *qrtoken.Token) (Message, error) {
	if strings.TrimSpace(event.Email) == "" {
		return Message{}, fmt.Errorf("recipient email missing")
	}
	if token == nil {
		return Message{}, fmt.Errorf("qr token missing")
	}
	var body bytes.Buffer
	err := registrationTemplate.Execute(&body, registrationView{
		Name:          event.Name,
		HostName:      event.HostName,
		Purpose:       event.Purpose,
		VehicleNumber: event.VehicleNumber,
		FromDate:      event.FromDate,
		ToDate:        event.ToDate,
		CheckoutURL:   token.CheckoutURL,
		ContentID:     qrContentID,
	})
	if err != nil {
		return Message{}, fmt.Errorf("render registration email: %w", err)
	}
	return Message{
		To:      strings.TrimSpace(event.Email),
		Subject: "Your visitor pass",
		HTML:    body.String(),
		Attachments: []Attachment{{
			Filename:    token.Filename,
			ContentType: "image/png",
			ContentID:   qrContentID,
			Data:        token.PNG,
		}},
	}, nil
}

// Encode serializes the message as a multipart/related MIME document.
func (m Message) Encode(from string) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", m.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/related; boundary=%s\r\n\r\n", writer.Boundary())

	htmlPart, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/html; charset=utf-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return nil, err
	}
	qp := quotedprintable.NewWriter(htmlPart)
	if _, err := qp.Write([]byte(m.HTML)); err != nil {
		return nil, err
	}
	if err := qp.Close(); err != nil {
		return nil, err
	}

	for _, att := range m.Attachments {
		header := textproto.MIMEHeader{
			"Content-Type":              {fmt.Sprintf("%s; name=%q", att.ContentType, att.Filename)},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {fmt.Sprintf("inline; filename=%q", att.Filename)},
		}
		if att.ContentID != "" {
			header.Set("Content-ID", "<"+att.ContentID+">")
		}
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, err
		}
		if err := writeBase64Lines(part, att.Data); err != nil {
			return nil, err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeBase64Lines wraps encoded output at 76 columns.
func writeBase64Lines(w io.Writer, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		if _, err := w.Write([]byte(encoded[:76] + "\r\n")); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	_, err := w.Write([]byte(encoded + "\r\n"))
	return err
}

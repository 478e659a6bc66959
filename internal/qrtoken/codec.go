package qrtoken

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/angelmondragon/visitorpass-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/visitorpass-backend/pkg/errors"
)

// CheckoutPathPrefix is embedded in every issued token and must stay stable.
const CheckoutPathPrefix = "/checkout/"

const payloadType = "visitor"

// Payload is the JSON document encoded into the QR image.
type Payload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Timestamp   string `json:"timestamp"`
	CheckoutURL string `json:"checkoutUrl"`
}

// Token is a rendered QR token.
type Token struct {
	Payload     Payload `json:"payload"`
	CheckoutURL string  `json:"checkoutUrl"`
	PNG         []byte  `json:"png"`
	Filename    string  `json:"filename"`
}

// Codec issues and resolves visitor QR tokens.
type Codec struct {
	baseURL string
	size    int
	margin  int
	dark    color.Color
	light   color.Color
}

// NewCodec builds a codec rooted at the public base URL.
func NewCodec(publicBaseURL string, cfg config.QRConfig) (*Codec, error) {
	base := strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("public base url required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse public base url: %w", err)
	}
	dark, err := parseHexColor(cfg.Dark)
	if err != nil {
		return nil, fmt.Errorf("qr dark color: %w", err)
	}
	light, err := parseHexColor(cfg.Light)
	if err != nil {
		return nil, fmt.Errorf("qr light color: %w", err)
	}
	size := cfg.Size
	if size <= 0 {
		size = 300
	}
	margin := cfg.Quiet
	if margin < 0 {
		margin = 0
	}
	return &Codec{baseURL: base, size: size, margin: margin, dark: dark, light: light}, nil
}

// CheckoutURL returns the redemption URL for a visitor.
func (c *Codec) CheckoutURL(visitorID uuid.UUID) string {
	return c.baseURL + CheckoutPathPrefix + visitorID.String()
}

// Issue renders the token for a visitor. Output is identical for identical
// inputs.
func (c *Codec) Issue(visitorID uuid.UUID, visitorName string, issuedAt time.Time) (*Token, error) {
	if visitorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "visitor id required")
	}
	checkoutURL := c.CheckoutURL(visitorID)
	payload := Payload{
		ID:          visitorID.String(),
		Name:        visitorName,
		Type:        payloadType,
		Timestamp:   issuedAt.UTC().Format(time.RFC3339Nano),
		CheckoutURL: checkoutURL,
	}
	content, err := json.Marshal(payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode qr payload")
	}
	img, err := c.render(string(content))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render qr image")
	}
	return &Token{
		Payload:     payload,
		CheckoutURL: checkoutURL,
		PNG:         img,
		Filename:    Filename(visitorName, visitorID),
	}, nil
}

func (c *Codec) render(content string) ([]byte, error) {
	code, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	code.DisableBorder = true
	bitmap := code.Bitmap()

	modules := len(bitmap) + 2*c.margin
	scale := c.size / modules
	if scale < 1 {
		scale = 1
	}
	offset := (c.size - modules*scale) / 2
	if offset < 0 {
		offset = 0
	}
	side := c.size
	if modules*scale > side {
		side = modules * scale
	}

	palette := color.Palette{c.light, c.dark}
	img := image.NewPaletted(image.Rect(0, 0, side, side), palette)
	origin := offset + c.margin*scale
	for y, row := range bitmap {
		for x, on := range row {
			if !on {
				continue
			}
			for dy := 0; dy < scale; dy++ {
				for dx := 0; dx < scale; dx++ {
					img.SetColorIndex(origin+x*scale+dx, origin+y*scale+dy, 1)
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Resolve extracts the visitor id from a scanned payload, a checkout URL or a
// bare checkout path. The id is trusted as-is; no signature is checked.
func Resolve(scanned string) (uuid.UUID, error) {
	raw := strings.TrimSpace(scanned)
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "scanned value required")
	}

	if strings.HasPrefix(raw, "{") {
		var payload Payload
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unreadable qr payload")
		}
		if payload.CheckoutURL != "" {
			return Resolve(payload.CheckoutURL)
		}
		raw = payload.ID
	}

	if id, err := uuid.Parse(raw); err == nil {
		return id, nil
	}

	path := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		path = u.Path
	}
	idx := strings.LastIndex(path, CheckoutPathPrefix)
	if idx < 0 {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "not a visitor checkout link")
	}
	segment := path[idx+len(CheckoutPathPrefix):]
	if cut := strings.IndexAny(segment, "/?#"); cut >= 0 {
		segment = segment[:cut]
	}
	id, err := uuid.Parse(segment)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid visitor id in checkout link")
	}
	return id, nil
}

// Filename is the download name for a visitor's QR image.
func Filename(visitorName string, visitorID uuid.UUID) string {
	slug := strings.Join(strings.Fields(strings.ToLower(visitorName)), "-")
	short := visitorID.String()[:8]
	if slug == "" {
		return "visitor-qr-" + short + ".png"
	}
	return "visitor-qr-" + slug + "-" + short + ".png"
}

func parseHexColor(value string) (color.Color, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(value), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return nil, fmt.Errorf("invalid color %q", value)
	}
	n, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid color %q: %w", value, err)
	}
	return color.RGBA{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n), A: 0xff}, nil
}

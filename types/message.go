package types

import (
	"encoding/json"
	"strings"
	"time"
)

// Message is one persisted chat message. Body holds the encoded envelope:
// plain text is stored verbatim, every other kind is a JSON object. Readers
// must go through DecodeBody, which recovers the kind from the stored shape.
type Message struct {
	Id        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	RoomId    string    `json:"roomId" gorm:"index"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	ReplyTo   *int64    `json:"replyTo,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message kinds. KindText covers anything that does not decode to a known
// structured shape.
const (
	KindText           = "text"
	KindLocation       = "location"
	KindAnnouncement   = "announcement"
	KindDealTerms      = "deal_terms"
	KindDocument       = "document"
	KindRedline        = "redline"
	KindSignature      = "signature"
	KindPaymentRequest = "payment_request"
)

// Location is a shared geographic position.
type Location struct {
	Latitude  float64 `json:"latitude" mapstructure:"latitude"`
	Longitude float64 `json:"longitude" mapstructure:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty" mapstructure:"accuracy"`
	Timestamp int64   `json:"timestamp,omitempty" mapstructure:"timestamp"`
}

// DealTerms is the structured payload of a terms proposal or counter-offer.
// All numeric fields are optional; absent fields are omitted from the stored
// envelope, so a round trip preserves exactly the keys that were sent.
type DealTerms struct {
	Price         *float64    `json:"price,omitempty" mapstructure:"price"`
	Qty           *float64    `json:"qty,omitempty" mapstructure:"qty"`
	SLADays       *float64    `json:"slaDays,omitempty" mapstructure:"slaDays"`
	SLA           string      `json:"sla,omitempty" mapstructure:"sla"`
	Subtotal      *float64    `json:"subtotal,omitempty" mapstructure:"subtotal"`
	Tax           *float64    `json:"tax,omitempty" mapstructure:"tax"`
	Shipping      *float64    `json:"shipping,omitempty" mapstructure:"shipping"`
	Total         *float64    `json:"total,omitempty" mapstructure:"total"`
	TaxRatePct    *float64    `json:"taxRatePct,omitempty" mapstructure:"taxRatePct"`
	ShippingFlat  *float64    `json:"shippingFlat,omitempty" mapstructure:"shippingFlat"`
	MarginPct     *float64    `json:"marginPct,omitempty" mapstructure:"marginPct"`
	Margin        *float64    `json:"margin,omitempty" mapstructure:"margin"`
	VersionCount  *int        `json:"versionCount,omitempty" mapstructure:"versionCount"`
	VersionEvents interface{} `json:"versionEvents,omitempty" mapstructure:"versionEvents"`
}

// Document is a shared file reference.
type Document struct {
	URL      string `json:"url,omitempty" mapstructure:"url"`
	Filename string `json:"filename,omitempty" mapstructure:"filename"`
}

// Redline is a suggested edit to previously shared text.
type Redline struct {
	Original  string `json:"original,omitempty" mapstructure:"original"`
	Suggested string `json:"suggested,omitempty" mapstructure:"suggested"`
}

// Signature is a captured signature image.
type Signature struct {
	ImageURL string `json:"imageUrl,omitempty" mapstructure:"imageUrl"`
	Label    string `json:"label,omitempty" mapstructure:"label"`
}

// PaymentRequest asks the counterparty to pay through a gateway.
type PaymentRequest struct {
	Amount    *float64 `json:"amount,omitempty" mapstructure:"amount"`
	Currency  string   `json:"currency,omitempty" mapstructure:"currency"`
	Gateway   string   `json:"gateway,omitempty" mapstructure:"gateway"`
	Reference string   `json:"reference,omitempty" mapstructure:"reference"`
}

// Envelope is the decoded form of a message body. Exactly one payload
// pointer is set for the structured kinds; Text is always meaningful.
type Envelope struct {
	Kind      string
	Text      string
	Location  *Location
	DealTerms *DealTerms
	Document  *Document
	Redline   *Redline
	Signature *Signature
	Payment   *PaymentRequest
}

// Payload returns the structured payload for the wire, nil for text,
// location and announcement kinds.
func (e *Envelope) Payload() interface{} {
	switch e.Kind {
	case KindDealTerms:
		if e.DealTerms != nil {
			return e.DealTerms
		}
	case KindDocument:
		if e.Document != nil {
			return e.Document
		}
	case KindRedline:
		if e.Redline != nil {
			return e.Redline
		}
	case KindSignature:
		if e.Signature != nil {
			return e.Signature
		}
	case KindPaymentRequest:
		if e.Payment != nil {
			return e.Payment
		}
	}
	return nil
}

type locationBody struct {
	Text     string    `json:"text"`
	Location *Location `json:"location"`
}

type announcementBody struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

type taggedBody struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// EncodeBody renders the envelope into its stored form. Plain text is stored
// as the bare string, everything else as a JSON object. Structured payload
// fields are flattened next to the type tag and the display text.
func (e *Envelope) EncodeBody() (string, error) {
	switch e.Kind {
	case KindText, "":
		return e.Text, nil
	case KindLocation:
		ba, err := json.Marshal(locationBody{Text: e.Text, Location: e.Location})
		return string(ba), err
	case KindAnnouncement:
		ba, err := json.Marshal(announcementBody{Text: e.Text, Type: KindAnnouncement})
		return string(ba), err
	default:
		return e.encodeTagged()
	}
}

func (e *Envelope) encodeTagged() (string, error) {
	ba, err := json.Marshal(e.Payload())
	if err != nil {
		return "", err
	}
	flat := map[string]interface{}{}
	if len(ba) > 0 && string(ba) != "null" {
		if err := json.Unmarshal(ba, &flat); err != nil {
			return "", err
		}
	}
	flat["type"] = e.Kind
	flat["text"] = e.Text
	out, err := json.Marshal(flat)
	return string(out), err
}

// bodyProbe is the superset of all stored object shapes. Payload field names
// never collide across kinds, so one probe covers every tagged body.
type bodyProbe struct {
	Type     string    `json:"type"`
	Text     string    `json:"text"`
	Message  string    `json:"message"`
	Location *Location `json:"location"`
	DealTerms
	Document
	Redline
	Signature
	PaymentRequest
}

// DecodeBody recovers an Envelope from a stored body. The kind is inferred
// from the stored shape: a body that is not a JSON object is plain text, an
// object with a "location" key is a location share, otherwise the "type" tag
// decides. Objects with an unknown tag fall back to plain text holding the
// raw body, matching how unrecognized history rows are replayed.
func DecodeBody(body string) Envelope {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, "{") {
		return Envelope{Kind: KindText, Text: body}
	}
	var probe bodyProbe
	if err := json.Unmarshal([]byte(trimmed), &probe); err != nil {
		return Envelope{Kind: KindText, Text: body}
	}
	if probe.Location != nil {
		return Envelope{Kind: KindLocation, Text: probe.Text, Location: probe.Location}
	}
	switch probe.Type {
	case KindAnnouncement:
		text := firstNonEmpty(probe.Text, probe.Message, body)
		return Envelope{Kind: KindAnnouncement, Text: text}
	case KindDealTerms:
		dt := probe.DealTerms
		return Envelope{Kind: KindDealTerms, Text: firstNonEmpty(probe.Text, "Deal terms"), DealTerms: &dt}
	case KindDocument:
		doc := probe.Document
		return Envelope{Kind: KindDocument, Text: firstNonEmpty(probe.Text, doc.Filename, body), Document: &doc}
	case KindRedline:
		rl := probe.Redline
		return Envelope{Kind: KindRedline, Text: firstNonEmpty(probe.Text, "Suggested edit"), Redline: &rl}
	case KindSignature:
		sig := probe.Signature
		return Envelope{Kind: KindSignature, Text: firstNonEmpty(probe.Text, "Signature"), Signature: &sig}
	case KindPaymentRequest:
		pr := probe.PaymentRequest
		return Envelope{Kind: KindPaymentRequest, Text: firstNonEmpty(probe.Text, "Payment request"), Payment: &pr}
	}
	return Envelope{Kind: KindText, Text: body}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

const previewLength = 120

// PreviewOf returns the short text used for room last-message previews.
func PreviewOf(body string) string {
	text := DecodeBody(body).Text
	runes := []rune(text)
	if len(runes) > previewLength {
		return string(runes[:previewLength])
	}
	return text
}

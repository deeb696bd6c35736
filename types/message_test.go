package types

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func TestEncodeBodyPlainText(t *testing.T) {
	env := Envelope{Kind: KindText, Text: "hello there"}
	body, err := env.EncodeBody()
	require.NoError(t, err)
	// plain text is stored verbatim, not wrapped in JSON
	assert.Equal(t, "hello there", body)

	decoded := DecodeBody(body)
	assert.Equal(t, KindText, decoded.Kind)
	assert.Equal(t, "hello there", decoded.Text)
}

func TestDecodeBodyLocation(t *testing.T) {
	env := Envelope{
		Kind:     KindLocation,
		Text:     "📍 My location",
		Location: &Location{Latitude: 52.52, Longitude: 13.405, Accuracy: 10, Timestamp: 1700000000000},
	}
	body, err := env.EncodeBody()
	require.NoError(t, err)

	decoded := DecodeBody(body)
	require.Equal(t, KindLocation, decoded.Kind)
	require.NotNil(t, decoded.Location)
	assert.Equal(t, 52.52, decoded.Location.Latitude)
	assert.Equal(t, 13.405, decoded.Location.Longitude)
	assert.Equal(t, "📍 My location", decoded.Text)
}

func TestDecodeBodyAnnouncement(t *testing.T) {
	env := Envelope{Kind: KindAnnouncement, Text: "Ann joined the room"}
	body, err := env.EncodeBody()
	require.NoError(t, err)

	decoded := DecodeBody(body)
	assert.Equal(t, KindAnnouncement, decoded.Kind)
	assert.Equal(t, "Ann joined the room", decoded.Text)
}

func TestDealTermsRoundTrip(t *testing.T) {
	env := Envelope{
		Kind:      KindDealTerms,
		Text:      "Offer: 5 units at $100",
		DealTerms: &DealTerms{Price: f(100), Qty: f(5)},
	}
	body, err := env.EncodeBody()
	require.NoError(t, err)

	// absent numeric fields must not appear in the stored object
	assert.False(t, strings.Contains(body, "subtotal"))
	assert.False(t, strings.Contains(body, "taxRatePct"))

	decoded := DecodeBody(body)
	require.Equal(t, KindDealTerms, decoded.Kind)
	require.NotNil(t, decoded.DealTerms)
	require.NotNil(t, decoded.DealTerms.Price)
	require.NotNil(t, decoded.DealTerms.Qty)
	assert.Equal(t, 100.0, *decoded.DealTerms.Price)
	assert.Equal(t, 5.0, *decoded.DealTerms.Qty)
	assert.Equal(t, "Offer: 5 units at $100", decoded.Text)

	// a second round trip through the stored form is stable
	body2, err := decoded.EncodeBody()
	require.NoError(t, err)
	assert.Equal(t, DecodeBody(body), DecodeBody(body2))
}

func TestDealTermsFallbackLabel(t *testing.T) {
	decoded := DecodeBody(`{"type":"deal_terms","price":42}`)
	require.Equal(t, KindDealTerms, decoded.Kind)
	assert.Equal(t, "Deal terms", decoded.Text)
}

func TestDocumentReconstruct(t *testing.T) {
	env := Envelope{
		Kind:     KindDocument,
		Text:     "",
		Document: &Document{URL: "https://files.example.com/contract.pdf", Filename: "contract.pdf"},
	}
	body, err := env.EncodeBody()
	require.NoError(t, err)

	msg := &Message{Id: 7, Sender: "Ann", Body: body}
	wm := Reconstruct(msg)
	assert.Equal(t, KindDocument, wm.Type)
	assert.Equal(t, "https://files.example.com/contract.pdf", wm.DocumentURL)
	// empty display text falls back to the filename
	assert.Equal(t, "contract.pdf", wm.Message)
}

func TestSignatureAndPaymentFallbacks(t *testing.T) {
	sig := DecodeBody(`{"type":"signature","imageUrl":"data:image/png;base64,AAAA"}`)
	assert.Equal(t, "Signature", sig.Text)
	require.NotNil(t, sig.Signature)
	assert.Equal(t, "data:image/png;base64,AAAA", sig.Signature.ImageURL)

	pr := DecodeBody(`{"type":"payment_request","amount":250,"currency":"EUR"}`)
	assert.Equal(t, "Payment request", pr.Text)
	require.NotNil(t, pr.Payment)
	assert.Equal(t, 250.0, *pr.Payment.Amount)
	assert.Equal(t, "EUR", pr.Payment.Currency)
}

func TestRedlineRoundTrip(t *testing.T) {
	env := Envelope{
		Kind:    KindRedline,
		Text:    "Suggested edit",
		Redline: &Redline{Original: "net 30", Suggested: "net 45"},
	}
	body, err := env.EncodeBody()
	require.NoError(t, err)
	decoded := DecodeBody(body)
	require.NotNil(t, decoded.Redline)
	assert.Equal(t, "net 30", decoded.Redline.Original)
	assert.Equal(t, "net 45", decoded.Redline.Suggested)
}

func TestDecodeBodyUnknownObject(t *testing.T) {
	body := `{"foo":"bar"}`
	decoded := DecodeBody(body)
	assert.Equal(t, KindText, decoded.Kind)
	// unrecognized objects replay as raw text
	assert.Equal(t, body, decoded.Text)
}

func TestWireMessagePayloadJSON(t *testing.T) {
	env := Envelope{Kind: KindDealTerms, Text: "offer", DealTerms: &DealTerms{Price: f(100), Qty: f(5)}}
	body, err := env.EncodeBody()
	require.NoError(t, err)
	wm := Reconstruct(&Message{Id: 1, Sender: "Ann", Body: body})

	ba, err := json.Marshal(wm)
	require.NoError(t, err)
	got := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(ba, &got))
	payload, ok := got["payload"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 100.0, payload["price"])
	assert.Equal(t, 5.0, payload["qty"])
	assert.Equal(t, "deal_terms", got["type"])
}

func TestPreviewOf(t *testing.T) {
	assert.Equal(t, "short", PreviewOf("short"))

	long := strings.Repeat("a", 300)
	assert.Len(t, PreviewOf(long), 120)

	body, err := (&Envelope{Kind: KindDealTerms, Text: "Offer", DealTerms: &DealTerms{Price: f(1)}}).EncodeBody()
	require.NoError(t, err)
	assert.Equal(t, "Offer", PreviewOf(body))
}

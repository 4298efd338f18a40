package types

import "encoding/xml"

// MessagingResponse is the TwiML document returned to the webhook caller.
// Only the reply text travels inline; media is pushed asynchronously through
// the REST API.
type MessagingResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message struct {
		Body string `xml:"Body"`
	} `xml:"Message"`
}

// NewMessagingResponse builds a single-message TwiML reply.
func NewMessagingResponse(body string) MessagingResponse {
	var r MessagingResponse
	r.Message.Body = body
	return r
}

// ProcessImageRequest is the payload posted by the browser-side generation
// page once Puter has produced an image.
type ProcessImageRequest struct {
	Image        string `json:"image"`
	Prompt       string `json:"prompt"`
	Timestamp    int64  `json:"timestamp"`
	SenderNumber string `json:"sender_number"`
}

type ProcessImageResponse struct {
	Success      bool   `json:"success"`
	Filename     string `json:"filename,omitempty"`
	LocalURL     string `json:"local_url,omitempty"`
	PublicURL    string `json:"public_url,omitempty"`
	Prompt       string `json:"prompt,omitempty"`
	SenderNumber string `json:"sender_number,omitempty"`
	Error        string `json:"error,omitempty"`
}

// SendDirectRequest asks the server to push an already-hosted image to a
// WhatsApp number immediately.
type SendDirectRequest struct {
	ToNumber string `json:"to_number"`
	ImageURL string `json:"image_url"`
	Prompt   string `json:"prompt"`
}

type SendDirectResponse struct {
	Success    bool   `json:"success"`
	MessageSID string `json:"message_sid,omitempty"`
	ToNumber   string `json:"to_number,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
	Error      string `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

package tunnel

import (
	"net/url"
	"time"

	"github.com/google/uuid"
)

// NewMessage builds a message with fully populated metadata around the
// given payload.
func NewMessage(messageType string, payload Payload) Message {
	m := Message{
		Metadata: Metadata{
			ID:          uuid.NewString(),
			MessageType: messageType,
			Timestamp:   time.Now().UnixMilli(),
		},
		Payload: payload,
	}
	m.Metadata.applyDefaults()
	return m
}

// NewFrame wraps a message in an envelope stamped with the client's
// identifiers and protocol version.
func NewFrame(tunnelID, clientID string, msg Message) *Frame {
	return &Frame{
		Envelope: Envelope{
			TunnelID:        tunnelID,
			ClientID:        clientID,
			ProtocolVersion: ProtocolVersion,
		},
		Message: msg,
	}
}

// NewHTTPRequest builds an http_request message with a fresh requestId.
func NewHTTPRequest(method, rawurl string, headers map[string]string, body []byte) Message {
	return NewHTTPRequestWithID(method, rawurl, headers, body, uuid.NewString())
}

// NewHTTPRequestWithID builds an http_request message carrying the
// caller's correlation token. Query parameters are extracted from the
// URL when it parses as absolute.
func NewHTTPRequestWithID(method, rawurl string, headers map[string]string, body []byte, requestID string) Message {
	if headers == nil {
		headers = map[string]string{}
	}
	queryParams := map[string]string{}
	if u, err := url.Parse(rawurl); err == nil && u.IsAbs() {
		for key, values := range u.Query() {
			if len(values) > 0 {
				queryParams[key] = values[0]
			}
		}
	}
	return NewMessage("http_request", &HTTPRequest{
		Method:      method,
		URL:         rawurl,
		Headers:     headers,
		Body:        Body(body),
		QueryParams: queryParams,
		RequestID:   requestID,
	})
}

// NewHTTPResponse builds an http_response message echoing requestID.
func NewHTTPResponse(status int, statusText string, headers map[string]string, body []byte, requestID string) Message {
	if headers == nil {
		headers = map[string]string{}
	}
	return NewMessage("http_response", &HTTPResponse{
		Status:     status,
		StatusText: statusText,
		Headers:    headers,
		Body:       Body(body),
		RequestID:  requestID,
	})
}

// NewAuthToken builds an auth_token message.
func NewAuthToken(token, tokenType string, scopes []string) Message {
	if scopes == nil {
		scopes = []string{}
	}
	return NewMessage("auth_token", &AuthToken{
		Token:     token,
		TokenType: tokenType,
		Scopes:    scopes,
	})
}

// NewPing builds a ping message stamped with the current time.
func NewPing() Message {
	return NewMessage("ping", &ControlPing{Timestamp: time.Now().UnixMilli()})
}

// NewPong builds a pong message echoing the ping's timestamp.
func NewPong(timestamp int64) Message {
	return NewMessage("pong", &ControlPong{Timestamp: timestamp})
}

// NewError builds an error message. relatedID ties the error to the
// request or message that caused it and may be empty.
func NewError(code, text string, category ErrorCategory, relatedID string) Message {
	return NewMessage("error", &ErrorPayload{
		Code:            code,
		Message:         text,
		RelatedID:       relatedID,
		Category:        category,
		RecoveryActions: []string{},
	})
}

// WithCorrelationID sets the correlation id used for request-response
// tracking.
func (m Message) WithCorrelationID(id string) Message {
	m.Metadata.CorrelationID = id
	return m
}

// WithSessionID sets the session id.
func (m Message) WithSessionID(id string) Message {
	m.Metadata.SessionID = id
	return m
}

// WithPriority overrides the default priority.
func (m Message) WithPriority(p Priority) Message {
	m.Metadata.Priority = p
	return m
}

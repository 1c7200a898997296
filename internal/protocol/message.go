// Package protocol defines the logical wire units exchanged between the
// server and its clients, and the codec that frames them on a TCP stream.
package protocol

import "time"

// Client-initiated actions.
const (
	ActionPresence      = "presence"
	ActionMessage       = "msg"
	ActionGetContacts   = "get_contacts"
	ActionAddContact    = "add_contact"
	ActionRemoveContact = "remove_contact"
	ActionUsersRequest  = "get_users"
	ActionPubKeyRequest = "pubkey_request"
	ActionExit          = "exit"
)

// Response codes. 511 is used in both directions during the handshake:
// server→client it carries the challenge, client→server the digest.
const (
	ResponseOK             = 200
	ResponseAccepted       = 202
	ResponseServiceRefresh = 205
	ResponseBadRequest     = 400
	ResponseDigest         = 511
)

// DigestAlgorithm identifies the keyed digest a client must apply to the
// challenge bytes.
const DigestAlgorithm = "hmac-sha256"

// Destination value addressing every registered client at once.
const BroadcastDest = "ALL"

// Message is a decoded protocol unit. A single struct covers every kind;
// unused fields stay empty and are omitted on the wire.
type Message struct {
	Action    string   `json:"action,omitempty"`
	Response  int      `json:"response,omitempty"`
	Time      int64    `json:"time,omitempty"`
	Account   string   `json:"account_name,omitempty"`
	To        string   `json:"to,omitempty"`
	From      string   `json:"from,omitempty"`
	Text      string   `json:"message_text,omitempty"`
	Error     string   `json:"error,omitempty"`
	Data      string   `json:"data,omitempty"`
	List      []string `json:"data_list,omitempty"`
	PublicKey string   `json:"pubkey,omitempty"`
	Algorithm string   `json:"algorithm,omitempty"`
}

// OK builds a generic success reply.
func OK() *Message {
	return &Message{Response: ResponseOK, Time: time.Now().Unix()}
}

// BadRequest builds an error reply with a human-readable reason.
func BadRequest(reason string) *Message {
	return &Message{Response: ResponseBadRequest, Error: reason, Time: time.Now().Unix()}
}

// Challenge builds a server→client authentication challenge. data is the
// base64 encoding of the random challenge bytes.
func Challenge(data string) *Message {
	return &Message{Response: ResponseDigest, Data: data, Algorithm: DigestAlgorithm, Time: time.Now().Unix()}
}

// DigestResponse builds the client→server reply carrying the keyed digest.
func DigestResponse(data string) *Message {
	return &Message{Response: ResponseDigest, Data: data, Time: time.Now().Unix()}
}

// NameList builds a reply carrying a list of names (contacts or users).
func NameList(names []string) *Message {
	return &Message{Response: ResponseAccepted, List: names, Time: time.Now().Unix()}
}

// PubKeyResponse builds a reply carrying a user's public key.
func PubKeyResponse(key string) *Message {
	return &Message{Response: ResponseAccepted, Data: key, Time: time.Now().Unix()}
}

// ServiceRefresh builds the unsolicited notice that global lists changed.
func ServiceRefresh() *Message {
	return &Message{Response: ResponseServiceRefresh, Time: time.Now().Unix()}
}

// Package gateway holds the wire contract of the remote verification endpoint
// shared by the server and its clients.
package gateway

import "encoding/json"

// Path is the single route the gateway exposes.
const Path = "/rekognition"

// DefaultCollectionID names the collection faces are indexed into and searched
// in when the caller does not supply one.
const DefaultCollectionID = "auth-selfies"

const (
	// MatchThreshold is the minimum similarity (0-100) for an authenticate match.
	MatchThreshold float32 = 90
	// MaxMatches is the number of matches an authenticate call returns.
	MaxMatches int32 = 1
)

// Action selects what the gateway does with the submitted images.
type Action string

const (
	ActionValidate     Action = "validate"
	ActionIndex        Action = "index"
	ActionAuthenticate Action = "authenticate"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionValidate, ActionIndex, ActionAuthenticate:
		return true
	}
	return false
}

// Request is the JSON body of POST /rekognition. Images are data URLs.
type Request struct {
	Action       Action   `json:"action"`
	Photo        string   `json:"photo,omitempty"`
	Photos       []string `json:"photos,omitempty"`
	CollectionID string   `json:"collectionId,omitempty"`
}

// Response is the JSON body returned by the gateway. Failures carry Error and
// Kind; a successful authenticate carries Match and a session Token.
type Response struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	Match     *Match          `json:"match,omitempty"`
	Token     string          `json:"token,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// Match describes the best enrolled face found for an authenticate call.
type Match struct {
	FaceID          string  `json:"faceId"`
	ExternalImageID string  `json:"externalImageId,omitempty"`
	Similarity      float32 `json:"similarity"`
	Confidence      float32 `json:"confidence,omitempty"`
}

// DetectionData is the data payload of a successful validate call.
type DetectionData struct {
	FaceCount   int       `json:"faceCount"`
	Confidences []float32 `json:"confidences"`
}

// IndexData is the data payload of a successful index call.
type IndexData struct {
	CollectionID string   `json:"collectionId"`
	FaceIDs      []string `json:"faceIds"`
}

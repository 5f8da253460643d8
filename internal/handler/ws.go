package handler

import (
	"github.com/efreitasn/singlebook/internal/service"
	"github.com/efreitasn/singlebook/internal/stream"
)

// depthMessage is the websocket frame pushed after every submission.
type depthMessage struct {
	Type  string        `json:"type"`
	Depth depthResponse `json:"depth"`
}

// DepthStream broadcasts depth views to websocket clients in the same
// JSON shape GET /depth returns.
type DepthStream struct {
	hub *stream.Hub
}

// NewDepthStream creates a DepthStream over hub.
func NewDepthStream(hub *stream.Hub) *DepthStream {
	return &DepthStream{hub: hub}
}

// PublishDepth implements service.DepthPublisher.
func (s *DepthStream) PublishDepth(v service.DepthView) {
	s.hub.Broadcast(depthMessage{Type: "depth", Depth: buildDepthResponse(v)})
}

// Package protocol is the message vocabulary exchanged between a view and
// its session. Messages are closed sets of Go types; receivers implement
// InboundHandler or OutboundHandler, so adding a message without handling
// it fails to compile.
package protocol

import (
	"context"

	"github.com/Slach/logs-insights/pkg/backend"
	"github.com/Slach/logs-insights/pkg/insights"
)

// Message type names used on the wire.
const (
	TypeExecute      = "execute"
	TypeStop         = "stop"
	TypeQuery        = "query"
	TypeSelect       = "select"
	TypeExpand       = "expand"
	TypeOpenRequest  = "open_request"
	TypeResult       = "result"
	TypeExpandResult = "expand_result"
)

// Inbound is a message sent by a view.
type Inbound interface {
	Type() string
	Dispatch(ctx context.Context, h InboundHandler) error
}

// InboundHandler receives every inbound message kind.
type InboundHandler interface {
	HandleExecute(ctx context.Context, msg Execute) error
	HandleStop(ctx context.Context, msg Stop) error
	HandleQuery(ctx context.Context, msg QueryEdit) error
	HandleSelect(ctx context.Context, msg Select) error
	HandleExpand(ctx context.Context, msg Expand) error
	HandleOpenRequest(ctx context.Context, msg OpenRequest) error
}

// Execute starts the document's query.
type Execute struct{}

// Stop stops the running query.
type Stop struct{}

// QueryEdit replaces the document content with the view's query.
type QueryEdit struct {
	Query insights.Query
}

// Select opens the log-group picker.
type Select struct{}

// Expand asks for the detail of one record.
type Expand struct {
	ID string `json:"id"`
}

// OpenRequest derives a correlated query from one record.
type OpenRequest struct {
	ID        string    `json:"id"`
	Timestamp Timestamp `json:"timestamp"`
}

func (Execute) Type() string     { return TypeExecute }
func (Stop) Type() string        { return TypeStop }
func (QueryEdit) Type() string   { return TypeQuery }
func (Select) Type() string      { return TypeSelect }
func (Expand) Type() string      { return TypeExpand }
func (OpenRequest) Type() string { return TypeOpenRequest }

func (m Execute) Dispatch(ctx context.Context, h InboundHandler) error {
	return h.HandleExecute(ctx, m)
}

func (m Stop) Dispatch(ctx context.Context, h InboundHandler) error {
	return h.HandleStop(ctx, m)
}

func (m QueryEdit) Dispatch(ctx context.Context, h InboundHandler) error {
	return h.HandleQuery(ctx, m)
}

func (m Select) Dispatch(ctx context.Context, h InboundHandler) error {
	return h.HandleSelect(ctx, m)
}

func (m Expand) Dispatch(ctx context.Context, h InboundHandler) error {
	return h.HandleExpand(ctx, m)
}

func (m OpenRequest) Dispatch(ctx context.Context, h InboundHandler) error {
	return h.HandleOpenRequest(ctx, m)
}

// Outbound is a message sent to a view.
type Outbound interface {
	Type() string
	Visit(h OutboundHandler) error
}

// OutboundHandler receives every outbound message kind.
type OutboundHandler interface {
	OnQuery(msg QuerySnapshot) error
	OnResult(msg Result) error
	OnExpandResult(msg ExpandResult) error
}

// QuerySnapshot is the current document content.
type QuerySnapshot struct {
	Query insights.Query
}

// Result is the latest poll result. It replaces whatever the view shows.
type Result struct {
	Page backend.ResultPage
}

// ExpandResult is the detail of one record, keyed by the requested id.
type ExpandResult struct {
	ID     string            `json:"id"`
	Record map[string]string `json:"record"`
}

func (QuerySnapshot) Type() string { return TypeQuery }
func (Result) Type() string        { return TypeResult }
func (ExpandResult) Type() string  { return TypeExpandResult }

func (m QuerySnapshot) Visit(h OutboundHandler) error { return h.OnQuery(m) }
func (m Result) Visit(h OutboundHandler) error        { return h.OnResult(m) }
func (m ExpandResult) Visit(h OutboundHandler) error  { return h.OnExpandResult(m) }

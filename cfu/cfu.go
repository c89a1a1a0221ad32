// Package cfu implements the Component Firmware Update request router: a
// coordinator that dispatches host-originated update requests to the
// registered component by ID, and a buffered content-chunk receiver for
// components that can't consume firmware data as fast as the host sends it.
package cfu

import (
	"context"
	"strconv"

	"ecfabric/errcode"
	"ecfabric/registry"
)

// ComponentID identifies one updatable component (e.g. a PD controller,
// a retimer, the EC itself).
type ComponentID uint8

// RequestKind enumerates the host->EC CFU protocol requests.
type RequestKind int

const (
	FwVersionRequest RequestKind = iota
	GiveOffer
	GiveContent
	PrepareComponentForUpdate
	FinalizeUpdate
	GiveOfferExtended
	GiveOfferInformation
)

// OfferStatus mirrors the CFU protocol's offer response status.
type OfferStatus int

const (
	OfferAccept OfferStatus = iota
	OfferReject
	OfferSkip
	OfferBusy
)

// OfferRejectReason mirrors the CFU protocol's offer rejection reasons.
type OfferRejectReason int

const (
	RejectReasonNone OfferRejectReason = iota
	RejectReasonInvalidComponent
	RejectReasonSwapPending
	RejectReasonMismatch
	RejectReasonBadBank
	RejectReasonMilestone
	RejectReasonInvalidVersion
)

// OfferCommand is the decoded host GiveOffer payload.
type OfferCommand struct {
	Version      uint32
	SegmentCount uint8
	ForceReset   bool
}

// ContentCommand is the decoded host GiveContent payload: one chunk of
// firmware data at a given sequence number.
type ContentCommand struct {
	SequenceNum uint16
	Data        []byte
	FirstBlock  bool
	LastBlock   bool
}

// RequestData is the routed unit the host sends, addressed to Component.
type RequestData struct {
	Component ComponentID
	Kind      RequestKind
	Offer     OfferCommand
	Content   ContentCommand
}

// ResponseKind enumerates the shapes a Component's reply can take.
type ResponseKind int

const (
	FwVersionResponse ResponseKind = iota
	OfferResponse
	ContentResponse
	CompleteResponse
)

// Response is what a Component (or the Coordinator itself, for rejected
// requests) returns for a RequestData.
type Response struct {
	Kind              ResponseKind
	FwVersion         uint32
	OfferStatus       OfferStatus
	OfferRejectReason OfferRejectReason
}

// Component is implemented by anything that can receive firmware updates.
type Component interface {
	FwVersion(ctx context.Context) (uint32, error)
	GiveOffer(ctx context.Context, offer OfferCommand) (Response, error)
	GiveContent(ctx context.Context, content ContentCommand) (Response, error)
	PrepareForUpdate(ctx context.Context) error
	FinalizeUpdate(ctx context.Context) error
}

type componentEntry struct {
	id   ComponentID
	comp Component
}

// Coordinator routes CFU requests by ComponentID to registered Components.
type Coordinator struct {
	components registry.Registry[*componentEntry]
}

// NewCoordinator constructs an empty Coordinator.
func NewCoordinator() *Coordinator { return &Coordinator{} }

func componentKey(id ComponentID) string { return "cfu-component#" + strconv.Itoa(int(id)) }

// RegisterComponent installs comp under id.
func (c *Coordinator) RegisterComponent(id ComponentID, comp Component) error {
	return c.components.Push(componentKey(id), &componentEntry{id: id, comp: comp})
}

// rejectedOffer builds the fixed offer-rejection response the reference
// implementation always sends for extended/information offers, before the
// request ever reaches a component.
func rejectedOffer() Response {
	return Response{Kind: OfferResponse, OfferStatus: OfferReject, OfferRejectReason: RejectReasonInvalidComponent}
}

// Route dispatches req to the component registered under req.Component.
// GiveOfferExtended and GiveOfferInformation are rejected unconditionally,
// without ever looking up a component, matching the reference CFU client's
// "don't currently support extended/information offers" behaviour.
func (c *Coordinator) Route(ctx context.Context, req RequestData) (Response, error) {
	if req.Kind == GiveOfferExtended || req.Kind == GiveOfferInformation {
		return rejectedOffer(), nil
	}

	entry, ok := c.components.Find(componentKey(req.Component))
	if !ok {
		return Response{}, errcode.New("cfu.Route", errcode.InvalidComponent)
	}
	comp := entry.comp

	switch req.Kind {
	case FwVersionRequest:
		ver, err := comp.FwVersion(ctx)
		if err != nil {
			return Response{}, errcode.Wrap("cfu.Route", errcode.ProtocolError, err)
		}
		return Response{Kind: FwVersionResponse, FwVersion: ver}, nil
	case GiveOffer:
		resp, err := comp.GiveOffer(ctx, req.Offer)
		if err != nil {
			return Response{}, errcode.Wrap("cfu.Route", errcode.ProtocolError, err)
		}
		return resp, nil
	case GiveContent:
		resp, err := comp.GiveContent(ctx, req.Content)
		if err != nil {
			return Response{}, errcode.Wrap("cfu.Route", errcode.ProtocolError, err)
		}
		return resp, nil
	case PrepareComponentForUpdate:
		if err := comp.PrepareForUpdate(ctx); err != nil {
			return Response{}, errcode.Wrap("cfu.Route", errcode.ProtocolError, err)
		}
		return Response{Kind: CompleteResponse}, nil
	case FinalizeUpdate:
		if err := comp.FinalizeUpdate(ctx); err != nil {
			return Response{}, errcode.Wrap("cfu.Route", errcode.ProtocolError, err)
		}
		return Response{Kind: CompleteResponse}, nil
	default:
		return Response{}, errcode.New("cfu.Route", errcode.UnrecognizedCommand)
	}
}

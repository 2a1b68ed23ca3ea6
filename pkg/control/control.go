package control

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/latticehq/hostd/pkg/bus"
	"github.com/latticehq/hostd/pkg/errs"
	"github.com/latticehq/hostd/pkg/types"
)

// Verbs under wasmbus.ctl.v1.<lattice>.<verb>, per spec.md §4.9.
const (
	VerbHostInventory    = "host.inventory"
	VerbHostStop         = "host.stop"
	VerbComponentScale   = "component.scale"
	VerbComponentUpdate  = "component.update"
	VerbProviderStart    = "provider.start"
	VerbProviderStop     = "provider.stop"
	VerbLinkPut          = "link.put"
	VerbLinkDelete       = "link.delete"
	VerbConfigPut        = "config.put"
	VerbConfigDelete     = "config.delete"
	VerbAuctionComponent = "auction.component"
	VerbAuctionProvider  = "auction.provider"
)

const writerGroup = "control-writers"

func subject(lattice, verb string) string {
	return fmt.Sprintf("wasmbus.ctl.v1.%s.%s", lattice, verb)
}

// Ack is the response envelope of spec.md §4.9 for every verb that
// isn't itself a data query (host.inventory excepted).
type Ack struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

func ackFor(err error) Ack {
	if err == nil {
		return Ack{Accepted: true}
	}
	return Ack{Accepted: false, Error: err.Error()}
}

// asAckErr turns a refused Ack back into an error on the client side,
// so callers branch on err rather than inspecting Accepted themselves.
func (a Ack) asAckErr() error {
	if a.Accepted {
		return nil
	}
	return errs.New(errs.KindConflict, a.Error)
}

type hostInventoryRequest struct {
	HostID string `json:"host_id"`
}

type hostStopRequest struct {
	HostID      string `json:"host_id"`
	DeadlineMS  int64  `json:"deadline_ms"`
}

type componentScaleRequest struct {
	HostID      string   `json:"host_id"`
	ID          string   `json:"id"`
	ImageRef    string   `json:"image_ref"`
	Count       int      `json:"count"`
	ConfigNames []string `json:"config_names,omitempty"`
}

type componentUpdateRequest struct {
	HostID      string `json:"host_id"`
	ID          string `json:"id"`
	NewImageRef string `json:"new_image_ref"`
}

type providerStartRequest struct {
	HostID      string   `json:"host_id"`
	ID          string   `json:"id"`
	ImageRef    string   `json:"image_ref"`
	LinkName    string   `json:"link_name"`
	ConfigNames []string `json:"config_names,omitempty"`
}

type providerStopRequest struct {
	HostID   string `json:"host_id"`
	ID       string `json:"id"`
	LinkName string `json:"link_name"`
}

type linkPutRequest struct {
	Link *types.Link `json:"link"`
}

type linkDeleteRequest struct {
	Source    string `json:"source"`
	Namespace string `json:"namespace"`
	Package   string `json:"package"`
	Name      string `json:"name"`
}

type configPutRequest struct {
	Name   string            `json:"name"`
	Values map[string]string `json:"values"`
}

type configDeleteRequest struct {
	Name string `json:"name"`
}

// auctionRequest carries ReplyTo because an auction fans out to every
// eligible host and each must reply independently; Bus.Request only
// ever captures a single response, so auctions use Publish plus a
// caller-owned reply inbox instead (see Client.AuctionComponent).
type auctionRequest struct {
	ImageRef    string            `json:"image_ref"`
	LinkName    string            `json:"link_name,omitempty"`
	Constraints map[string]string `json:"constraints,omitempty"`
	ReplyTo     string            `json:"reply_to"`
}

// AuctionBid is one eligible host's reply to an auction broadcast.
type AuctionBid struct {
	HostID string            `json:"host_id"`
	Labels map[string]string `json:"labels"`
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errs.Wrap(errs.KindDataCorruption, "decode control protocol payload", err)
	}
	return nil
}

func requestAck(ctx context.Context, b bus.Bus, subj string, payload []byte, timeout time.Duration) (Ack, error) {
	resp, err := b.Request(ctx, subj, payload, timeout)
	if err != nil {
		return Ack{}, err
	}
	var ack Ack
	if err := decode(resp, &ack); err != nil {
		return Ack{}, err
	}
	return ack, nil
}

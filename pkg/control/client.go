package control

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/latticehq/hostd/pkg/bus"
	"github.com/latticehq/hostd/pkg/errs"
	"github.com/latticehq/hostd/pkg/types"
)

// Client issues control-protocol requests. It is the thin layer
// cmd/latticectl builds its verb-per-command mapping on (spec.md
// §6.6), and what test/e2e drives hosts through.
type Client struct {
	b       bus.Bus
	lattice string
	timeout time.Duration
}

// NewClient creates a Client. timeout bounds every non-auction
// request; a zero value defaults to 5 seconds.
func NewClient(b bus.Bus, lattice string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{b: b, lattice: lattice, timeout: timeout}
}

func (c *Client) send(ctx context.Context, verb string, req any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, "marshal control request", err)
	}
	ack, err := requestAck(ctx, c.b, subject(c.lattice, verb), payload, c.timeout)
	if err != nil {
		return err
	}
	return ack.asAckErr()
}

// Inventory fetches hostID's self-reported snapshot. An empty hostID
// reaches whichever host answers first.
func (c *Client) Inventory(ctx context.Context, hostID string) (*types.Inventory, error) {
	payload, err := json.Marshal(hostInventoryRequest{HostID: hostID})
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "marshal inventory request", err)
	}
	resp, err := c.b.Request(ctx, subject(c.lattice, VerbHostInventory), payload, c.timeout)
	if err != nil {
		return nil, err
	}
	var inv types.Inventory
	if err := decode(resp, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (c *Client) StopHost(ctx context.Context, hostID string, deadline time.Duration) error {
	return c.send(ctx, VerbHostStop, hostStopRequest{HostID: hostID, DeadlineMS: deadline.Milliseconds()})
}

func (c *Client) ScaleComponent(ctx context.Context, hostID, id, imageRef string, count int, configNames []string) error {
	return c.send(ctx, VerbComponentScale, componentScaleRequest{
		HostID: hostID, ID: id, ImageRef: imageRef, Count: count, ConfigNames: configNames,
	})
}

func (c *Client) UpdateComponent(ctx context.Context, hostID, id, newImageRef string) error {
	return c.send(ctx, VerbComponentUpdate, componentUpdateRequest{HostID: hostID, ID: id, NewImageRef: newImageRef})
}

func (c *Client) StartProvider(ctx context.Context, hostID, id, imageRef, linkName string, configNames []string) error {
	return c.send(ctx, VerbProviderStart, providerStartRequest{
		HostID: hostID, ID: id, ImageRef: imageRef, LinkName: linkName, ConfigNames: configNames,
	})
}

func (c *Client) StopProvider(ctx context.Context, hostID, id, linkName string) error {
	return c.send(ctx, VerbProviderStop, providerStopRequest{HostID: hostID, ID: id, LinkName: linkName})
}

func (c *Client) PutLink(ctx context.Context, link *types.Link) error {
	return c.send(ctx, VerbLinkPut, linkPutRequest{Link: link})
}

func (c *Client) DeleteLink(ctx context.Context, source, namespace, pkg, name string) error {
	return c.send(ctx, VerbLinkDelete, linkDeleteRequest{Source: source, Namespace: namespace, Package: pkg, Name: name})
}

func (c *Client) PutConfig(ctx context.Context, name string, values map[string]string) error {
	return c.send(ctx, VerbConfigPut, configPutRequest{Name: name, Values: values})
}

func (c *Client) DeleteConfig(ctx context.Context, name string) error {
	return c.send(ctx, VerbConfigDelete, configDeleteRequest{Name: name})
}

// AuctionComponent broadcasts an image_ref/constraints placement
// query and collects every eligible host's bid for window. Unlike
// every other verb, an auction has no single reply: Bus.Request only
// captures one response, so this subscribes its own reply inbox and
// publishes the request instead (see auctionRequest.ReplyTo).
func (c *Client) AuctionComponent(ctx context.Context, imageRef string, constraints map[string]string, window time.Duration) ([]AuctionBid, error) {
	return c.auction(ctx, VerbAuctionComponent, auctionRequest{ImageRef: imageRef, Constraints: constraints}, window)
}

// AuctionProvider is AuctionComponent for provider placement.
func (c *Client) AuctionProvider(ctx context.Context, imageRef, linkName string, constraints map[string]string, window time.Duration) ([]AuctionBid, error) {
	return c.auction(ctx, VerbAuctionProvider, auctionRequest{ImageRef: imageRef, LinkName: linkName, Constraints: constraints}, window)
}

func (c *Client) auction(ctx context.Context, verb string, req auctionRequest, window time.Duration) ([]AuctionBid, error) {
	inbox := subject(c.lattice, verb) + ".reply." + uuid.NewString()
	req.ReplyTo = inbox

	var mu sync.Mutex
	var bids []AuctionBid
	sub, err := c.b.Subscribe(ctx, inbox, func(msg *bus.Msg) {
		var bid AuctionBid
		if err := json.Unmarshal(msg.Data, &bid); err != nil {
			return
		}
		mu.Lock()
		bids = append(bids, bid)
		mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "marshal auction request", err)
	}
	if err := c.b.Publish(ctx, subject(c.lattice, verb), payload); err != nil {
		return nil, err
	}

	select {
	case <-time.After(window):
	case <-ctx.Done():
		mu.Lock()
		defer mu.Unlock()
		return bids, ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	return bids, nil
}

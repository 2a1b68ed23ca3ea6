package control

import (
	"context"
	"encoding/json"
	"time"

	"github.com/latticehq/hostd/pkg/bus"
	"github.com/latticehq/hostd/pkg/log"
	"github.com/latticehq/hostd/pkg/types"
)

// Host is the subset of pkg/host.Host the control server dispatches
// onto. *host.Host satisfies this structurally.
type Host interface {
	HostID() string
	Labels() map[string]string

	Inventory(ctx context.Context) (*types.Inventory, error)
	StopHost(ctx context.Context, deadline time.Duration) error
	ScaleComponent(ctx context.Context, id, imageRef string, count int, configNames []string) error
	UpdateComponent(ctx context.Context, id, newImageRef string) error
	StartProvider(ctx context.Context, id, imageRef, linkName string, configNames []string) error
	StopProvider(ctx context.Context, id, linkName string) error
	PutLink(ctx context.Context, link *types.Link) error
	DeleteLink(ctx context.Context, key types.LinkKey) error
	PutConfig(ctx context.Context, name string, values map[string]string) error
	DeleteConfig(ctx context.Context, name string) error
}

// Server answers control-protocol requests on behalf of one host.
type Server struct {
	b       bus.Bus
	lattice string
	host    Host

	subs []bus.Subscription
}

// NewServer creates a Server. Call Start to begin answering requests.
func NewServer(b bus.Bus, lattice string, host Host) *Server {
	return &Server{b: b, lattice: lattice, host: host}
}

// Start subscribes to every verb subject this host answers. Host-
// scoped verbs (host.*, component.*, provider.*) are plain
// subscriptions gated on a matching host_id, since every host in the
// lattice shares the same well-known subject; link/config verbs use a
// shared queue group so exactly one host performs the (idempotent) KV
// write; auction verbs are plain subscriptions that reply only when
// this host is eligible.
func (s *Server) Start(ctx context.Context) error {
	hostScoped := map[string]bus.Handler{
		VerbHostInventory:   s.handleHostInventory,
		VerbHostStop:        s.handleHostStop,
		VerbComponentScale:  s.handleComponentScale,
		VerbComponentUpdate: s.handleComponentUpdate,
		VerbProviderStart:   s.handleProviderStart,
		VerbProviderStop:    s.handleProviderStop,
	}
	for verb, h := range hostScoped {
		sub, err := s.b.Subscribe(ctx, subject(s.lattice, verb), s.wrap(ctx, h))
		if err != nil {
			return err
		}
		s.subs = append(s.subs, sub)
	}

	writerVerbs := map[string]bus.Handler{
		VerbLinkPut:      s.handleLinkPut,
		VerbLinkDelete:   s.handleLinkDelete,
		VerbConfigPut:    s.handleConfigPut,
		VerbConfigDelete: s.handleConfigDelete,
	}
	for verb, h := range writerVerbs {
		sub, err := s.b.QueueSubscribe(ctx, subject(s.lattice, verb), writerGroup, s.wrap(ctx, h))
		if err != nil {
			return err
		}
		s.subs = append(s.subs, sub)
	}

	auctionVerbs := map[string]bus.Handler{
		VerbAuctionComponent: s.handleAuctionComponent,
		VerbAuctionProvider:  s.handleAuctionProvider,
	}
	for verb, h := range auctionVerbs {
		sub, err := s.b.Subscribe(ctx, subject(s.lattice, verb), h)
		if err != nil {
			return err
		}
		s.subs = append(s.subs, sub)
	}

	log.Logger.Info().Str("host_id", s.host.HostID()).Msg("control server listening")
	return nil
}

// Stop unsubscribes from every verb subject.
func (s *Server) Stop() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
}

// wrap adapts a context-carrying handler to bus.Handler, publishing
// the handler's reply (if any) to msg.Reply. Handlers that don't
// reply (malformed request, wrong host_id) simply return nil.
func (s *Server) wrap(ctx context.Context, h func(context.Context, *bus.Msg) []byte) bus.Handler {
	return func(msg *bus.Msg) {
		reply := h(ctx, msg)
		if reply == nil || msg.Reply == "" {
			return
		}
		if err := s.b.Publish(ctx, msg.Reply, reply); err != nil {
			log.Logger.Warn().Err(err).Str("reply_subject", msg.Reply).Msg("control: failed to publish reply")
		}
	}
}

func (s *Server) replyAck(err error) []byte {
	data, _ := json.Marshal(ackFor(err))
	return data
}

func (s *Server) handleHostInventory(ctx context.Context, msg *bus.Msg) []byte {
	var req hostInventoryRequest
	if err := decode(msg.Data, &req); err != nil {
		return nil
	}
	if req.HostID != "" && req.HostID != s.host.HostID() {
		return nil
	}
	inv, err := s.host.Inventory(ctx)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("control: host.inventory failed")
		return nil
	}
	data, err := json.Marshal(inv)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("control: marshal inventory response failed")
		return nil
	}
	return data
}

func (s *Server) handleHostStop(ctx context.Context, msg *bus.Msg) []byte {
	var req hostStopRequest
	if err := decode(msg.Data, &req); err != nil {
		return nil
	}
	if req.HostID != "" && req.HostID != s.host.HostID() {
		return nil
	}
	err := s.host.StopHost(ctx, time.Duration(req.DeadlineMS)*time.Millisecond)
	return s.replyAck(err)
}

func (s *Server) handleComponentScale(ctx context.Context, msg *bus.Msg) []byte {
	var req componentScaleRequest
	if err := decode(msg.Data, &req); err != nil {
		return nil
	}
	if req.HostID != "" && req.HostID != s.host.HostID() {
		return nil
	}
	err := s.host.ScaleComponent(ctx, req.ID, req.ImageRef, req.Count, req.ConfigNames)
	return s.replyAck(err)
}

func (s *Server) handleComponentUpdate(ctx context.Context, msg *bus.Msg) []byte {
	var req componentUpdateRequest
	if err := decode(msg.Data, &req); err != nil {
		return nil
	}
	if req.HostID != "" && req.HostID != s.host.HostID() {
		return nil
	}
	err := s.host.UpdateComponent(ctx, req.ID, req.NewImageRef)
	return s.replyAck(err)
}

func (s *Server) handleProviderStart(ctx context.Context, msg *bus.Msg) []byte {
	var req providerStartRequest
	if err := decode(msg.Data, &req); err != nil {
		return nil
	}
	if req.HostID != "" && req.HostID != s.host.HostID() {
		return nil
	}
	err := s.host.StartProvider(ctx, req.ID, req.ImageRef, req.LinkName, req.ConfigNames)
	return s.replyAck(err)
}

func (s *Server) handleProviderStop(ctx context.Context, msg *bus.Msg) []byte {
	var req providerStopRequest
	if err := decode(msg.Data, &req); err != nil {
		return nil
	}
	if req.HostID != "" && req.HostID != s.host.HostID() {
		return nil
	}
	err := s.host.StopProvider(ctx, req.ID, req.LinkName)
	return s.replyAck(err)
}

func (s *Server) handleLinkPut(ctx context.Context, msg *bus.Msg) []byte {
	var req linkPutRequest
	if err := decode(msg.Data, &req); err != nil {
		return nil
	}
	err := s.host.PutLink(ctx, req.Link)
	return s.replyAck(err)
}

func (s *Server) handleLinkDelete(ctx context.Context, msg *bus.Msg) []byte {
	var req linkDeleteRequest
	if err := decode(msg.Data, &req); err != nil {
		return nil
	}
	key := types.LinkKey{SourceID: req.Source, Namespace: req.Namespace, Package: req.Package, Name: req.Name}
	err := s.host.DeleteLink(ctx, key)
	return s.replyAck(err)
}

func (s *Server) handleConfigPut(ctx context.Context, msg *bus.Msg) []byte {
	var req configPutRequest
	if err := decode(msg.Data, &req); err != nil {
		return nil
	}
	err := s.host.PutConfig(ctx, req.Name, req.Values)
	return s.replyAck(err)
}

func (s *Server) handleConfigDelete(ctx context.Context, msg *bus.Msg) []byte {
	var req configDeleteRequest
	if err := decode(msg.Data, &req); err != nil {
		return nil
	}
	err := s.host.DeleteConfig(ctx, req.Name)
	return s.replyAck(err)
}

func (s *Server) handleAuctionComponent(msg *bus.Msg) {
	s.handleAuction(msg, func(req auctionRequest) bool {
		return matchesConstraints(s.host.Labels(), req.Constraints)
	})
}

func (s *Server) handleAuctionProvider(msg *bus.Msg) {
	s.handleAuction(msg, func(req auctionRequest) bool {
		return matchesConstraints(s.host.Labels(), req.Constraints)
	})
}

func (s *Server) handleAuction(msg *bus.Msg, eligible func(auctionRequest) bool) {
	var req auctionRequest
	if err := decode(msg.Data, &req); err != nil {
		return
	}
	if req.ReplyTo == "" || !eligible(req) {
		return
	}
	bid := AuctionBid{HostID: s.host.HostID(), Labels: s.host.Labels()}
	data, err := json.Marshal(bid)
	if err != nil {
		return
	}
	if err := s.b.Publish(context.Background(), req.ReplyTo, data); err != nil {
		log.Logger.Warn().Err(err).Str("host_id", s.host.HostID()).Msg("control: failed to publish auction bid")
	}
}

// matchesConstraints reports whether labels satisfies every key/value
// pair in constraints. An empty constraint set matches any host.
func matchesConstraints(labels, constraints map[string]string) bool {
	for k, v := range constraints {
		if labels[k] != v {
			return false
		}
	}
	return true
}

package server

import (
	"github.com/plazachat/plaza/pkg/protocol"
)

// Router decides which sessions receive which outbound messages. It owns no
// state of its own; recipients resolve through the registry, and the server
// is the sole authority on sender identity.
type Router struct {
	registry *Registry
	metrics  *Metrics
}

// NewRouter creates a router over the given registry.
func NewRouter(registry *Registry, metrics *Metrics) *Router {
	return &Router{registry: registry, metrics: metrics}
}

// HandleMessage dispatches one decoded inbound message from a session.
// Chat traffic from a session that has not logged in is dropped without a
// reply: the protocol does not challenge pre-login senders.
func (r *Router) HandleMessage(sess *Session, msg protocol.Message) {
	if r.metrics != nil {
		r.metrics.RecordMessageReceived(msg.MessageType())
	}

	switch m := msg.(type) {
	case *protocol.LoginMessage:
		r.handleLogin(sess, m)
	case *protocol.LogoutMessage:
		r.CloseSession(sess)
	case *protocol.SquareTextMessage:
		r.handleSquareText(sess, m)
	case *protocol.PrivateTextMessage:
		r.handlePrivateText(sess, m)
	case *protocol.SquareMediaMessage:
		r.handleSquareMedia(sess, m)
	case *protocol.PrivateMediaMessage:
		r.handlePrivateMedia(sess, m)
	default:
		// Server-to-client types arriving from a client.
		debugLog.Printf("session %d: ignoring inbound %s", sess.ID, msg.MessageType())
	}
}

// handleLogin runs the Connected -> Active transition: register, send the
// roster back (including the new entry itself), announce to everyone else.
func (r *Router) handleLogin(sess *Session, msg *protocol.LoginMessage) {
	addr := protocol.Address{IP: msg.LocalIP, Port: msg.LocalPort.Int()}
	if !sess.Activate(msg.Username, addr) {
		debugLog.Printf("session %d: duplicate login ignored (user %q)", sess.ID, msg.Username)
		return
	}

	r.registry.Register(sess)
	normalLog.Printf("session %d: login %q claiming %s", sess.ID, msg.Username, addr)

	users := make([]protocol.RosterUser, 0, r.registry.Count())
	for _, info := range r.registry.Snapshot() {
		users = append(users, protocol.RosterUser{Username: info.Username, Address: info.Address})
	}
	r.deliver(sess, &protocol.RosterMessage{
		Users:     users,
		Timestamp: protocol.Timestamp(),
	})

	r.broadcast(sess.ID, &protocol.FriendLoginMessage{
		Username:  msg.Username,
		LocalIP:   addr.IP,
		LocalPort: protocol.PortNumber(addr.Port),
		Timestamp: protocol.Timestamp(),
	})
}

// CloseSession runs the Active -> Closed transition. Reentrant-safe: the
// logout handler and the connection handler's cleanup path may both land
// here for the same session, and the registry's idempotent unregister
// guarantees exactly one one_user_logout broadcast.
func (r *Router) CloseSession(sess *Session) {
	sess.MarkClosed()

	info, wasRegistered := r.registry.Unregister(sess.ID)
	if wasRegistered {
		normalLog.Printf("session %d: logout %q (%s)", sess.ID, info.Username, info.Address)
		r.broadcast(sess.ID, &protocol.UserLogoutMessage{
			Username:  info.Username,
			LocalIP:   info.Address.IP,
			LocalPort: protocol.PortNumber(info.Address.Port),
			Timestamp: protocol.Timestamp(),
		})
	}

	sess.Conn.Close()
}

func (r *Router) handleSquareText(sess *Session, msg *protocol.SquareTextMessage) {
	info, ok := sess.Info()
	if !ok {
		debugLog.Printf("session %d: square message before login dropped", sess.ID)
		return
	}

	r.broadcast(sess.ID, &protocol.SquareTextMessage{
		Sender:    senderOf(info),
		Content:   msg.Content,
		Timestamp: orNow(msg.Timestamp),
	})
}

func (r *Router) handlePrivateText(sess *Session, msg *protocol.PrivateTextMessage) {
	info, ok := sess.Info()
	if !ok {
		debugLog.Printf("session %d: private message before login dropped", sess.ID)
		return
	}

	r.routePrivate(sess, msg.TargetIP, msg.TargetPort.Int(), &protocol.PrivateTextMessage{
		Sender:    senderOf(info),
		Content:   msg.Content,
		Timestamp: orNow(msg.Timestamp),
	})
}

func (r *Router) handleSquareMedia(sess *Session, msg *protocol.SquareMediaMessage) {
	info, ok := sess.Info()
	if !ok {
		debugLog.Printf("session %d: square %s before login dropped", sess.ID, msg.Kind)
		return
	}

	debugLog.Printf("session %d: square %s %q [media elided, %d bytes]",
		sess.ID, msg.Kind, msg.FileName, len(msg.Data))

	r.broadcast(sess.ID, &protocol.SquareMediaMessage{
		Sender:    senderOf(info),
		Kind:      msg.Kind,
		Data:      msg.Data,
		Ext:       msg.Ext,
		FileName:  msg.FileName,
		Timestamp: orNow(msg.Timestamp),
	})
}

func (r *Router) handlePrivateMedia(sess *Session, msg *protocol.PrivateMediaMessage) {
	info, ok := sess.Info()
	if !ok {
		debugLog.Printf("session %d: private %s before login dropped", sess.ID, msg.Kind)
		return
	}

	debugLog.Printf("session %d: private %s %q to %s:%d [media elided, %d bytes]",
		sess.ID, msg.Kind, msg.FileName, msg.TargetIP, msg.TargetPort.Int(), len(msg.Data))

	r.routePrivate(sess, msg.TargetIP, msg.TargetPort.Int(), &protocol.PrivateMediaMessage{
		Sender:    senderOf(info),
		Kind:      msg.Kind,
		Data:      msg.Data,
		Ext:       msg.Ext,
		FileName:  msg.FileName,
		Timestamp: orNow(msg.Timestamp),
	})
}

// routePrivate delivers one copy to the session registered at the target
// address, first match on duplicates. An unknown target is a silent drop;
// the sender gets neither an error nor a confirmation.
func (r *Router) routePrivate(origin *Session, targetIP string, targetPort int, out protocol.Message) {
	target, found := r.registry.FindByAddress(targetIP, targetPort)
	if !found {
		debugLog.Printf("session %d: no session at %s:%d, message dropped", origin.ID, targetIP, targetPort)
		if r.metrics != nil {
			r.metrics.RecordPrivateDeliveryMiss()
		}
		return
	}

	if err := r.deliver(target, out); err != nil {
		// The target's connection is presumably dead; run its own
		// cleanup rather than surfacing anything to the sender.
		r.CloseSession(target)
	}
}

// broadcast fans out to every registered session except the origin.
// A recipient whose write fails gets its Closed transition; the fan-out
// itself never aborts.
func (r *Router) broadcast(origin uint64, msg protocol.Message) {
	payload, err := protocol.Encode(msg)
	if err != nil {
		normalLog.Printf("broadcast encode failed (%s): %v", msg.MessageType(), err)
		return
	}

	delivered := 0
	failed := r.registry.ForEachExcept(origin, func(sess *Session) error {
		if err := sess.Conn.WriteFrame(payload); err != nil {
			return err
		}
		delivered++
		if r.metrics != nil {
			r.metrics.RecordMessageSent(msg.MessageType(), len(payload))
		}
		return nil
	})

	if r.metrics != nil {
		r.metrics.RecordBroadcastFanout(delivered)
	}

	for _, sess := range failed {
		r.CloseSession(sess)
	}
}

// deliver sends one message to one session.
func (r *Router) deliver(sess *Session, msg protocol.Message) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := sess.Conn.WriteFrame(payload); err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.RecordMessageSent(msg.MessageType(), len(payload))
	}
	return nil
}

func senderOf(info SessionInfo) protocol.Sender {
	return protocol.Sender{
		Username: info.Username,
		IP:       info.Address.IP,
		Port:     protocol.PortNumber(info.Address.Port),
	}
}

// orNow keeps the client's own timestamp on chat messages, filling in the
// server clock only when the client sent none.
func orNow(ts string) string {
	if ts == "" {
		return protocol.Timestamp()
	}
	return ts
}

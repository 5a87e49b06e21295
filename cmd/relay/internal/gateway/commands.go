package gateway

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/market"
	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/protocol"
)

// HandleCommand applies one client request to the session's user and answers
// on the same connection.
func (m *Manager) HandleCommand(ctx context.Context, sess *Session, req protocol.WSRequest) {
	if sess.State() != StateActive {
		return
	}

	switch req.Action {
	case protocol.ActionSubscribe:
		m.handleSubscribe(ctx, sess, req)
	case protocol.ActionUnsubscribe:
		m.handleUnsubscribe(ctx, sess, req)
	case protocol.ActionUnsubscribeAll:
		m.handleUnsubscribeAll(ctx, sess, req)
	default:
		sendError(sess.conn, req.ID, "Unknown action")
	}
}

func (m *Manager) handleSubscribe(ctx context.Context, sess *Session, req protocol.WSRequest) {
	var added []market.Symbol
	for _, raw := range req.Payload.Symbols {
		sym, fresh, err := m.Subscribe(ctx, sess.token, raw)
		if err != nil {
			if !errors.Is(err, market.ErrUnknownSymbol) {
				m.logger.Error("Subscribe failed", zap.String("conn_id", sess.ID()), zap.String("symbol", raw), zap.Error(err))
				sendError(sess.conn, req.ID, "Subscription could not be saved")
				return
			}
			continue
		}
		if fresh {
			added = append(added, sym)
		}
	}

	if len(added) == 0 {
		sendError(sess.conn, req.ID, "No valid/new symbols provided")
		return
	}
	sendAck(sess.conn, req.ID, "success", fmt.Sprintf("Subscribed to %v", added))
}

func (m *Manager) handleUnsubscribe(ctx context.Context, sess *Session, req protocol.WSRequest) {
	var removed []market.Symbol
	for _, raw := range req.Payload.Symbols {
		sym, err := m.Unsubscribe(ctx, sess.token, raw)
		if err != nil {
			if !errors.Is(err, ErrNotSubscribed) {
				m.logger.Error("Unsubscribe failed", zap.String("conn_id", sess.ID()), zap.String("symbol", raw), zap.Error(err))
				sendError(sess.conn, req.ID, "Subscription could not be saved")
				return
			}
			continue
		}
		removed = append(removed, sym)
	}

	if len(removed) == 0 {
		sendError(sess.conn, req.ID, fmt.Sprintf("Not subscribed to: %v", req.Payload.Symbols))
		return
	}
	sendAck(sess.conn, req.ID, "success", fmt.Sprintf("Unsubscribed from %v", removed))
}

func (m *Manager) handleUnsubscribeAll(ctx context.Context, sess *Session, req protocol.WSRequest) {
	if _, err := m.UnsubscribeAll(ctx, sess.token); err != nil {
		m.logger.Error("Unsubscribe all failed", zap.String("conn_id", sess.ID()), zap.Error(err))
		sendError(sess.conn, req.ID, "Subscription could not be saved")
		return
	}
	sendAck(sess.conn, req.ID, "success", "Unsubscribed from all symbols")
}

func sendAck(c Conn, id, status, msg string) {
	c.SendJSON(protocol.WSResponse{Type: "ack", ID: id, Status: status, Message: msg})
}

func sendError(c Conn, id, msg string) {
	c.SendJSON(protocol.WSResponse{Type: "error", ID: id, Message: msg})
}

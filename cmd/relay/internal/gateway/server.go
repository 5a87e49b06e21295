package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/protocol"
	"github.com/shubham-shewale/stock-relay/pkg/config"
)

const commandTimeout = 5 * time.Second

// Server upgrades /ws requests and hands each connection to the Manager.
type Server struct {
	manager *Manager
	logger  *zap.Logger
	cfg     config.GatewayConfig
}

func NewServer(manager *Manager, logger *zap.Logger, cfg config.GatewayConfig) *Server {
	return &Server{manager: manager, logger: logger, cfg: cfg}
}

func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Debug("Upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn, s.logger, s.cfg)
	token := r.URL.Query().Get("token")

	sess, err := s.manager.Open(r.Context(), token, client)
	if err != nil {
		code, reason := CloseStatus(err)
		client.Reject(code, reason)
		return
	}

	client.Start(
		func(req protocol.WSRequest) {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			s.manager.HandleCommand(ctx, sess, req)
		},
		func() { s.manager.Close(sess) },
	)
}

// CloseStatus maps an Open error to the close frame sent to the client.
func CloseStatus(err error) (ws.StatusCode, string) {
	switch {
	case errors.Is(err, ErrTokenRequired):
		return ws.StatusPolicyViolation, protocol.ReasonTokenRequired
	case errors.Is(err, ErrInvalidToken):
		return ws.StatusPolicyViolation, protocol.ReasonInvalidToken
	default:
		return ws.StatusInternalServerError, protocol.ReasonStoreUnavailable
	}
}

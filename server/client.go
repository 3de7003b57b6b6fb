package server

import (
	"context"
	"errors"

	"github.com/accelist/authgateway/principal"
	"github.com/accelist/authgateway/security"
	"github.com/accelist/authgateway/storage"
)

// AuthenticateMachineClient authenticates a trusted backend calling the
// claims recording API and checks it holds the identity-management scope.
// Unknown client IDs and wrong secrets both return ErrInvalidCredentials, so
// callers cannot probe for registered client IDs.
func (s *Server) AuthenticateMachineClient(ctx context.Context, clientID, clientSecret, clientIP string) (*storage.MachineClient, error) {
	if clientID == "" || clientSecret == "" {
		s.auditAuthFailure(ctx, clientID, clientIP, "missing credentials")
		return nil, ErrInvalidCredentials
	}

	if err := s.clientStore.ValidateClientSecret(ctx, clientID, clientSecret); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		s.auditAuthFailure(ctx, clientID, clientIP, "invalid credentials")
		return nil, ErrInvalidCredentials
	}

	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if !client.HasScope(principal.ScopeIdentityManagement) {
		s.auditInsufficientScope(ctx, clientID, clientIP)
		return nil, ErrInsufficientScope
	}

	return client, nil
}

func (s *Server) auditAuthFailure(ctx context.Context, clientID, clientIP, reason string) {
	if s.Auditor != nil {
		s.Auditor.LogAuthFailure(clientID, clientIP, reason)
	}
	if m := s.metrics(); m != nil {
		m.RecordAuthFailure(ctx, reason)
	}
	s.Logger.Warn("Machine client authentication failed",
		"client_id", clientID,
		"reason", reason)
}

func (s *Server) auditInsufficientScope(ctx context.Context, clientID, clientIP string) {
	if s.Auditor != nil {
		s.Auditor.LogEvent(security.Event{
			Type:      security.EventInsufficientScope,
			ClientID:  clientID,
			IPAddress: clientIP,
			Details: map[string]any{
				"required_scope": principal.ScopeIdentityManagement,
			},
		})
	}
	if m := s.metrics(); m != nil {
		m.RecordAuthFailure(ctx, "insufficient_scope")
	}
	s.Logger.Warn("Machine client lacks required scope",
		"client_id", clientID,
		"required_scope", principal.ScopeIdentityManagement)
}

package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"
	"go.uber.org/multierr"

	"adaptive-proxy/pkg/dialer"
	"adaptive-proxy/pkg/httpwire"
	"adaptive-proxy/pkg/models"
)

// ErrNoRoute means every configuration offered for a request failed.
var ErrNoRoute = errors.New("no configuration could reach the destination")

// dial tries cfgs in order and returns the first outbound stream that is ready
// for relaying.
func (s *Server) dial(ctx context.Context, logger *slog.Logger, header httpwire.RequestHeader, cfgs []models.NetClientConfiguration) (transport.StreamConn, models.NetClientConfiguration, error) {
	if len(cfgs) == 0 {
		return nil, models.NetClientConfiguration{}, fmt.Errorf("%w %s: no configurations", ErrNoRoute, header.URI.EndPoint)
	}

	var errs error
	for _, cfg := range cfgs {
		conn, err := s.dialWithRetries(ctx, cfg, header)
		if err == nil {
			s.metrics.DialAttempt(cfg.Name, "ok")
			return conn, cfg, nil
		}
		if ctx.Err() != nil {
			return nil, cfg, ctx.Err()
		}
		s.metrics.DialAttempt(cfg.Name, "failed")
		if dialer.IsHandshakeError(err) {
			logger.Warn("Upstream proxy refused the request", "configuration", cfg.Name, "error", err)
		} else {
			logger.Debug("Dial failed", "configuration", cfg.Name, "error", err)
		}
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", cfg.Name, err))
	}
	return nil, models.NetClientConfiguration{}, fmt.Errorf("%w %s: %w", ErrNoRoute, header.URI.EndPoint, errs)
}

// dialWithRetries retries connect failures up to cfg.MaxHits times spaced by
// cfg.HitInterval. A proxy that answered but refused is not retried.
func (s *Server) dialWithRetries(ctx context.Context, cfg models.NetClientConfiguration, header httpwire.RequestHeader) (transport.StreamConn, error) {
	attempts := cfg.MaxHits
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 && cfg.HitInterval > 0 {
			timer := time.NewTimer(cfg.HitInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		var conn transport.StreamConn
		conn, err = s.dialOnce(ctx, cfg, header)
		if err == nil {
			return conn, nil
		}
		if dialer.IsHandshakeError(err) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, err
}

// dialOnce connects through cfg and, for plain HTTP, sends the request header.
func (s *Server) dialOnce(ctx context.Context, cfg models.NetClientConfiguration, header httpwire.RequestHeader) (transport.StreamConn, error) {
	target := header.URI.EndPoint.String()
	if header.IsConnect() {
		return s.dialer.DialTunnel(ctx, cfg, target)
	}

	var (
		conn transport.StreamConn
		err  error
		out  httpwire.RequestHeader
	)
	if !cfg.IsDirect() && cfg.Upstream.Scheme == "http" {
		conn, err = s.dialer.DialProxy(ctx, cfg)
		out = forProxy(header, cfg)
	} else {
		conn, err = s.dialer.DialTunnel(ctx, cfg, target)
		out = forOrigin(header)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(cfg.Timeout))
	}
	_, err = io.WriteString(conn, out.Serialize())
	conn.SetWriteDeadline(time.Time{})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send request header: %w", err)
	}
	return conn, nil
}

// forProxy renders header for an upstream HTTP proxy.
func forProxy(header httpwire.RequestHeader, cfg models.NetClientConfiguration) httpwire.RequestHeader {
	header.URI = header.URI.AsAbsolute()
	if auth, ok := dialer.ProxyAuthorization(cfg.Upstream); ok {
		header.Headers = header.Headers.Without("Proxy-Authorization").With("Proxy-Authorization", auth)
	}
	return header
}

// forOrigin renders header for the origin server: origin-form target and a
// connection that ends with the response.
func forOrigin(header httpwire.RequestHeader) httpwire.RequestHeader {
	header.URI = header.URI.AsOrigin()
	header.Headers = header.Headers.
		Without("Proxy-Connection", "Connection", "Proxy-Authorization").
		With("Connection", "close")
	return header
}

package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ggoodman/oauth2-bearer-go/internal/logctx"
	"github.com/ggoodman/oauth2-bearer-go/metrics"
	"github.com/ggoodman/oauth2-bearer-go/storage"
)

// MiddlewareOption configures Require and RequireForm.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	logger      *slog.Logger
	responder   Responder
	extractOpts []ExtractOption
	storeName   string
}

// WithLogger sets the logger used for authentication events. If not
// provided, logs are discarded.
func WithLogger(l *slog.Logger) MiddlewareOption {
	return func(c *middlewareConfig) { c.logger = l }
}

// WithResponder replaces the default Responder.
func WithResponder(r Responder) MiddlewareOption {
	return func(c *middlewareConfig) { c.responder = r }
}

// WithExtractOptions passes options through to Extract.
func WithExtractOptions(opts ...ExtractOption) MiddlewareOption {
	return func(c *middlewareConfig) { c.extractOpts = append(c.extractOpts, opts...) }
}

// WithStoreName labels verification metrics with the backing store.
func WithStoreName(name string) MiddlewareOption {
	return func(c *middlewareConfig) { c.storeName = name }
}

type sessionKey struct{}

type formKey struct{}

// SessionFromContext returns the session stored by Require or RequireForm.
func SessionFromContext(ctx context.Context) (*storage.Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*storage.Session)
	return s, ok
}

// FormFromContext returns the payload stored by RequireForm.
func FormFromContext[F any](ctx context.Context) (F, bool) {
	f, ok := ctx.Value(formKey{}).(F)
	return f, ok
}

// Require returns middleware that rejects requests without an active bearer
// token and exposes the token's session through SessionFromContext.
func Require(lookup storage.TokenLookup, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	return protect(lookup, NoFormDecoder, false, opts)
}

// RequireForm is Require for handlers that also need a form payload; the
// decoded payload is available through FormFromContext[F].
func RequireForm[F any](lookup storage.TokenLookup, dec FormDecoder[F], opts ...MiddlewareOption) func(http.Handler) http.Handler {
	return protect(lookup, dec, true, opts)
}

func protect[F any](lookup storage.TokenLookup, dec FormDecoder[F], requireForm bool, opts []MiddlewareOption) func(http.Handler) http.Handler {
	cfg := &middlewareConfig{storeName: "default"}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	if _, ok := cfg.logger.Handler().(logctx.Handler); !ok {
		cfg.logger = slog.New(logctx.Handler{Handler: cfg.logger.Handler()})
	}
	if cfg.responder.Logger == nil {
		cfg.responder.Logger = cfg.logger
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			ua, err := Extract(r, dec, cfg.extractOpts...)
			if err != nil {
				metrics.ExtractionsTotal.WithLabelValues("unknown", label(err)).Inc()
				cfg.logger.InfoContext(ctx, "auth.extract.fail", slog.String("err", err.Error()))
				cfg.responder.WriteError(w, r, err)
				return
			}
			source := ua.Source().Kind().String()
			metrics.ExtractionsTotal.WithLabelValues(source, "ok").Inc()

			var (
				sess *storage.Session
				form F
			)
			if requireForm {
				sess, form, err = ua.ProtectedForm(ctx, lookup)
			} else {
				sess, err = ua.Protected(ctx, lookup)
			}
			metrics.VerificationsTotal.WithLabelValues(cfg.storeName, label(err)).Inc()
			if err != nil {
				level := slog.LevelInfo
				if errors.Is(err, ErrInternal) {
					level = slog.LevelWarn
				}
				cfg.logger.Log(ctx, level, "auth.verify.fail",
					slog.String("source", source),
					slog.String("result", label(err)),
					slog.String("err", err.Error()),
				)
				cfg.responder.WriteError(w, r, err)
				return
			}

			ctx = logctx.WithAuthData(ctx, &logctx.AuthData{
				Source:    source,
				UserID:    sess.UserID,
				SessionID: sess.ID,
				ClientID:  sess.ClientID,
			})
			ctx = context.WithValue(ctx, sessionKey{}, sess)
			if requireForm {
				ctx = context.WithValue(ctx, formKey{}, form)
			}
			cfg.logger.DebugContext(ctx, "auth.verify.ok")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

package admission

import (
	"context"
	"net"
	"net/http"
	"strings"

	"admission-gateway/middleware/admission/domain"
)

type userIDKey struct{}

// WithUserID injeta o id do caller autenticado no contexto da requisição.
// É o ponto de acoplamento com a camada de autenticação (fora de escopo
// aqui): ela resolve o usuário, nós só consumimos.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey{}, id)
}

// UserIDFromContext devolve o id injetado por WithUserID, se houver.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey{}).(string)
	return id, ok && id != ""
}

// IdentityFunc produz a chave estável de identidade de uma requisição.
type IdentityFunc func(r *http.Request) domain.IdentityKey

// DefaultIdentityFunc prefere o usuário autenticado (contexto, depois o
// header configurado); sem usuário, usa o endereço do cliente. Nunca falha:
// requisição sem usuário e sem endereço cai na identidade constante.
func DefaultIdentityFunc(userHeader string, trustXFF bool) IdentityFunc {
	return func(r *http.Request) domain.IdentityKey {
		if id, ok := UserIDFromContext(r.Context()); ok {
			return domain.IdentityKey{Kind: domain.IdentityUser, Value: id}
		}

		if userHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(userHeader)); v != "" {
				return domain.IdentityKey{Kind: domain.IdentityUser, Value: v}
			}
		}

		if addr := clientAddress(r, trustXFF); addr != "" {
			return domain.IdentityKey{Kind: domain.IdentityAddress, Value: addr}
		}
		return domain.FallbackIdentity
	}
}

func clientAddress(r *http.Request, trustXFF bool) string {
	if trustXFF {
		// pega o primeiro IP do X-Forwarded-For (cliente original)
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if len(parts) > 0 {
				if ip := strings.TrimSpace(parts[0]); ip != "" {
					return ip
				}
			}
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

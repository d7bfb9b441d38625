package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/presence-service/internal/service"
)

// credentialFrom extracts the handshake credential. Cookie preferred; a
// bearer token is only consulted when no session cookie is present.
func credentialFrom(r *http.Request, cookieName string) service.Credential {
	var cred service.Credential
	if ck, err := r.Cookie(cookieName); err == nil && ck.Value != "" {
		cred.Cookie = ck.Value
		return cred
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		cred.Bearer = strings.TrimPrefix(h, "Bearer ")
	}
	return cred
}

// requestDetailsFrom snapshots network/geo/device metadata at connect time.
func requestDetailsFrom(c *gin.Context) service.RequestDetails {
	return service.RequestDetails{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Country:   c.GetHeader("X-Geo-Country"),
		City:      c.GetHeader("X-Geo-City"),
	}
}

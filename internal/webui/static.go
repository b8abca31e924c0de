package webui

import (
	"embed"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ServeEmbeddedStaticJS writes a single embedded JS file with cache headers.
func ServeEmbeddedStaticJS(contextGin *gin.Context, filesystem embed.FS, path string) {
	data, readErr := filesystem.ReadFile(path)
	if readErr != nil {
		contextGin.AbortWithStatus(http.StatusNotFound)
		return
	}
	contextGin.Header("Cache-Control", "public, max-age=31536000, immutable")
	contextGin.Data(http.StatusOK, "application/javascript; charset=utf-8", data)
}

// ClientConfig contains the values the browser auth client needs.
type ClientConfig struct {
	GoogleClientID  string
	LoginPath       string
	RefreshLeadSecs int64
}

// ServeClientConfig emits a JavaScript payload hydrating
// window.__GATEKIT_CONFIG for the embedded auth client.
func ServeClientConfig(contextGin *gin.Context, configuration ClientConfig) {
	payload := struct {
		GoogleClientID  string `json:"googleClientId"`
		LoginPath       string `json:"loginPath"`
		RefreshLeadSecs int64  `json:"refreshLeadSecs"`
	}{
		GoogleClientID:  configuration.GoogleClientID,
		LoginPath:       configuration.LoginPath,
		RefreshLeadSecs: configuration.RefreshLeadSecs,
	}
	encoded, encodeErr := json.Marshal(payload)
	if encodeErr != nil {
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "webui.client_config.encode_failed",
		})
		return
	}
	script := fmt.Sprintf("window.__GATEKIT_CONFIG=Object.freeze(%s);", string(encoded))
	contextGin.Header("Cache-Control", "no-store, no-cache, must-revalidate, private")
	contextGin.Header("Pragma", "no-cache")
	contextGin.Header("X-Content-Type-Options", "nosniff")
	contextGin.Data(http.StatusOK, "application/javascript; charset=utf-8", []byte(script))
}

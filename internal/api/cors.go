package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type corsFile struct {
	AllowedOrigins []string `json:"allowed_origins"`
}

// LoadAllowedOrigins reads the origin allow-list from path. A missing file
// allows every origin.
func LoadAllowedOrigins(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("cors config not found, allowing all origins", "path", path)
			return []string{"*"}, nil
		}
		return nil, fmt.Errorf("read cors config: %w", err)
	}
	var f corsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode cors config: %w", err)
	}
	origins := make([]string, 0, len(f.AllowedOrigins))
	for _, o := range f.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, strings.TrimRight(o, "/"))
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return origins, nil
}

// CORS builds the middleware for the given origins. A "*" entry allows any
// origin without credentials.
func CORS(origins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
	allowAll := false
	for _, o := range origins {
		if o == "*" {
			allowAll = true
			break
		}
	}
	if allowAll {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

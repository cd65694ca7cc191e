package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const channelKey = "licensegate.channel"

// deriveChannelFromUserAgent guesses which license client is phoning home
// from its User-Agent prefix.
func deriveChannelFromUserAgent(ua string) string {
	switch {
	case strings.HasPrefix(ua, "licensegate-wp/"):
		return "wordpress"
	case strings.HasPrefix(ua, "licensegate-cli/"):
		return "cli"
	case strings.HasPrefix(ua, "licensegate-sdk/"):
		return "sdk"
	default:
		return "api"
	}
}

// Channel tags every request with the calling client channel so handlers
// and logs can segment verify traffic.
func Channel() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(channelKey, deriveChannelFromUserAgent(c.GetHeader("User-Agent")))
		c.Next()
	}
}

// GetChannel returns the request channel (default "api").
func GetChannel(c *gin.Context) string {
	if ch, ok := c.Get(channelKey); ok {
		if s, ok := ch.(string); ok {
			return s
		}
	}
	return "api"
}

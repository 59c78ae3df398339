package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
)

// TransactionAttributes tags the New Relic transaction started by
// nrgin.Middleware with the session and trip the request is about, and
// records handler errors. Without an active transaction it does nothing.
func TransactionAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		txn := nrgin.Transaction(c)
		if txn == nil {
			return
		}

		if sid := c.Param("sid"); sid != "" {
			txn.AddAttribute("session_id", sid)
		}
		if id := c.Param("id"); id != "" {
			txn.AddAttribute("trip_id", id)
		}
		if id, ok := c.Get("trip_id"); ok {
			txn.AddAttribute("trip_id", id)
		}

		for _, err := range c.Errors {
			txn.NoticeError(err.Err)
		}
	}
}

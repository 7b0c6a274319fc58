package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// multipartOverhead covers form boundaries and headers around the file part.
const multipartOverhead = 1 << 20

// uploadLimit is the largest accepted file in bytes; zero disables the check.
type uploadLimit int64

// guard caps the request body so an oversized upload fails while it is being
// read instead of after it has been spooled to disk.
func (l uploadLimit) guard(c *gin.Context) {
	if l > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(l)+multipartOverhead)
	}
}

func (l uploadLimit) exceeded(size int64) bool {
	return l > 0 && size > int64(l)
}

func (l uploadLimit) String() string {
	const mb = 1 << 20
	if l < mb {
		return fmt.Sprintf("%dB", int64(l))
	}
	return fmt.Sprintf("%dMB", int64(l)/mb)
}

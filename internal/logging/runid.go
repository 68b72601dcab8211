package logging

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// GenerateRunID returns a new ULID. Run IDs sort by creation time, which
// keeps report files and history rows in run order.
func GenerateRunID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

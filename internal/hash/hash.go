// Package hash derives password hashes, salts and unique tokens.
package hash

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/atinyakov/memberauth/internal/errutil"
)

// Entropy is the source of randomness for salts.
var Entropy io.Reader = rand.Reader

// Make returns the hex SHA-256 digest of plain followed by salt.
// An empty salt hashes plain alone.
func Make(plain, salt string) string {
	sum := sha256.Sum256([]byte(plain + salt))
	return hex.EncodeToString(sum[:])
}

// Salt returns n random bytes encoded as standard base64.
func Salt(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(Entropy, buf); err != nil {
		return "", oops.Code(errutil.CodeEntropyUnavailable).
			With("bytes", n).
			Wrapf(err, "read salt")
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Unique returns a fresh token for persistent logins.
func Unique() string {
	seed := ulid.Make().String() + strconv.FormatInt(time.Now().UnixNano(), 10)
	return Make(seed, "")
}

package postback

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Versioned so the key derivation can change without colliding with old rows.
const fingerprintDomain = "postback/fingerprint/v1"

// Fingerprint derives the dedup key of an event:
// SHA256(domain 0x00 houseID 0x00 type 0x00 customer 0x00 subid 0x00 txid [0x00 bucket]).
// Only clicks include a time bucket; a resent registration, deposit or
// profit always maps to the same key.
func Fingerprint(houseID uint, e Event, clickBucket time.Duration) string {
	meta := e.Meta()
	parts := []string{
		strconv.FormatUint(uint64(houseID), 10),
		string(e.Type()),
		CustomerOf(e),
		meta.SubID,
		meta.TransactionID,
	}
	if _, ok := e.(ClickEvent); ok {
		if clickBucket <= 0 {
			clickBucket = time.Minute
		}
		bucket := meta.ReceivedAt.UTC().Truncate(clickBucket).Unix()
		parts = append(parts, strconv.FormatInt(bucket, 10))
	}

	h := sha256.New()
	h.Write([]byte(fingerprintDomain))
	for _, p := range parts {
		h.Write([]byte{0x00})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

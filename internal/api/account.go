package api

import "strings"

// PlatformTaotian is the marketplace platform whose batches carry the
// seller account id inline in the sender field.
const PlatformTaotian = "taotian"

// ExtractAccountID derives the seller account id from a raw batch when the
// producer did not supply one. On the taotian platform the seller side's
// sender field is "t-<account>" or "t-<account>:<sub-nick>"; the account
// is the segment between the platform prefix and the first colon. Other
// platforms have no inline convention and return "".
func ExtractAccountID(platform string, msgs []batchMessage) string {
	if platform != PlatformTaotian {
		return ""
	}
	for _, m := range msgs {
		if m.FromSource != "account" {
			continue
		}
		if id := taotianAccountID(m.Sender); id != "" {
			return id
		}
	}
	return ""
}

func taotianAccountID(sender string) string {
	const prefix = "t-"
	if !strings.HasPrefix(sender, prefix) {
		return ""
	}
	id := strings.TrimPrefix(sender, prefix)
	if i := strings.IndexByte(id, ':'); i >= 0 {
		id = id[:i]
	}
	return id
}

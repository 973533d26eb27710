package respond

import (
	"regexp"
)

var (
	// userinfo in mongodb://, mongodb+srv://, redis:// and similar URIs
	uriPasswordPattern = regexp.MustCompile(`://([^:/@\s]+):([^@\s]+)@`)

	// Google API keys, as found in Firebase errors
	googleKeyPattern = regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`)

	// PEM private keys from service account files
	privateKeyPattern = regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`)

	// FCM registration tokens: long opaque "prefix:APA91b..." strings
	fcmTokenPattern = regexp.MustCompile(`[A-Za-z0-9_\-]{11,}:APA91b[A-Za-z0-9_\-]{20,}`)
)

// SanitizeError returns err's message with credentials and device tokens
// masked. Patterns are applied most specific first.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	msg = privateKeyPattern.ReplaceAllString(msg, "[private key]")
	msg = googleKeyPattern.ReplaceAllString(msg, "AIza****")
	msg = fcmTokenPattern.ReplaceAllString(msg, "[device token]")
	msg = uriPasswordPattern.ReplaceAllString(msg, "://$1:****@")
	return msg
}

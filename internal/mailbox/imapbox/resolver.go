package imapbox

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// IMAP servers for popular providers, used when the server is not configured
var knownServers = map[string]string{
	"gmail.com":      "imap.gmail.com:993",
	"googlemail.com": "imap.gmail.com:993",
	"outlook.com":    "outlook.office365.com:993",
	"hotmail.com":    "outlook.office365.com:993",
	"live.com":       "outlook.office365.com:993",
	"yahoo.com":      "imap.mail.yahoo.com:993",
	"yandex.ru":      "imap.yandex.ru:993",
	"yandex.com":     "imap.yandex.com:993",
	"mail.ru":        "imap.mail.ru:993",
	"icloud.com":     "imap.mail.me.com:993",
	"me.com":         "imap.mail.me.com:993",
	"aol.com":        "imap.aol.com:993",
	"zoho.com":       "imap.zoho.com:993",
	"fastmail.com":   "imap.fastmail.com:993",
	"gmx.com":        "imap.gmx.com:993",
	"gmx.de":         "imap.gmx.net:993",
	"web.de":         "imap.web.de:993",
}

// ResolveServer determines the IMAP server for an email address
func ResolveServer(email string) (string, error) {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid email address %q", email)
	}

	domain := strings.ToLower(parts[1])

	if server, ok := knownServers[domain]; ok {
		return server, nil
	}

	// Probe common host patterns
	for _, host := range []string{"imap." + domain, "mail." + domain, domain} {
		if reachable(host, 993) {
			return host + ":993", nil
		}
	}

	// Fall back to imap.domain:993 and let the connect attempt report
	// the real failure
	return "imap." + domain + ":993", nil
}

// reachable checks whether a TCP endpoint accepts connections
func reachable(host string, port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), 3*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

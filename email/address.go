package email

import (
	"net/mail"
	"strings"
)

// Address is an email address.
type Address struct {
	Name string // proper name, may be empty
	Addr string // user@domain
}

// LocalPart returns the portion of Addr before '@', lower-cased.
func (a Address) LocalPart() string {
	addr := strings.ToLower(a.Addr)
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		return addr[:i]
	}
	return addr
}

// Domain returns the portion of Addr after '@', lower-cased.
func (a Address) Domain() string {
	addr := strings.ToLower(a.Addr)
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		return addr[i+1:]
	}
	return ""
}

// ParseAddressList parses a comma-separated RFC-5322 address list header
// value (To, Cc, Bcc, From) into Addresses. Malformed entries are skipped
// rather than failing the whole list, since a single bad header should
// not abort normalization.
func ParseAddressList(raw string) []Address {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parsed, err := mail.ParseAddressList(raw)
	if err != nil {
		// Fall back to a best-effort comma split so a single malformed
		// address does not discard the rest of the list.
		var out []Address
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if a, err := mail.ParseAddress(part); err == nil {
				out = append(out, Address{Name: a.Name, Addr: a.Address})
			}
		}
		return out
	}
	out := make([]Address, 0, len(parsed))
	for _, a := range parsed {
		out = append(out, Address{Name: a.Name, Addr: a.Address})
	}
	return out
}

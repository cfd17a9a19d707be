// Package forward implements the Forwarder capability (§6) on top of the
// gateway's own outbound SMTP client, generalizing it from "deliver one
// queued mailbox message" to "forward one envelope to one destination
// address".
package forward

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/chittyos/chittyrouter-sub005/capability"
	"github.com/chittyos/chittyrouter-sub005/smtp/smtpclient"
)

// SMTPForwarder implements capability.Forwarder by composing a minimal
// RFC-5322 message (From/To/Subject + a text preview body, never the full
// content — §4.6's privacy invariant holds at the forwarding boundary too)
// and handing it to smtpclient.Client.Send.
type SMTPForwarder struct {
	client   *smtpclient.Client
	fromAddr string
}

// NewSMTPForwarder builds a Forwarder whose outbound envelope-from is
// fromAddr and whose client identifies itself as localHostname.
func NewSMTPForwarder(localHostname, fromAddr string) *SMTPForwarder {
	return &SMTPForwarder{
		client:   smtpclient.NewClient(localHostname, 100),
		fromAddr: fromAddr,
	}
}

func (f *SMTPForwarder) Forward(ctx context.Context, envelopeID string, dest capability.Destination, subject, preview string) error {
	msg := buildMessage(f.fromAddr, dest.Address, subject, preview, envelopeID)
	results, err := f.client.Send(ctx, f.fromAddr, []string{dest.Address}, bytes.NewReader(msg), int64(len(msg)))
	if err != nil {
		return capability.NewError(capability.DependencyTimeout, "forward_send_failed", err)
	}
	for _, d := range results {
		if d.Success() {
			return nil
		}
		if d.PermFailure() {
			return capability.NewError(capability.Internal, "forward_rejected", fmt.Errorf("%d %s", d.Code, d.Details))
		}
	}
	if len(results) == 0 {
		return capability.NewError(capability.DependencyUnavailable, "forward_no_mx", nil)
	}
	return capability.NewError(capability.DependencyTimeout, "forward_temp_failure", results[0].Error)
}

func buildMessage(from, to, subject, preview, envelopeID string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeaderValue(subject))
	fmt.Fprintf(&b, "X-Chittyrouter-Envelope-Id: %s\r\n", envelopeID)
	fmt.Fprintf(&b, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(preview)
	return b.Bytes()
}

func sanitizeHeaderValue(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.ReplaceAll(s, "\n", " ")
}

// BindLocalAddr pins the forwarder's outbound connections to a specific
// local address, mirroring the teacher's isLocalAddr dance in its
// deliverer bootstrap.
func (f *SMTPForwarder) BindLocalAddr(ip net.IP) {
	f.client.LocalAddr = &net.TCPAddr{IP: ip}
}

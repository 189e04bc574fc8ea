// Package nodeselect resolves the TSS node endpoints a session should
// talk to. Node clusters publish their instances as DNS SRV records
// under a well-known domain; the resolved endpoints are attached to the
// session state at login time.
package nodeselect

import (
	"fmt"

	"github.com/miekg/dns"
)

// DefaultResolverAddr is the local stub resolver queried for SRV records.
const DefaultResolverAddr = "127.0.0.53:53"

// Resolver resolves TSS node endpoints through DNS.
type Resolver struct {
	// ResolverAddr is the DNS server to query; DefaultResolverAddr if empty.
	ResolverAddr string
}

// ResolveEndpoints resolves the SRV records for a node cluster domain to
// host:port endpoints.
func (r *Resolver) ResolveEndpoints(domain string) ([]string, error) {
	resolverAddr := r.ResolverAddr
	if resolverAddr == "" {
		resolverAddr = DefaultResolverAddr
	}

	m1 := new(dns.Msg)
	m1.Id = dns.Id()
	m1.RecursionDesired = true
	m1.Question = []dns.Question{{Name: dns.Fqdn(domain), Qtype: dns.TypeSRV, Qclass: dns.ClassINET}}

	c := new(dns.Client)
	in, _, err := c.Exchange(m1, resolverAddr)
	if err != nil {
		return nil, fmt.Errorf("srv lookup for %s failed: %w", domain, err)
	}

	endpoints := make([]string, 0, len(in.Answer))
	for _, answer := range in.Answer {
		if srv, ok := answer.(*dns.SRV); ok {
			endpoints = append(endpoints, fmt.Sprintf("%s:%d", srv.Target, srv.Port))
		}
	}

	return endpoints, nil
}

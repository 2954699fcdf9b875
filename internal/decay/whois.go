package decay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/araddon/dateparse"
	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
	"golang.org/x/net/publicsuffix"
)

// ErrNoCreationDate is returned when a WHOIS record carries no creation date.
var ErrNoCreationDate = errors.New("whois record has no creation date")

// WhoisLookup resolves domain registration dates over WHOIS.
type WhoisLookup struct {
	client *whois.Client
}

// NewWhoisLookup creates a lookup whose queries time out after timeout.
func NewWhoisLookup(timeout time.Duration) *WhoisLookup {
	client := whois.NewClient()
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &WhoisLookup{client: client}
}

// CreatedAt returns the registration date of host's registrable domain.
func (w *WhoisLookup) CreatedAt(ctx context.Context, host string) (time.Time, error) {
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return time.Time{}, fmt.Errorf("registrable domain of %s: %w", host, err)
	}

	type result struct {
		raw string
		err error
	}
	// The whois client has no context support; abandon the query when ctx ends.
	done := make(chan result, 1)
	go func() {
		raw, err := w.client.Whois(domain)
		done <- result{raw: raw, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return time.Time{}, fmt.Errorf("whois %s: %w", domain, ctx.Err())
	case res = <-done:
	}
	if res.err != nil {
		return time.Time{}, fmt.Errorf("whois %s: %w", domain, res.err)
	}
	return parseCreated(res.raw)
}

func parseCreated(raw string) (time.Time, error) {
	info, err := whoisparser.Parse(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse whois: %w", err)
	}
	if info.Domain == nil {
		return time.Time{}, ErrNoCreationDate
	}
	if info.Domain.CreatedDateInTime != nil {
		return *info.Domain.CreatedDateInTime, nil
	}
	if info.Domain.CreatedDate == "" {
		return time.Time{}, ErrNoCreationDate
	}
	created, err := dateparse.ParseAny(info.Domain.CreatedDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse creation date %q: %w", info.Domain.CreatedDate, err)
	}
	return created, nil
}

package decay

import (
	"strings"
	"time"
)

// Signal names, also used as metric labels.
const (
	SignalDomainAge  = "domain_age"
	SignalCertExpiry = "cert_expiry"
	SignalHostRep    = "host_reputation"
)

// Fallback values used when a lookup fails.
const (
	domainAgeFallback  = 0.5
	certExpiryFallback = 0.8
	neutralScore       = 0.5
)

// Signal is one risk component. When Fallback is set, Value is the documented
// default for that signal and Err holds the lookup failure.
type Signal struct {
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
	Fallback bool    `json:"fallback"`
	Err      error   `json:"-"`
}

func measured(name string, value float64) Signal {
	return Signal{Name: name, Value: value}
}

func fallback(name string, value float64, err error) Signal {
	return Signal{Name: name, Value: value, Fallback: true, Err: err}
}

// domainAgeRisk maps a registration date to risk: younger domains lapse more often.
func domainAgeRisk(created, now time.Time) float64 {
	age := now.Sub(created)
	switch {
	case age < 365*24*time.Hour:
		return 0.9
	case age < 10*365*24*time.Hour:
		return 0.4
	default:
		return 0.2
	}
}

// certExpiryRisk maps a certificate's NotAfter to risk.
func certExpiryRisk(notAfter, now time.Time) float64 {
	days := notAfter.Sub(now).Hours() / 24
	switch {
	case days < 7:
		return 0.9
	case days < 30:
		return 0.6
	default:
		return 0.2
	}
}

// DefaultFreeHosts lists hostname fragments of free hosting platforms.
var DefaultFreeHosts = []string{
	"github.io",
	"wordpress.com",
	"wixsite",
	"blogspot",
	"weebly",
	"netlify.app",
	"herokuapp",
}

// hostRisk is 0.7 for hosts on a free platform and 0.3 otherwise.
func hostRisk(host string, freeHosts []string) float64 {
	host = strings.ToLower(host)
	for _, pattern := range freeHosts {
		if pattern != "" && strings.Contains(host, strings.ToLower(pattern)) {
			return 0.7
		}
	}
	return 0.3
}

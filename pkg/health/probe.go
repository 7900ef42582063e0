package health

import (
	"net"
	"net/url"

	"github.com/mailsift/mailsift/pkg/config"
)

// Probe is one named collaborator under watch.
type Probe struct {
	Name    string
	Checker Checker

	status *Status
}

// NewProbe pairs a name with its checker.
func NewProbe(name string, checker Checker) *Probe {
	return &Probe{Name: name, Checker: checker, status: NewStatus()}
}

// Status returns the probe's current verdict.
func (p *Probe) Status() Status {
	return *p.status
}

// ForPhase builds the collaborator probes a phase run depends on.
// Phase 1 needs the OCR engine, phase 2 the local inference tiers,
// phase 3 the external model's endpoint. Endpoints the config leaves
// empty are not probed.
func ForPhase(cfg *config.Config, phase int) []*Probe {
	var probes []*Probe
	switch phase {
	case 1:
		if cfg.OCR.URL != "" {
			probes = append(probes,
				NewProbe("ocr", NewHTTPChecker(cfg.OCR.URL+"/healthz")))
		}
	case 2:
		tiers := []struct {
			name     string
			endpoint config.ModelEndpoint
		}{
			{"inference_small", cfg.Inference.Small},
			{"inference_medium", cfg.Inference.Medium},
			{"inference_large", cfg.Inference.Large},
		}
		for _, tier := range tiers {
			if tier.endpoint.URL == "" {
				continue
			}
			probes = append(probes,
				NewProbe(tier.name, NewHTTPChecker(tier.endpoint.URL+"/api/version")))
		}
	case 3:
		if addr := hostPort(cfg.External.URL); addr != "" {
			probes = append(probes, NewProbe("external_api", NewTCPChecker(addr)))
		}
	}
	return probes
}

// hostPort reduces an endpoint URL to a dialable address, defaulting
// the port from the scheme.
func hostPort(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	if _, _, err := net.SplitHostPort(u.Host); err == nil {
		return u.Host
	}
	port := "443"
	if u.Scheme == "http" {
		port = "80"
	}
	return net.JoinHostPort(u.Hostname(), port)
}

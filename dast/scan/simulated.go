package scan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mqxerror/qa-guardian/dast/scope"
)

// SimulatedBackend is a deterministic in-process Backend for development
// and tests. It crawls a fixed path set under the target and emits a
// small, stable alert catalogue.
type SimulatedBackend struct {
	// StepDelay throttles phase work so progress is observable in dev.
	// Zero means no delay.
	StepDelay time.Duration
}

var simulatedPaths = []string{"/", "/login", "/search", "/api/users", "/admin"}

func (b *SimulatedBackend) pause(ctx context.Context) error {
	if b.StepDelay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(b.StepDelay):
		return nil
	}
}

func (b *SimulatedBackend) Spider(ctx context.Context, targetURL string, sc ScanScope) (SpiderStats, error) {
	base := strings.TrimRight(targetURL, "/")
	var urls []string
	for _, p := range simulatedPaths {
		if err := b.pause(ctx); err != nil {
			return SpiderStats{}, err
		}
		u := base + p
		if scope.InScope(u, sc.Include, sc.Exclude) {
			urls = append(urls, u)
		}
	}
	return SpiderStats{URLs: urls, RequestsSent: len(simulatedPaths)}, nil
}

func (b *SimulatedBackend) PassiveScan(ctx context.Context, targetURL string, urls []string, sc ScanScope, emit func(RawAlert)) (PhaseStats, error) {
	base := strings.TrimRight(targetURL, "/")
	for _, u := range urls {
		if err := b.pause(ctx); err != nil {
			return PhaseStats{}, err
		}
		emit(RawAlert{
			PluginID:    "10021",
			Name:        "X-Content-Type-Options Header Missing",
			Risk:        "Low",
			Confidence:  "Medium",
			Description: "The response does not set X-Content-Type-Options: nosniff.",
			URL:         u,
			Method:      "GET",
			Solution:    "Set the X-Content-Type-Options header to nosniff.",
			CWEID:       693,
			WASCID:      15,
		})
	}
	emit(RawAlert{
		PluginID:    "10038",
		Name:        "Content Security Policy Header Not Set",
		Risk:        "Medium",
		Confidence:  "High",
		Description: "No Content-Security-Policy header was observed on the target.",
		URL:         base + "/",
		Method:      "GET",
		Solution:    "Configure a Content-Security-Policy header.",
		CWEID:       693,
		WASCID:      15,
	})
	return PhaseStats{RequestsSent: len(urls)}, nil
}

func (b *SimulatedBackend) ActiveScan(ctx context.Context, targetURL string, urls []string, sc ScanScope, emit func(RawAlert)) (PhaseStats, error) {
	base := strings.TrimRight(targetURL, "/")
	requests := 0
	for _, u := range urls {
		if err := b.pause(ctx); err != nil {
			return PhaseStats{RequestsSent: requests}, err
		}
		requests += 3
		if strings.Contains(u, "search") {
			emit(RawAlert{
				PluginID:    "40018",
				Name:        "SQL Injection",
				Risk:        "High",
				Confidence:  "Medium",
				Description: "The search parameter appears vulnerable to SQL injection.",
				URL:         u,
				Method:      "GET",
				Param:       "q",
				Attack:      "' OR '1'='1",
				Evidence:    "syntax error in SQL statement",
				Solution:    "Use parameterized queries.",
				CWEID:       89,
				WASCID:      19,
			})
		}
	}
	emit(RawAlert{
		PluginID:    "40012",
		Name:        "Cross Site Scripting (Reflected)",
		Risk:        "High",
		Confidence:  "Medium",
		Description: fmt.Sprintf("A reflected XSS payload was echoed by %s/login.", base),
		URL:         base + "/login",
		Method:      "POST",
		Param:       "username",
		Attack:      "<script>alert(1)</script>",
		Solution:    "Encode output and validate input.",
		CWEID:       79,
		WASCID:      8,
	})
	return PhaseStats{RequestsSent: requests + 1}, nil
}

// Package scan drives a scan through its lifecycle: it validates and
// creates scan records, runs phases against a Scan Backend, serializes
// all progress and finding writes through one owning worker per scan, and
// finalizes terminal states.
package scan

import (
	"context"

	"github.com/mqxerror/qa-guardian/dast/model"
)

// ScanScope is the effective scope handed to the backend for one scan.
type ScanScope struct {
	Include        []string
	Exclude        []string
	MaxCrawlDepth  int
	AlertThreshold string
}

// RawAlert is one alert as reported by the scan backend, before mapping
// into the finding model.
type RawAlert struct {
	PluginID    string
	Name        string
	Risk        string
	Confidence  string
	Description string
	URL         string
	Method      string
	Param       string
	Attack      string
	Evidence    string
	Solution    string
	CWEID       int
	WASCID      int
}

// SpiderStats is the outcome of the crawl phase.
type SpiderStats struct {
	URLs         []string
	RequestsSent int
}

// PhaseStats is the outcome of a passive or active phase.
type PhaseStats struct {
	RequestsSent int
}

// Backend is the external scan engine. Implementations stream alerts via
// the emit callback and honour ctx cancellation at the network level;
// the orchestrator never retries backend errors.
type Backend interface {
	Spider(ctx context.Context, targetURL string, sc ScanScope) (SpiderStats, error)
	PassiveScan(ctx context.Context, targetURL string, urls []string, sc ScanScope, emit func(RawAlert)) (PhaseStats, error)
	ActiveScan(ctx context.Context, targetURL string, urls []string, sc ScanScope, emit func(RawAlert)) (PhaseStats, error)
}

// mapAlert converts a backend alert into a finding for the given scan.
func mapAlert(scanID string, a RawAlert) model.Finding {
	return model.Finding{
		ScanID:      scanID,
		PluginID:    a.PluginID,
		Name:        a.Name,
		Risk:        model.Risk(a.Risk),
		Confidence:  model.Confidence(a.Confidence),
		Description: a.Description,
		URL:         a.URL,
		Method:      a.Method,
		Param:       a.Param,
		Attack:      a.Attack,
		Evidence:    a.Evidence,
		Solution:    a.Solution,
		CWEID:       a.CWEID,
		WASCID:      a.WASCID,
	}
}

package handlers

import (
	"sort"

	"github.com/anatoly-dev/fleet-hub/pkg/models"
)

const (
	topN               = 10
	eventAppForeground = "APP_FOREGROUND"
)

type AppUsage struct {
	App      string `json:"app"`
	Duration int64  `json:"duration"`
}

type TelemetrySummary struct {
	TotalDurationMs int64      `json:"total_duration_ms"`
	AppSwitches     int        `json:"app_switches"`
	TopApps         []AppUsage `json:"top_apps"`
	EventCount      int        `json:"event_count"`
}

type DomainCount struct {
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}

type BrowsingSummary struct {
	TotalURLs     int           `json:"total_urls"`
	UniqueDomains int           `json:"unique_domains"`
	TopDomains    []DomainCount `json:"top_domains"`
}

func summarizeTelemetry(events []models.TelemetryEvent) TelemetrySummary {
	summary := TelemetrySummary{EventCount: len(events), TopApps: []AppUsage{}}

	byApp := make(map[string]int64)
	var order []string
	for _, ev := range events {
		if ev.AppLabel != "" && ev.DurationMs != 0 {
			if _, seen := byApp[ev.AppLabel]; !seen {
				order = append(order, ev.AppLabel)
			}
			byApp[ev.AppLabel] += ev.DurationMs
			summary.TotalDurationMs += ev.DurationMs
		}
		if ev.EventType == eventAppForeground {
			summary.AppSwitches++
		}
	}

	for _, app := range order {
		summary.TopApps = append(summary.TopApps, AppUsage{App: app, Duration: byApp[app]})
	}
	sort.SliceStable(summary.TopApps, func(i, j int) bool {
		return summary.TopApps[i].Duration > summary.TopApps[j].Duration
	})
	if len(summary.TopApps) > topN {
		summary.TopApps = summary.TopApps[:topN]
	}

	return summary
}

func summarizeBrowsing(visits []models.BrowserVisit) BrowsingSummary {
	summary := BrowsingSummary{TotalURLs: len(visits), TopDomains: []DomainCount{}}

	counts := make(map[string]int)
	var order []string
	for _, v := range visits {
		if v.Domain == "" {
			continue
		}
		if _, seen := counts[v.Domain]; !seen {
			order = append(order, v.Domain)
		}
		counts[v.Domain]++
	}

	summary.UniqueDomains = len(counts)
	for _, domain := range order {
		summary.TopDomains = append(summary.TopDomains, DomainCount{Domain: domain, Count: counts[domain]})
	}
	sort.SliceStable(summary.TopDomains, func(i, j int) bool {
		return summary.TopDomains[i].Count > summary.TopDomains[j].Count
	})
	if len(summary.TopDomains) > topN {
		summary.TopDomains = summary.TopDomains[:topN]
	}

	return summary
}

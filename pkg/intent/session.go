package intent

import "fmt"

// Usage is one app-usage observation fed to AnalyzeSession.
type Usage struct {
	AppPackage string
	AppLabel   string
	DurationMs int64
}

// AnalyzeSession summarises a run of usage events into the dominant
// category, weighted by time spent.
func AnalyzeSession(events []Usage) Result {
	totals := make(map[string]int64)
	var order []string
	var total int64

	for _, ev := range events {
		if ev.AppPackage == "" || ev.DurationMs == 0 {
			continue
		}
		category := Classify(ev.AppPackage, ev.AppLabel, ev.DurationMs).Category
		if _, seen := totals[category]; !seen {
			order = append(order, category)
		}
		totals[category] += ev.DurationMs
		total += ev.DurationMs
	}

	dominant := CategoryUnknown
	var best int64
	for _, category := range order {
		if totals[category] > best {
			best = totals[category]
			dominant = category
		}
	}

	confidence := 0.5
	if total > 0 {
		confidence = float64(best) / float64(total)
		if confidence > maxConfidence {
			confidence = maxConfidence
		}
	}

	return Result{
		Category:   dominant,
		Confidence: round2(confidence),
		Reasoning: fmt.Sprintf("Based on %d events over %d minutes. Primary activity: %s.",
			len(events), roundHalfUp(float64(total)/60000), dominant),
		AppType: AppTypeSession,
	}
}

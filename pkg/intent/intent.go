// Package intent maps foreground app usage to a coarse activity category.
package intent

import (
	"fmt"
	"math"
	"strings"
)

const (
	CategoryCommunication = "Communication"
	CategoryBusiness      = "Business Operations"
	CategoryDevelopment   = "Software Development"
	CategoryMedia         = "Media Consumption"
	CategoryLearning      = "Learning / Research"
	CategorySwitching     = "Context Switching"
	CategoryUnknown       = "Unknown / Mixed"

	AppTypeUnknown = "unknown"
	AppTypeSession = "session"

	maxConfidence = 0.95
)

type Result struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	AppType    string  `json:"app_type"`
}

var appTypes = map[string]string{
	"com.facebook.katana":    "social",
	"com.facebook.orca":      "social",
	"com.instagram.android":  "social",
	"com.twitter.android":    "social",
	"com.whatsapp":           "communication",
	"com.snapchat.android":   "social",
	"com.linkedin.android":   "social",
	"org.telegram.messenger": "communication",

	"com.google.android.apps.docs":                "productivity",
	"com.google.android.apps.docs.editors.docs":   "productivity",
	"com.google.android.apps.docs.editors.sheets": "productivity",
	"com.google.android.apps.docs.editors.slides": "productivity",
	"com.microsoft.office.word":                   "productivity",
	"com.microsoft.office.excel":                  "productivity",
	"com.microsoft.office.powerpoint":             "productivity",
	"com.slack":                                   "productivity",
	"com.asana.app":                               "productivity",
	"com.trello":                                  "productivity",
	"com.notion.id":                               "productivity",

	"com.termux":         "development",
	"com.aide.ui":        "development",
	"com.github.android": "development",

	"com.netflix.mediaclient":               "entertainment",
	"com.google.android.youtube":            "entertainment",
	"com.amazon.avod.thirdpartyclient":      "entertainment",
	"com.disney.disneyplus":                 "entertainment",
	"com.spotify.music":                     "entertainment",
	"com.google.android.apps.youtube.music": "entertainment",

	"com.supercell.clashofclans": "gaming",
	"com.pubg.krmobile":          "gaming",
	"com.tencent.ig":             "gaming",
	"com.kiloo.subwaysurf":       "gaming",
	"com.king.candycrushsaga":    "gaming",

	"com.amazon.mShop.android.shopping": "shopping",
	"in.amazon.mShop.android.shopping":  "shopping",
	"com.flipkart.android":              "shopping",
	"com.alibaba.aliexpresshd":          "shopping",
	"com.ebay.mobile":                   "shopping",

	"com.google.android.apps.walletnfcrel": "finance",
	"com.paypal.android.p2pmobile":         "finance",
	"net.one97.paytm":                      "finance",
	"com.phonepe.app":                      "finance",

	"com.google.android.apps.magazines": "reading",
	"flipboard.app":                     "reading",
	"com.amazon.kindle":                 "reading",
	"com.medium.reader":                 "reading",

	"com.android.settings":           "system",
	"com.google.android.apps.photos": "utility",
	"com.google.android.gm":          "communication",
	"com.google.android.apps.maps":   "utility",
	"com.android.chrome":             "browsing",
	"org.mozilla.firefox":            "browsing",
	"com.brave.browser":              "browsing",
}

type keywordRule struct {
	keywords []string
	appType  string
}

// Evaluated in order; the first rule with any matching keyword wins.
var labelRules = []keywordRule{
	{[]string{"chat", "message"}, "communication"},
	{[]string{"game", "play"}, "gaming"},
	{[]string{"video", "music", "player"}, "entertainment"},
	{[]string{"browser", "chrome", "firefox"}, "browsing"},
	{[]string{"mail", "email"}, "communication"},
	{[]string{"note", "doc", "office"}, "productivity"},
	{[]string{"shop", "store", "cart"}, "shopping"},
	{[]string{"bank", "pay", "money"}, "finance"},
	{[]string{"learn", "course", "study"}, "reading"},
}

var categories = map[string]string{
	"social":        CategoryCommunication,
	"communication": CategoryCommunication,
	"productivity":  CategoryBusiness,
	"development":   CategoryDevelopment,
	"entertainment": CategoryMedia,
	"gaming":        CategoryMedia,
	"shopping":      CategoryBusiness,
	"finance":       CategoryBusiness,
	"reading":       CategoryLearning,
	"browsing":      CategoryLearning,
	"system":        CategorySwitching,
	"utility":       CategorySwitching,
}

var categoryClauses = map[string]string{
	CategoryCommunication: ". Activity suggests communication or social interaction.",
	CategoryBusiness:      ". Activity suggests work-related or business operations.",
	CategoryDevelopment:   ". Activity suggests software development or coding.",
	CategoryMedia:         ". Activity suggests leisure or entertainment.",
	CategoryLearning:      ". Activity suggests learning or research.",
	CategorySwitching:     ". Brief system interaction detected.",
}

// AppType resolves the app type for a package, falling back to label
// keywords. The second return value is true only for a direct package match.
func AppType(appPackage, appLabel string) (string, bool) {
	if appType, ok := appTypes[appPackage]; ok {
		return appType, true
	}

	label := strings.ToLower(appLabel)
	for _, rule := range labelRules {
		for _, kw := range rule.keywords {
			if strings.Contains(label, kw) {
				return rule.appType, false
			}
		}
	}

	return AppTypeUnknown, false
}

// Category maps an app type to its activity category.
func Category(appType string) string {
	if category, ok := categories[appType]; ok {
		return category
	}
	return CategoryUnknown
}

// Classify infers the activity behind durationMs spent in one app.
func Classify(appPackage, appLabel string, durationMs int64) Result {
	appType, known := AppType(appPackage, appLabel)
	category := Category(appType)

	confidence := 0.5
	if known {
		confidence += 0.3
	}
	if durationMs > 60000 {
		confidence += 0.1
	}
	if durationMs > 300000 {
		confidence += 0.1
	}
	confidence = math.Min(confidence, maxConfidence)

	var b strings.Builder
	fmt.Fprintf(&b, "User spent %d seconds on %s", roundHalfUp(float64(durationMs)/1000), appLabel)
	if appType != AppTypeUnknown {
		fmt.Fprintf(&b, " (%s app)", appType)
	}
	b.WriteString(categoryClauses[category])

	return Result{
		Category:   category,
		Confidence: round2(confidence),
		Reasoning:  b.String(),
		AppType:    appType,
	}
}

// roundHalfUp rounds halves toward positive infinity.
func roundHalfUp(v float64) int64 {
	return int64(math.Floor(v + 0.5))
}

func round2(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}

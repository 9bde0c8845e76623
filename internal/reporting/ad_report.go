// Package reporting renders ad analytics as a plain-text performance report
// with simple CTR-based insights.
package reporting

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
)

// CTR bands used for insights, as fractions.
const (
	LowCTR       = 0.01
	ExcellentCTR = 0.03
)

const rule = "───────────────────────────────────────────────────────────────"

// Report is everything needed to render one ad's performance.
type Report struct {
	Ad          models.Ad
	Analytics   models.AdAnalytics
	Range       models.DateRange
	GeneratedAt time.Time
}

// Insights derives human-readable observations from the aggregates.
func Insights(a models.AdAnalytics) []string {
	var out []string
	switch {
	case a.TotalImpressions == 0:
		out = append(out, "No impressions recorded - check status, validity window and targeting")
		return out
	case a.TotalClicks == 0:
		out = append(out, "No clicks recorded - consider reviewing the creative")
	case a.CTR < LowCTR:
		out = append(out, fmt.Sprintf("Low CTR (%.2f%%) - consider optimizing the creative or targeting", a.CTR*100))
	case a.CTR > ExcellentCTR:
		out = append(out, fmt.Sprintf("Excellent CTR (%.2f%%)", a.CTR*100))
	default:
		out = append(out, fmt.Sprintf("Good CTR (%.2f%%) - within normal range", a.CTR*100))
	}

	if len(a.TopPlacements) > 0 {
		top := a.TopPlacements[0]
		share := float64(top.Impressions) / float64(a.TotalImpressions) * 100
		if share > 50 && len(a.TopPlacements) > 1 {
			out = append(out, fmt.Sprintf("Placement %s carries %.1f%% of impressions", top.PlacementCode, share))
		}
	}

	if a.UniqueUsers > 0 {
		perUser := float64(a.TotalImpressions) / float64(a.UniqueUsers)
		if perUser > 20 {
			out = append(out, fmt.Sprintf("High frequency: %.1f impressions per signed-in user", perUser))
		}
	}

	if n := len(a.DailyStats); n >= 2 {
		first, last := a.DailyStats[0].Impressions, a.DailyStats[n-1].Impressions
		if first > 0 && last*2 < first {
			out = append(out, fmt.Sprintf("Daily impressions fell from %d to %d over the period", first, last))
		}
	}
	return out
}

// Write renders rep to w.
func Write(w io.Writer, rep Report) error {
	var b strings.Builder
	a := rep.Analytics

	b.WriteString("AD PERFORMANCE REPORT\n")
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "Ad ID:      %d\n", rep.Ad.ID)
	fmt.Fprintf(&b, "Type:       %s\n", rep.Ad.AdType)
	fmt.Fprintf(&b, "Placement:  %s\n", rep.Ad.PlacementType)
	fmt.Fprintf(&b, "Status:     %s\n", rep.Ad.Status)
	fmt.Fprintf(&b, "Period:     %s\n", describeRange(rep.Range))
	fmt.Fprintf(&b, "Generated:  %s\n\n", rep.GeneratedAt.UTC().Format("2006-01-02 15:04:05"))

	b.WriteString("OVERALL\n")
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "Impressions:   %s\n", FormatNumber(a.TotalImpressions))
	fmt.Fprintf(&b, "Clicks:        %s\n", FormatNumber(a.TotalClicks))
	fmt.Fprintf(&b, "CTR:           %.2f%%\n", a.CTR*100)
	fmt.Fprintf(&b, "Unique users:  %s\n\n", FormatNumber(a.UniqueUsers))

	if len(a.DailyStats) > 0 {
		b.WriteString("DAILY IMPRESSIONS\n")
		b.WriteString(rule + "\n")
		for _, d := range a.DailyStats {
			fmt.Fprintf(&b, "%-10s | %11s\n", d.Date, FormatNumber(d.Impressions))
		}
		b.WriteString("\n")
	}

	if len(a.TopPlacements) > 0 {
		b.WriteString("TOP PLACEMENTS\n")
		b.WriteString(rule + "\n")
		for _, p := range a.TopPlacements {
			fmt.Fprintf(&b, "%-20s | %11s\n", p.PlacementCode, FormatNumber(p.Impressions))
		}
		b.WriteString("\n")
	}

	b.WriteString("INSIGHTS\n")
	b.WriteString(rule + "\n")
	for _, line := range Insights(a) {
		b.WriteString("- " + line + "\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func describeRange(r models.DateRange) string {
	switch {
	case r.Start == nil && r.End == nil:
		return "all time"
	case r.Start == nil:
		return "until " + r.End.UTC().Format(models.DayLayout)
	case r.End == nil:
		return "since " + r.Start.UTC().Format(models.DayLayout)
	default:
		return r.Start.UTC().Format(models.DayLayout) + " to " + r.End.UTC().Format(models.DayLayout)
	}
}

// FormatNumber adds thousands separators: 1234567 becomes "1,234,567".
func FormatNumber(n int64) string {
	str := strconv.FormatInt(n, 10)
	sign := ""
	if n < 0 {
		sign, str = "-", str[1:]
	}
	if len(str) <= 3 {
		return sign + str
	}

	var b strings.Builder
	for i, digit := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(digit)
	}
	return sign + b.String()
}

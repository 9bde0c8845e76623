package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/config"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/db"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/logic"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/observability"
)

var (
	adCount     = flag.Int("ads", 40, "number of ads to create")
	placements  = flag.String("placements", "homepage,sidebar,feed", "comma-separated placement codes")
	targetedPct = flag.Float64("targeted", 0.6, "share of ads that get targeting rules")
	seed        = flag.Int64("seed", time.Now().UnixNano(), "rng seed")
	migrateFlag = flag.Bool("migrate", true, "apply schema migrations before seeding")
)

var (
	adTypes = []string{models.AdTypeCourse, models.AdTypeEvent, models.AdTypeJob, models.AdTypePost, models.AdTypeExternal}
	topics  = []string{"programming", "design", "marketing", "data", "languages"}
	roles   = []string{"student", "instructor", "admin"}
	regions = []string{"SA", "EG", "AE", "US", "GB"}
)

func main() {
	flag.Parse()

	logger, err := observability.InitLoggerWithService("fake-data")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if *migrateFlag {
		if err := db.Migrate(cfg.PostgresDSN); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
	}
	pg, err := db.InitPostgres(ctx, cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pg.Close()

	r := rand.New(rand.NewSource(*seed))
	codes := splitCSV(*placements)
	if len(codes) == 0 {
		logger.Fatal("no placements given")
	}

	var withRules int
	for i := 0; i < *adCount; i++ {
		ad := fakeAd(r, codes[i%len(codes)], i)
		id, err := pg.InsertAd(ctx, ad)
		if err != nil {
			logger.Fatal("insert ad", zap.Int("index", i), zap.Error(err))
		}

		if r.Float64() >= *targetedPct {
			continue
		}
		rules := fakeRules(r)
		if res := logic.ValidateTargetingRules(rules); !res.Valid {
			logger.Warn("skipping invalid generated rules", zap.Int64("ad_id", id), zap.Strings("errors", res.Errors))
			continue
		}
		rules.AdID = id
		if err := pg.UpsertTargetingRules(ctx, *rules); err != nil {
			logger.Fatal("insert targeting rules", zap.Int64("ad_id", id), zap.Error(err))
		}
		withRules++
	}

	logger.Info("fake data inserted",
		zap.Int("ads", *adCount),
		zap.Int("targeted", withRules),
		zap.Strings("placements", codes),
		zap.Int64("seed", *seed))
}

func fakeAd(r *rand.Rand, placement string, i int) models.Ad {
	now := time.Now().UTC()
	adType := adTypes[r.Intn(len(adTypes))]
	topic := topics[r.Intn(len(topics))]

	ad := models.Ad{
		AdType:        adType,
		PlacementType: placement,
		Priority:      r.Intn(10),
		Status:        models.StatusActive,
		StartDate:     now.Add(-time.Duration(r.Intn(72)) * time.Hour),
		IsPaid:        r.Intn(2) == 0,
		Category:      topic,
		Titles: models.LocalizedText{
			"en": fmt.Sprintf("%s %s #%d", titleCase(topic), adType, i+1),
			"ar": fmt.Sprintf("إعلان %d", i+1),
		},
		Descriptions: models.LocalizedText{
			"en": fmt.Sprintf("Promoted %s about %s", adType, topic),
		},
		MediaURLs: models.LocalizedText{
			"en": fmt.Sprintf("https://cdn.example.com/ads/%d.png", i+1),
		},
	}
	if adType == models.AdTypeExternal {
		ad.TargetURL = fmt.Sprintf("https://partner.example.com/offer/%d", i+1)
	} else {
		id := int64(1 + r.Intn(500))
		ad.TargetType = adType
		ad.TargetID = &id
	}
	// a few ads outside their window or paused, so filtering is visible
	switch r.Intn(10) {
	case 0:
		ad.Status = models.StatusPaused
	case 1:
		end := now.Add(-time.Hour)
		ad.StartDate = end.Add(-48 * time.Hour)
		ad.EndDate = &end
	case 2:
		end := now.Add(time.Duration(1+r.Intn(14)) * 24 * time.Hour)
		ad.EndDate = &end
	}
	return ad
}

func fakeRules(r *rand.Rand) *models.TargetingRules {
	rules := &models.TargetingRules{}
	if r.Intn(2) == 0 {
		rules.Roles = []string{roles[r.Intn(len(roles))]}
	}
	if r.Intn(4) == 0 {
		rules.SubscriptionPlans = []int64{int64(1 + r.Intn(3))}
	}
	if r.Intn(3) == 0 {
		lo := 16 + r.Intn(15)
		hi := lo + 5 + r.Intn(30)
		rules.AgeRange = &models.AgeRange{Min: &lo, Max: &hi}
	}
	if r.Intn(3) == 0 {
		rules.Locations = []string{regions[r.Intn(len(regions))], regions[r.Intn(len(regions))]}
	}
	if r.Intn(2) == 0 {
		rules.Interests = []string{topics[r.Intn(len(topics))]}
	}
	return rules
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// services/scheduler.go
package services

import (
	"encoding/json"
	"log"
	"time"

	"casino-live-system/utils"

	"github.com/go-co-op/gocron/v2"
)

// StartDailyJobs runs the midnight housekeeping: usage counters reset at
// 00:00 and yesterday's roulette results are exported to R2 shortly after.
func StartDailyJobs(usage *UsageService, roulette *RouletteService) {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Midnight: wipe yesterday's usage counters
	_, _ = sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 0, 0))),
		gocron.NewTask(func() {
			day := time.Now().Format("2006-01-02")
			removed, err := usage.ResetBefore(day)
			if err != nil {
				log.Printf("[Scheduler] Usage reset failed: %v", err)
				return
			}
			log.Printf("✅ [Scheduler] Reset %d daily usage counters", removed)
		}),
	)

	// 00:10: export yesterday's results (after the feed has settled)
	_, _ = sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 10, 0))),
		gocron.NewTask(func() {
			now := time.Now()
			to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
			from := to.AddDate(0, 0, -1)

			results, err := roulette.ResultsBetween(from, to)
			if err != nil {
				log.Printf("[Scheduler] Export query failed: %v", err)
				return
			}
			if len(results) == 0 {
				log.Printf("[Scheduler] Nothing to export for %s", from.Format("2006-01-02"))
				return
			}

			payload, err := json.Marshal(results)
			if err != nil {
				log.Printf("[Scheduler] Export encode failed: %v", err)
				return
			}

			key := "exports/roulette/" + from.Format("2006-01-02") + ".json"
			url, err := utils.UploadBytesToR2(key, "application/json", payload)
			if err != nil {
				log.Printf("[Scheduler] Export upload failed: %v", err)
				return
			}
			log.Printf("✅ [Scheduler] Exported %d results to %s", len(results), url)
		}),
	)
}

// services/roulette_service.go
package services

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"casino-live-system/feed"
	"casino-live-system/models"
	"casino-live-system/realtime"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// statsSampleSize is how many stored results feed the hot/cold computation.
const statsSampleSize = 500

// RouletteChannel names the realtime hub channel for one table's results.
func RouletteChannel(tableKey string) string {
	return "roulette:" + tableKey
}

// RouletteService persists feed results and serves them to clients, both as
// REST snapshots and as a live SSE stream bridged from the realtime hub.
type RouletteService struct {
	DB  *gorm.DB
	Hub *realtime.Hub
}

func NewRouletteService(db *gorm.DB, hub *realtime.Hub) *RouletteService {
	return &RouletteService{DB: db, Hub: hub}
}

// ActiveTables lists the tables the feed worker should subscribe to.
func (s *RouletteService) ActiveTables() ([]models.RouletteTable, error) {
	var tables []models.RouletteTable
	if err := s.DB.Where("active = ?", true).Find(&tables).Error; err != nil {
		return nil, err
	}
	return tables, nil
}

// IngestResult stores one feed result unless the newest stored row for the
// table carries the same feed timestamp. The feed re-sends overlapping
// snapshots, so this is the at-least-once dedup boundary on the durable
// side. Returns whether the result was new.
func (s *RouletteService) IngestResult(tableKey string, ev feed.ResultEvent) (bool, error) {
	var last models.RouletteResult
	err := s.DB.
		Where("table_key = ?", tableKey).
		Order("created_at DESC").
		First(&last).Error
	if err == nil && last.ResultTime == ev.Time {
		return false, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("lookup latest result for table %s: %w", tableKey, err)
	}

	row := models.RouletteResult{
		ID:         uuid.NewString(),
		TableKey:   tableKey,
		Result:     ev.Result,
		ResultTime: ev.Time,
	}
	if err := s.DB.Create(&row).Error; err != nil {
		return false, fmt.Errorf("store result for table %s: %w", tableKey, err)
	}

	if s.Hub != nil {
		s.Hub.Publish(realtime.Snapshot{
			Table:     RouletteChannel(tableKey),
			ID:        row.ID,
			UpdatedAt: row.CreatedAt,
			Row:       row,
		})
	}
	return true, nil
}

// LatestResults returns the newest results for a table, newest first,
// capped at the feed window size.
func (s *RouletteService) LatestResults(tableKey string, limit int) ([]models.RouletteResult, error) {
	if limit <= 0 || limit > feed.WindowSize {
		limit = feed.WindowSize
	}
	var results []models.RouletteResult
	err := s.DB.
		Where("table_key = ?", tableKey).
		Order("created_at DESC").
		Limit(limit).
		Find(&results).Error
	return results, err
}

// ResultsBetween returns a day's worth of results for the export job.
func (s *RouletteService) ResultsBetween(from, to time.Time) ([]models.RouletteResult, error) {
	var results []models.RouletteResult
	err := s.DB.
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("created_at ASC").
		Find(&results).Error
	return results, err
}

// NumberFrequency is one pocket's hit count in the sampled history.
type NumberFrequency struct {
	Number string `json:"number"`
	Count  int    `json:"count"`
}

// TableStats is the hot/cold overlay data for one table.
type TableStats struct {
	TableKey string            `json:"table_key"`
	Sample   int               `json:"sample"`
	Hot      []NumberFrequency `json:"hot"`
	Cold     []NumberFrequency `json:"cold"`
}

// Stats computes hot/cold pockets over the recent sample. Pockets that never
// hit count as zero, so a cold list is meaningful even on thin history.
func (s *RouletteService) Stats(tableKey string) (*TableStats, error) {
	var results []models.RouletteResult
	err := s.DB.
		Where("table_key = ?", tableKey).
		Order("created_at DESC").
		Limit(statsSampleSize).
		Find(&results).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, 37)
	for n := 0; n <= 36; n++ {
		counts[fmt.Sprintf("%d", n)] = 0
	}
	for _, r := range results {
		counts[r.Result]++
	}

	freqs := make([]NumberFrequency, 0, len(counts))
	for number, count := range counts {
		freqs = append(freqs, NumberFrequency{Number: number, Count: count})
	}
	sort.Slice(freqs, func(i, j int) bool {
		if freqs[i].Count != freqs[j].Count {
			return freqs[i].Count > freqs[j].Count
		}
		return freqs[i].Number < freqs[j].Number
	})

	stats := &TableStats{TableKey: tableKey, Sample: len(results)}
	if len(freqs) >= 5 {
		stats.Hot = freqs[:5]
		cold := make([]NumberFrequency, 5)
		copy(cold, freqs[len(freqs)-5:])
		stats.Cold = cold
	}
	return stats, nil
}

// ---- Fiber handlers ----

// GetTables lists the active tables the frontend can follow.
func (s *RouletteService) GetTables(c *fiber.Ctx) error {
	tables, err := s.ActiveTables()
	if err != nil {
		log.Printf("[Roulette] Failed to load tables: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	return c.JSON(tables)
}

// GetResults returns the latest results for a table.
func (s *RouletteService) GetResults(c *fiber.Ctx) error {
	results, err := s.LatestResults(c.Params("table"), c.QueryInt("limit"))
	if err != nil {
		log.Printf("[Roulette] Failed to load results for table %s: %v", c.Params("table"), err)
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	return c.JSON(fiber.Map{"table_key": c.Params("table"), "results": results})
}

// GetStats returns hot/cold frequencies for a table.
func (s *RouletteService) GetStats(c *fiber.Ctx) error {
	stats, err := s.Stats(c.Params("table"))
	if err != nil {
		log.Printf("[Roulette] Failed to compute stats for table %s: %v", c.Params("table"), err)
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	return c.JSON(stats)
}

// StreamResults bridges the realtime hub to an SSE stream of live results
// for one table.
func (s *RouletteService) StreamResults(c *fiber.Ctx) error {
	tableKey := c.Params("table")

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	sub := s.Hub.Subscribe(RouletteChannel(tableKey))

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer sub.Close()

		keepalive := time.NewTicker(15 * time.Second)
		defer keepalive.Stop()

		// Initial keepalive (comment event)
		w.WriteString(":\n\n")
		w.Flush()

		for {
			select {
			case snap := <-sub.C:
				payload, _ := json.Marshal(snap.Row)
				fmt.Fprintf(w, "event: result\ndata: %s\n\n", payload)
				if err := w.Flush(); err != nil {
					// Client disconnected
					return
				}
			case <-keepalive.C:
				w.WriteString(":\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			case <-c.Context().Done():
				return
			}
		}
	})

	return nil
}

// StreamMatch does the same bridge for one game's match updates, so an
// opponent observes moves as they land.
func (s *MatchService) StreamMatch(c *fiber.Ctx) error {
	game := c.Params("game")
	matchID := c.Params("id")

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	sub := s.Hub.Subscribe(MatchChannel(game))

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer sub.Close()

		keepalive := time.NewTicker(15 * time.Second)
		defer keepalive.Stop()

		w.WriteString(":\n\n")
		w.Flush()

		for {
			select {
			case snap := <-sub.C:
				if snap.ID != matchID {
					continue
				}
				payload, _ := json.Marshal(snap.Row)
				fmt.Fprintf(w, "event: match\ndata: %s\n\n", payload)
				if err := w.Flush(); err != nil {
					return
				}
			case <-keepalive.C:
				w.WriteString(":\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			case <-c.Context().Done():
				return
			}
		}
	})

	return nil
}

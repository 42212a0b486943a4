package workers

import (
	"context"
	"log"
	"os"
	"time"

	"casino-live-system/feed"
	"casino-live-system/models"
	"casino-live-system/services"

	"github.com/sirupsen/logrus"
)

// healthInterval is how often the worker checks each client and nudges
// stalled ones back to life.
const healthInterval = 60 * time.Second

// FeedWorker owns one feed client per active roulette table and pumps their
// results into the roulette service. Clients reconnect on their own; the
// worker only supervises and shuts them down.
type FeedWorker struct {
	URL      string
	Roulette *services.RouletteService
	Log      *logrus.Logger

	clients map[string]*feed.Client
}

func NewFeedWorker(roulette *services.RouletteService, logger *logrus.Logger) *FeedWorker {
	url := os.Getenv("FEED_WS_URL")
	if url == "" {
		log.Fatal("FEED_WS_URL environment variable is required")
	}
	return &FeedWorker{
		URL:      url,
		Roulette: roulette,
		Log:      logger,
		clients:  make(map[string]*feed.Client),
	}
}

type subscribeMessage struct {
	Type     string   `json:"type"`
	CasinoID string   `json:"casinoId"`
	Currency string   `json:"currency"`
	Key      []string `json:"key"`
}

// Run subscribes to every active table and blocks until ctx is cancelled.
func (w *FeedWorker) Run(ctx context.Context) {
	tables, err := w.Roulette.ActiveTables()
	if err != nil {
		w.Log.WithError(err).Error("feed worker: failed to load tables")
		return
	}
	if len(tables) == 0 {
		w.Log.Warn("feed worker: no active tables, nothing to subscribe")
		return
	}

	for _, table := range tables {
		w.clients[table.TableKey] = w.startClient(table)
	}
	w.Log.WithField("tables", len(w.clients)).Info("feed worker started")

	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for key, client := range w.clients {
				client.Close()
				w.Log.WithField("table", key).Info("feed client closed")
			}
			return
		case <-ticker.C:
			// A client that exhausted its retries stays closed until nudged.
			for key, client := range w.clients {
				if !client.Connected() {
					w.Log.WithField("table", key).Warn("feed client down, waking up")
					client.WakeUp()
				}
			}
		}
	}
}

func (w *FeedWorker) startClient(table models.RouletteTable) *feed.Client {
	key := table.TableKey
	client := feed.NewClient(w.URL, feed.Options{
		Unbounded: true,
		Logger:    w.Log,
	})

	client.OnConnectionChange(func(connected bool) {
		w.Log.WithFields(logrus.Fields{
			"table":     key,
			"connected": connected,
		}).Info("feed connection state changed")
	})

	client.OnResult(func(ev feed.ResultEvent) {
		stored, err := w.Roulette.IngestResult(key, ev)
		if err != nil {
			w.Log.WithError(err).WithField("table", key).Error("failed to ingest result")
			return
		}
		if stored {
			w.Log.WithFields(logrus.Fields{
				"table":  key,
				"result": ev.Result,
			}).Debug("result stored")
		}
	})

	if err := client.Connect(subscribeMessage{
		Type:     "subscribe",
		CasinoID: table.CasinoID,
		Currency: table.Currency,
		Key:      []string{key},
	}); err != nil {
		// The client keeps retrying on its own; just note the first failure.
		w.Log.WithError(err).WithField("table", key).Warn("initial feed connect failed")
	}
	return client
}

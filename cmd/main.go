// Package main is the entry point for the guide monitor.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/savid/tvguide/internal/config"
	"github.com/savid/tvguide/internal/guide"
	"github.com/savid/tvguide/internal/playlist"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfg = config.DefaultConfig()
	log = logrus.New()
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tvguide",
		Short: "Live-TV program guide monitor",
		Long: `Parses an M3U playlist, keeps its XMLTV guide fresh in the background
and reports what is airing now and next per channel.`,
		RunE: run,
	}

	rootCmd.Flags().StringVar(&cfg.PlaylistSource, "playlist", "", "M3U playlist path or URL (required)")
	rootCmd.Flags().StringVar(&cfg.GuideURL, "guide", "", "XMLTV guide URL (defaults to the playlist's x-tvg-url)")
	rootCmd.Flags().BoolVar(&cfg.GuideEnabled, "guide-enabled", cfg.GuideEnabled, "Enable guide fetching")
	rootCmd.Flags().DurationVar(&cfg.RefreshInterval, "refresh", cfg.RefreshInterval, "Guide refresh interval")
	rootCmd.Flags().IntVar(&cfg.ReportChannels, "channels", cfg.ReportChannels, "Number of channels to report")
	rootCmd.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	if err := rootCmd.MarkFlagRequired("playlist"); err != nil {
		log.WithError(err).Fatal("Failed to mark playlist flag as required")
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pl, err := loadPlaylist(ctx, cfg.PlaylistSource)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"channels":   len(pl.Channels),
		"categories": len(playlist.Categories(pl.Channels)),
	}).Info("Playlist loaded")

	guideURL := cfg.GuideURL
	if guideURL == "" {
		guideURL = pl.GuideURL
	}

	cache := guide.NewCache(log, guide.NewResolver(nil), cfg.RefreshInterval)
	cache.Configure(guideURL, cfg.GuideEnabled && guideURL != "")

	if err := cache.Start(ctx); err != nil {
		return err
	}
	defer cache.Stop()

	go reportLoop(ctx, cache, pl.Channels)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Received shutdown signal")

	return nil
}

func loadPlaylist(ctx context.Context, source string) (*playlist.Playlist, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return playlist.ParseURL(ctx, nil, source)
	}

	return playlist.ParseFile(source)
}

// reportLoop logs now/next for the first configured channels once per minute.
func reportLoop(ctx context.Context, cache *guide.Cache, channels []playlist.Channel) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	report(cache, channels)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report(cache, channels)
		}
	}
}

func report(cache *guide.Cache, channels []playlist.Channel) {
	status := cache.Status()

	log.WithFields(logrus.Fields{
		"channels":   status.ChannelCount,
		"programmes": status.ProgramCount,
		"refreshing": status.Refreshing,
	}).Info("Guide status")

	if status.LastError != nil {
		log.WithError(status.LastError).Warn("Last guide refresh failed")
	}

	now := time.Now()
	limit := cfg.ReportChannels

	if limit > len(channels) {
		limit = len(channels)
	}

	for _, ch := range channels[:limit] {
		result := cache.Resolve(ch, now)

		entry := log.WithFields(logrus.Fields{
			"channel": ch.Name,
			"source":  result.Source.String(),
		})

		if result.Current == nil {
			entry.Info("Live")

			continue
		}

		fields := logrus.Fields{
			"now":      result.Current.Title,
			"progress": fmt.Sprintf("%.0f%%", result.Progress*100),
		}

		if result.Next != nil {
			fields["next"] = result.Next.Title
			fields["next_at"] = result.Next.Start.Format("15:04")
		}

		entry.WithFields(fields).Info("Airing")
	}
}

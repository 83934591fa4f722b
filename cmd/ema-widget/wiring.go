package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	widget "github.com/koscakluka/ema-widget/core"
	"github.com/koscakluka/ema-widget/core/config"
	"github.com/koscakluka/ema-widget/core/frames"
	"github.com/koscakluka/ema-widget/core/history"
	"github.com/koscakluka/ema-widget/core/playback"
	"github.com/koscakluka/ema-widget/core/sanitize"
	"github.com/koscakluka/ema-widget/core/transport"
	"github.com/koscakluka/ema-widget/core/transport/httpstream"
	"github.com/koscakluka/ema-widget/core/transport/wsstream"
)

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func credentials(cfg config.Config) transport.Credentials {
	return transport.Credentials{
		Token:      cfg.Token,
		ProjectID:  cfg.ProjectID,
		ServiceKey: cfg.ServiceKey,
	}
}

func newOpener(cfg config.Config) (transport.Opener, error) {
	endpoints := transport.Endpoints(cfg.Endpoints)

	switch cfg.Transport {
	case "", "http":
		return httpstream.New(cfg.BaseURL,
			httpstream.WithCredentials(credentials(cfg)),
			httpstream.WithEndpoints(endpoints),
			httpstream.WithMode(httpstream.Mode(cfg.StreamMode)),
		), nil
	case "websocket":
		// Each socket message is one frame, so it has to end the way the
		// configured framing ends a frame.
		delimiter := "\n"
		if cfg.Framing == "event_stream" {
			delimiter = "\n\n"
		}
		return wsstream.New(cfg.BaseURL,
			wsstream.WithCredentials(credentials(cfg)),
			wsstream.WithEndpoints(endpoints),
			wsstream.WithMessageDelimiter(delimiter),
		), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func newPacing(cfg config.Playback) (playback.Pacing, error) {
	pacing, err := playback.PacingByName(cfg.Policy)
	if err != nil {
		return nil, err
	}
	if _, ok := pacing.(playback.HumanizedPacing); ok {
		return playback.HumanizedPacing{
			MinDelay:      cfg.MinDelay,
			MaxDelay:      cfg.MaxDelay,
			DoubleChance:  cfg.DoubleChance,
			SpacePause:    cfg.SpacePause,
			SentencePause: cfg.SentencePause,
		}, nil
	}
	return pacing, nil
}

func newScheduler(cfg config.Playback) (*playback.Scheduler, error) {
	pacing, err := newPacing(cfg)
	if err != nil {
		return nil, err
	}
	opts := []playback.SchedulerOption{playback.WithPacing(pacing)}
	if cfg.Seed != 0 {
		opts = append(opts, playback.WithSeed(cfg.Seed))
	}
	return playback.NewScheduler(opts...), nil
}

// newWidget wires a widget from cfg. opts are applied last and win.
func newWidget(ctx context.Context, cfg config.Config, opts ...widget.Option) (*widget.Widget, error) {
	opener, err := newOpener(cfg)
	if err != nil {
		return nil, err
	}
	framing, err := frames.FramingByName(cfg.Framing)
	if err != nil {
		return nil, err
	}
	trailing, err := frames.TrailingPolicyByName(cfg.TrailingFrames)
	if err != nil {
		return nil, err
	}
	scheduler, err := newScheduler(cfg.Playback)
	if err != nil {
		return nil, err
	}

	options := []widget.Option{
		widget.WithBaseContext(ctx),
		widget.WithMode(cfg.DefaultMode),
		widget.WithFraming(framing),
		widget.WithTrailingPolicy(trailing),
		widget.WithScheduler(scheduler),
		widget.WithPlaybackStart(widget.PlaybackStart(cfg.Playback.Start)),
		widget.WithSanitizer(sanitize.New()),
		widget.WithHistory(newHistory(cfg)),
		widget.WithPendingStatus(cfg.PendingStatus),
		widget.WithOnFrameDropped(func(err *frames.ParseError) {
			log.Debug().Err(err).Msg("dropped malformed frame")
		}),
	}
	return widget.New(opener, append(options, opts...)...), nil
}

func newHistory(cfg config.Config) *history.Client {
	return history.New(cfg.BaseURL,
		history.WithCredentials(credentials(cfg)),
		history.WithPath(cfg.HistoryPath),
	)
}

//go:build linux && cgo

package call

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// NewEngine builds the pion stack with VP8+Opus encoders and camera/mic
// capture via V4L2 and malgo.
func NewEngine(logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	selector.Populate(mediaEngine)

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	// The default disconnectedTimeout of 5s terminates calls on brief NAT
	// hiccups; give ICE time to recover.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	return &Engine{
		api:    api,
		logger: logger,
		acquire: func(pc *webrtc.PeerConnection, video bool, logger *zap.Logger) (func(), error) {
			return captureLocalMedia(pc, selector, video, logger)
		},
	}, nil
}

// captureLocalMedia attaches camera/mic tracks to pc. GetUserMedia fails as
// a unit when either requested track cannot open, so degrade per attempt: a
// busy microphone must not take the camera down with it.
func captureLocalMedia(pc *webrtc.PeerConnection, selector *mediadevices.CodecSelector, video bool, logger *zap.Logger) (func(), error) {
	type attempt struct {
		video bool
		audio bool
		label string
	}
	attempts := []attempt{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	}
	if !video {
		attempts = []attempt{{false, true, "audio-only"}}
	}

	var lastErr error
	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{Codec: selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Raw formats only. Some cameras expose an MJPEG node with
				// malformed frames that poisons the VP8 encoder.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			logger.Warn("media capture attempt failed",
				zap.String("attempt", a.label), zap.Error(err))
			lastErr = err
			continue
		}

		tracks := stream.GetTracks()
		for _, track := range tracks {
			track.OnEnded(func(err error) {
				if err != nil {
					logger.Warn("local track ended", zap.Error(err))
				}
			})
			if _, err := pc.AddTrack(track); err != nil {
				logger.Warn("add track failed", zap.Error(err))
			}
		}
		logger.Info("local media captured",
			zap.String("attempt", a.label), zap.Int("tracks", len(tracks)))
		return func() {
			for _, t := range tracks {
				t.Close()
			}
		}, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no media devices available")
	}
	return nil, lastErr
}

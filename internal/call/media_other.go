//go:build !linux || !cgo

package call

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// NewEngine builds a receive-only pion stack. Camera/mic capture via
// pion/mediadevices needs the Linux V4L2/malgo drivers; elsewhere calls
// proceed without local tracks.
func NewEngine(logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	)

	return &Engine{
		api:    api,
		logger: logger,
		acquire: func(pc *webrtc.PeerConnection, _ bool, logger *zap.Logger) (func(), error) {
			addRecvOnlyTransceivers(pc, logger)
			return func() {}, nil
		},
	}, nil
}

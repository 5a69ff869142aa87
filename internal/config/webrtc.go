package config

import (
	"strings"

	"github.com/pion/logging"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
)

const (
	frameMarking = "urn:ietf:params:rtp-hdrext:framemarking"
)

type WebRTCConfig struct {
	Configuration webrtc.Configuration
	SettingEngine webrtc.SettingEngine
	Publisher     DirectionConfig
	Subscriber    DirectionConfig
}

type RTPHeaderExtensionConfig struct {
	Audio []string
	Video []string
}

type RTCPFeedbackConfig struct {
	Audio []webrtc.RTCPFeedback
	Video []webrtc.RTCPFeedback
}

type DirectionConfig struct {
	RTPHeaderExtension RTPHeaderExtensionConfig
	RTCPFeedback       RTCPFeedbackConfig
}

// NewWebRTCConfig builds peer connection settings shared by every link of a client.
// loggerFactory may be nil, pion's default logger is used then.
func NewWebRTCConfig(config *Config, loggerFactory logging.LoggerFactory) (*WebRTCConfig, error) {
	c := webrtc.Configuration{
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
		ICEServers:   iceServers(config.RTC),
	}
	s := webrtc.SettingEngine{
		LoggerFactory: loggerFactory,
	}

	networkTypes := make([]webrtc.NetworkType, 0, 4)
	// Use only UDP
	networkTypes = append(networkTypes,
		webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6,
	)
	if err := s.SetEphemeralUDPPortRange(uint16(config.RTC.ICEPortRangeStart), uint16(config.RTC.ICEPortRangeEnd)); err != nil {
		return nil, err
	}
	s.SetNetworkTypes(networkTypes)

	// every link both sends and receives, so one direction config serves both sides
	publisherConfig := DirectionConfig{
		RTPHeaderExtension: RTPHeaderExtensionConfig{
			Audio: []string{
				sdp.SDESMidURI,
				sdp.SDESRTPStreamIDURI,
				sdp.AudioLevelURI,
			},
			Video: []string{
				sdp.SDESMidURI,
				sdp.SDESRTPStreamIDURI,
				sdp.TransportCCURI,
				frameMarking,
			},
		},
		RTCPFeedback: RTCPFeedbackConfig{
			Video: []webrtc.RTCPFeedback{
				{Type: webrtc.TypeRTCPFBGoogREMB},
				{Type: webrtc.TypeRTCPFBTransportCC},
				{Type: webrtc.TypeRTCPFBCCM, Parameter: "fir"},
				{Type: webrtc.TypeRTCPFBNACK},
				{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"},
			},
		},
	}

	subscriberConfig := DirectionConfig{
		RTCPFeedback: RTCPFeedbackConfig{
			Video: []webrtc.RTCPFeedback{
				{Type: webrtc.TypeRTCPFBCCM, Parameter: "fir"},
				{Type: webrtc.TypeRTCPFBNACK},
				{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"},
			},
		},
	}

	return &WebRTCConfig{
		Configuration: c,
		SettingEngine: s,
		Publisher:     publisherConfig,
		Subscriber:    subscriberConfig,
	}, nil
}

func iceServers(conf RTCConfig) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, 2)

	if len(conf.STUNServers) > 0 {
		urls := make([]string, 0, len(conf.STUNServers))
		for _, s := range conf.STUNServers {
			urls = append(urls, withScheme("stun:", s))
		}
		servers = append(servers, webrtc.ICEServer{URLs: urls})
	}

	if len(conf.TURNServers) > 0 {
		urls := make([]string, 0, len(conf.TURNServers))
		for _, s := range conf.TURNServers {
			urls = append(urls, withScheme("turn:", s))
		}
		servers = append(servers, webrtc.ICEServer{
			URLs:           urls,
			Username:       conf.TURNUsername,
			Credential:     conf.TURNPassword,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}

	return servers
}

func withScheme(scheme, addr string) string {
	if strings.HasPrefix(addr, scheme) || (scheme == "turn:" && strings.HasPrefix(addr, "turns:")) {
		return addr
	}
	return scheme + addr
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Settings configures a signaling peer.
type Settings struct {
	Signaling SignalingSettings `json:"signaling"`
	RTC       RTCSettings       `json:"rtc"`
}

type SignalingSettings struct {
	// Server is the relay websocket URL, e.g. ws://127.0.0.1:8080/ws
	Server string `json:"server"`
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

// RTCSettings describes the ICE server handed to the RTC engine.
type RTCSettings struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// SettingsPatch is a partial Settings: nil fields are left untouched by Apply.
type SettingsPatch struct {
	Signaling *SignalingSettingsPatch `json:"signaling,omitempty"`
	RTC       *RTCSettingsPatch       `json:"rtc,omitempty"`
}

type SignalingSettingsPatch struct {
	Server *string `json:"server,omitempty"`
	ID     *string `json:"id,omitempty"`
	Secret *string `json:"secret,omitempty"`
}

type RTCSettingsPatch struct {
	URLs       *[]string `json:"urls,omitempty"`
	Username   *string   `json:"username,omitempty"`
	Credential *string   `json:"credential,omitempty"`
}

func DefaultSettings() Settings {
	return Settings{
		Signaling: SignalingSettings{
			Server: "ws://127.0.0.1:8080/ws",
			Secret: "test",
		},
		RTC: RTCSettings{
			URLs: []string{"stun:stun.l.google.com:19302"},
		},
	}
}

// Apply returns s with every non-nil field of p copied over.
func (s Settings) Apply(p SettingsPatch) Settings {
	if sp := p.Signaling; sp != nil {
		if sp.Server != nil {
			s.Signaling.Server = *sp.Server
		}
		if sp.ID != nil {
			s.Signaling.ID = *sp.ID
		}
		if sp.Secret != nil {
			s.Signaling.Secret = *sp.Secret
		}
	}
	if rp := p.RTC; rp != nil {
		if rp.URLs != nil {
			s.RTC.URLs = append([]string(nil), (*rp.URLs)...)
		}
		if rp.Username != nil {
			s.RTC.Username = *rp.Username
		}
		if rp.Credential != nil {
			s.RTC.Credential = *rp.Credential
		}
	}
	return s
}

// EnvPatch collects peer settings overrides from the environment.
func EnvPatch() SettingsPatch {
	var p SettingsPatch
	sig := SignalingSettingsPatch{
		Server: lookupEnv("SIGNALING_SERVER"),
		ID:     lookupEnv("SIGNALING_ID"),
		Secret: lookupEnv("SIGNALING_SECRET"),
	}
	if sig != (SignalingSettingsPatch{}) {
		p.Signaling = &sig
	}

	rtc := RTCSettingsPatch{
		Username:   lookupEnv("ICE_USERNAME"),
		Credential: lookupEnv("ICE_CREDENTIAL"),
	}
	if urls := lookupEnv("ICE_URLS"); urls != nil {
		list := splitList(*urls)
		rtc.URLs = &list
	}
	if rtc != (RTCSettingsPatch{}) {
		p.RTC = &rtc
	}
	return p
}

// ReadSettingsFile decodes a JSON settings patch from path.
func ReadSettingsFile(path string) (SettingsPatch, error) {
	var p SettingsPatch
	data, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}
	return p, nil
}

// LoadSettings layers defaults, the optional settings file and the
// environment, in that order.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	if path != "" {
		p, err := ReadSettingsFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return s, err
		}
		s = s.Apply(p)
	}
	s = s.Apply(EnvPatch())
	if s.Signaling.ID == "" {
		return s, errors.New("signaling id is required")
	}
	return s, nil
}

func ParseLogLevel(s string) (logrus.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	case "fatal":
		return logrus.FatalLevel, nil
	case "panic", "critical":
		return logrus.PanicLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("invalid log level: %q", s)
	}
}

func lookupEnv(key string) *string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return &v
	}
	return nil
}
